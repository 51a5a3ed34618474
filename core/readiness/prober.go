// Package readiness probes freshly started instances until their
// administrative channel answers.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/executor"
)

// ProbeCommand is the no-op command used to test reachability
const ProbeCommand = "echo 'SSH Ready'"

// Prober checks reachability by running a trivial remote command
type Prober struct {
	exec         executor.RemoteExec
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewProber creates a prober. probeTimeout bounds each single attempt.
func NewProber(exec executor.RemoteExec, probeTimeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{exec: exec, probeTimeout: probeTimeout, logger: logger}
}

// WaitUntilReachable makes at most maxAttempts probe attempts, interval
// apart, and returns nil on the first success. Failed attempts are logged
// and counted. There is no wait after the final attempt.
func (p *Prober) WaitUntilReachable(ctx context.Context, address string, maxAttempts int, interval time.Duration) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.probe(ctx, address)
		if err == nil {
			p.logger.Info("instance reachable", "address", address, "attempt", attempt)
			return nil
		}
		p.logger.Info("instance not reachable yet",
			"address", address, "attempt", attempt, "maxAttempts", maxAttempts, "error", err)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return apperrors.Timeout("readiness",
		fmt.Sprintf("%s not reachable after %d attempts", address, maxAttempts))
}

func (p *Prober) probe(ctx context.Context, address string) error {
	if p.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.probeTimeout)
		defer cancel()
	}

	res, err := p.exec.Run(ctx, address, ProbeCommand)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("probe exited with status %d", res.ExitCode)
	}
	return nil
}
