package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	defaultSSHPort     = "22"
	defaultDialTimeout = 10 * time.Second
)

// ExecResult is the outcome of one remote command
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RemoteExec runs shell commands on a remote host over the administrative
// channel. A non-zero exit status is reported in ExecResult, not as an error;
// errors are transport failures only.
type RemoteExec interface {
	Run(ctx context.Context, host, command string) (*ExecResult, error)
}

// SSHClient handles SSH connections to provisioned instances.
// A connection is opened per command.
type SSHClient struct {
	config      *ssh.ClientConfig
	dialTimeout time.Duration
}

// NewSSHClient creates a new SSH client authenticating with privateKey
func NewSSHClient(privateKey []byte, user string) (*SSHClient, error) {
	if user == "" {
		return nil, fmt.Errorf("ssh user cannot be empty")
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &SSHClient{
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // instances are created and replaced by us
			Timeout:         defaultDialTimeout,
		},
		dialTimeout: defaultDialTimeout,
	}, nil
}

// WithDialTimeout overrides the TCP and handshake timeout
func (sc *SSHClient) WithDialTimeout(d time.Duration) *SSHClient {
	sc.dialTimeout = d
	sc.config.Timeout = d
	return sc
}

// Run executes command on host. host may carry a port; 22 is assumed otherwise.
func (sc *SSHClient) Run(ctx context.Context, host, command string) (*ExecResult, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, defaultSSHPort)
	}

	client, err := sc.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH session on %s: %w", addr, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	result := &ExecResult{}
	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("command on %s interrupted: %w", addr, ctxErr)
			}
			return nil, fmt.Errorf("command failed on %s: %w", addr, err)
		}
		result.ExitCode = exitErr.ExitStatus()
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

func (sc *SSHClient) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: sc.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if sc.dialTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(sc.dialTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sc.config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
