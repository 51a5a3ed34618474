package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// sinkBuffer is how many lines may wait for delivery before new ones are dropped
const sinkBuffer = 512

// LogSink forwards job log lines to a remote log API. Lines queued with
// Post are delivered in order by one background sender.
type LogSink struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan logEntry
	done   chan struct{}
}

type logEntry struct {
	Message string `json:"message"`
	ModelID string `json:"model_id"`
}

// NewLogSink creates a sink posting to endpoint. Returns nil when endpoint is empty.
func NewLogSink(endpoint string, timeout time.Duration) *LogSink {
	if endpoint == "" {
		return nil
	}
	s := &LogSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   slog.Default(),
		queue:    make(chan logEntry, sinkBuffer),
		done:     make(chan struct{}),
	}
	go s.deliver()
	return s
}

// Post queues one log line without waiting for the remote API. It reports
// false when the buffer is full or the sink is closed and the line was dropped.
func (s *LogSink) Post(modelID, message string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- logEntry{Message: message, ModelID: modelID}:
		return true
	default:
		return false
	}
}

// Close stops accepting lines and waits until queued ones are delivered
// or ctx ends.
func (s *LogSink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LogSink) deliver() {
	defer close(s.done)
	for entry := range s.queue {
		if err := s.Send(context.Background(), entry.ModelID, entry.Message); err != nil {
			s.logger.Warn("failed to forward log line", "modelId", entry.ModelID, "error", err)
		}
	}
}

// Send posts one log line for a model and waits for the response
func (s *LogSink) Send(ctx context.Context, modelID, message string) error {
	body, err := json.Marshal(logEntry{Message: message, ModelID: modelID})
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send log entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("log API returned status %d", resp.StatusCode)
	}
	return nil
}
