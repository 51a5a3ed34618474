// Package notifier posts job completion and failure callbacks to the
// caller's endpoints.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/models"
)

// Endpoints are the callback targets. Jobs whose repository is
// AppRepository use the App variants.
type Endpoints struct {
	Completed     string
	Failed        string
	CompletedApp  string
	FailedApp     string
	AppRepository string
}

// Notifier delivers callbacks over HTTP
type Notifier struct {
	endpoints Endpoints
	client    *http.Client
	logger    *slog.Logger
}

// New creates a new notifier
func New(endpoints Endpoints, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// CompletedURL returns the completion endpoint for job
func (n *Notifier) CompletedURL(job *models.Job) string {
	if n.isApp(job) {
		return n.endpoints.CompletedApp
	}
	return n.endpoints.Completed
}

// FailedURL returns the failure endpoint for job
func (n *Notifier) FailedURL(job *models.Job) string {
	if n.isApp(job) {
		return n.endpoints.FailedApp
	}
	return n.endpoints.Failed
}

func (n *Notifier) isApp(job *models.Job) bool {
	return n.endpoints.AppRepository != "" && job.ModelRepositoryName == n.endpoints.AppRepository
}

// Completed posts the success payload for a finished run
func (n *Notifier) Completed(ctx context.Context, job *models.Job, result *models.Result) error {
	body, err := jobPayload(job)
	if err != nil {
		return apperrors.CallbackDelivery(n.CompletedURL(job), err)
	}
	body["failed"] = false
	body["status"] = CompletionStatus(job.Action)
	body["instanceId"] = result.InstanceID
	body["publicIp"] = result.PublicIP
	body["output"] = result.Output
	body["sessionToken"] = result.SessionToken
	if result.PublicHostName != "" {
		body["publicHostName"] = result.PublicHostName
	}
	if len(result.Logs) > 0 {
		body["logs"] = result.Logs
	}

	return n.post(ctx, n.CompletedURL(job), job.SessionToken.Value, body)
}

// Failed posts the failure payload for one failed attempt
func (n *Notifier) Failed(ctx context.Context, job *models.Job, runErr error, attempt int) error {
	body, err := jobPayload(job)
	if err != nil {
		return apperrors.CallbackDelivery(n.FailedURL(job), err)
	}
	body["failed"] = true
	body["error"] = runErr.Error()
	body["errorKind"] = apperrors.Kind(runErr)
	body["attempt"] = attempt

	return n.post(ctx, n.FailedURL(job), job.SessionToken.Value, body)
}

// CompletionStatus is the instance status reported for a successful action
func CompletionStatus(action models.Action) models.InstanceStatus {
	if action == models.ActionStop {
		return models.InstanceStatusStopped
	}
	return models.InstanceStatusRunning
}

// jobPayload flattens the job without its credentials
func jobPayload(job *models.Job) (map[string]any, error) {
	raw, err := json.Marshal(job.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	delete(body, "accessKey")
	delete(body, "secretKey")
	return body, nil
}

func (n *Notifier) post(ctx context.Context, url, token string, body map[string]any) error {
	if url == "" {
		return apperrors.CallbackDelivery("(unset)", fmt.Errorf("no callback endpoint configured"))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.CallbackDelivery(url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.CallbackDelivery(url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.CallbackDelivery(url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return apperrors.CallbackDelivery(url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	n.logger.Debug("callback delivered", "url", url, "status", resp.StatusCode)
	return nil
}
