package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"instance-orchestrator/core/models"
)

// RunRepository handles database operations for job attempt history
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// RecordRun stores one attempt. An empty run ID is assigned.
func (r *RunRepository) RecordRun(ctx context.Context, run *models.JobRun) error {
	query := `
		INSERT INTO job_runs (
			id, job_id, action, attempt, outcome, instance_id, public_ip,
			error_kind, error, logs_json, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	logs := run.Logs
	if logs == nil {
		logs = []string{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to encode run logs: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.JobID,
		run.Action,
		run.Attempt,
		run.Outcome,
		nullString(run.InstanceID),
		nullString(run.PublicIP),
		nullString(run.ErrorKind),
		nullString(run.Error),
		logsJSON,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run for job %s: %w", run.JobID, err)
	}
	return nil
}

// ListRuns returns the most recent attempts of a job, newest first
func (r *RunRepository) ListRuns(ctx context.Context, jobID string, limit int) ([]models.JobRun, error) {
	query := `
		SELECT id, job_id, action, attempt, outcome, instance_id, public_ip,
			error_kind, error, logs_json, started_at, finished_at
		FROM job_runs
		WHERE job_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for job %s: %w", jobID, err)
	}
	defer rows.Close()

	runs := []models.JobRun{}
	for rows.Next() {
		var run models.JobRun
		var instanceID, publicIP, errorKind, errorText sql.NullString
		var logsJSON []byte

		err := rows.Scan(
			&run.ID,
			&run.JobID,
			&run.Action,
			&run.Attempt,
			&run.Outcome,
			&instanceID,
			&publicIP,
			&errorKind,
			&errorText,
			&logsJSON,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.InstanceID = instanceID.String
		run.PublicIP = publicIP.String
		run.ErrorKind = errorKind.String
		run.Error = errorText.String
		if len(logsJSON) > 0 {
			if err := json.Unmarshal(logsJSON, &run.Logs); err != nil {
				return nil, fmt.Errorf("failed to decode run logs: %w", err)
			}
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
