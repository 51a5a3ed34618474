package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"instance-orchestrator/config"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/scheduler"
	"instance-orchestrator/core/spec"
)

// Enqueue returns the command that submits a job file to the queue
func Enqueue() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a job to the queue",
		Long: `Submit a job to the queue.

The job document is YAML or JSON with the fields action, id, region,
accessKey, secretKey, instance_name, instance_id, model_repository_name,
sessionToken and environmentVariables. A random id is assigned when id
is empty. Use --file - to read from stdin.
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readJobFile(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			job, err := prepareJob(data)
			if err != nil {
				return err
			}

			cfg := config.Load()
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required")
			}
			queueID, err := submit(cmd.Context(), cfg, job)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "enqueued job %s (%s) as %s\n", job.ID, job.Action, queueID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the job file, or - for stdin")
	cmd.MarkFlagRequired("file")

	return cmd
}

func readJobFile(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return data, nil
}

// prepareJob parses, assigns an id and validates
func prepareJob(data []byte) (*models.Job, error) {
	job, err := spec.ParseJobFile(data)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

func submit(ctx context.Context, cfg *config.Config, job *models.Job) (string, error) {
	queue, err := scheduler.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueName)
	if err != nil {
		return "", err
	}
	defer queue.Close()

	return queue.Enqueue(ctx, *job, scheduler.DefaultJobOptions(cfg.JobAttempts, cfg.JobBackoff))
}
