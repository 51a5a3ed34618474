package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybookRunner_Args(t *testing.T) {
	t.Parallel()

	runner := NewPlaybookRunner("ansible-playbook", "ubuntu", "/keys/kp.pem", "playbooks")
	args, err := runner.Args(PlaybookRequest{
		Host:     "1.2.3.4",
		Playbook: "slashml/app-deployment",
		ExtraVars: map[string]string{
			"github_repo": "https://github.com/org/repo",
			"DB_HOST":     "localhost",
		},
	})
	require.NoError(t, err)

	require.Len(t, args, 10)
	assert.Equal(t, []string{"-i", "1.2.3.4,", "-u", "ubuntu", "--private-key", "/keys/kp.pem"}, args[:6])
	assert.Equal(t, "playbooks/slashml/app-deployment.yml", args[6])
	assert.Equal(t, "--extra-vars", args[7])
	assert.Equal(t, "-vv", args[9])

	var vars map[string]string
	require.NoError(t, json.Unmarshal([]byte(args[8]), &vars))
	assert.Equal(t, "https://github.com/org/repo", vars["github_repo"])
	assert.Equal(t, "localhost", vars["DB_HOST"])
}

func TestPlaybookRunner_Run(t *testing.T) {
	t.Parallel()

	runner := NewPlaybookRunner("echo", "ubuntu", "kp.pem", "playbooks")
	out, err := runner.Run(context.Background(), PlaybookRequest{Host: "10.0.0.1", Playbook: "model"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "-i 10.0.0.1, -u ubuntu"))
	assert.Contains(t, out, "playbooks/model.yml")

	failing := NewPlaybookRunner("false", "ubuntu", "kp.pem", "playbooks")
	_, err = failing.Run(context.Background(), PlaybookRequest{Host: "10.0.0.1", Playbook: "model"})
	assert.Error(t, err)

	missing := NewPlaybookRunner("/nonexistent/ansible-playbook", "ubuntu", "kp.pem", "playbooks")
	_, err = missing.Run(context.Background(), PlaybookRequest{Host: "10.0.0.1", Playbook: "model"})
	assert.Error(t, err)
}

// Not parallel: exec of a freshly written file races with concurrent forks (ETXTBSY).
func TestPlaybookRunner_RunCancelled(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "ansible-playbook")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	runner := NewPlaybookRunner(binary, "ubuntu", "kp.pem", "playbooks")
	start := time.Now()
	_, err := runner.Run(ctx, PlaybookRequest{Host: "1.2.3.4", Playbook: "model"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), waitDelay)
}
