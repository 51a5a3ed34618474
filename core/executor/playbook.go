package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// waitDelay bounds how long Run waits for output after ansible is killed
const waitDelay = 5 * time.Second

// PlaybookRequest describes one configuration-management run against a host
type PlaybookRequest struct {
	Host     string
	Playbook string // playbook name without extension, e.g. "slashml/app-deployment"
	// ExtraVars are passed as a single JSON document
	ExtraVars map[string]string
}

// PlaybookRunner invokes ansible-playbook against a single host
type PlaybookRunner struct {
	binary         string
	user           string
	privateKeyPath string
	playbookDir    string
}

// NewPlaybookRunner creates a new playbook runner
func NewPlaybookRunner(binary, user, privateKeyPath, playbookDir string) *PlaybookRunner {
	return &PlaybookRunner{
		binary:         binary,
		user:           user,
		privateKeyPath: privateKeyPath,
		playbookDir:    playbookDir,
	}
}

// PlaybookPath returns the file the named playbook is read from
func (r *PlaybookRunner) PlaybookPath(name string) string {
	return filepath.Join(r.playbookDir, name+".yml")
}

// Args returns the command line for req, without the binary
func (r *PlaybookRunner) Args(req PlaybookRequest) ([]string, error) {
	vars, err := json.Marshal(req.ExtraVars)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra vars: %w", err)
	}
	return []string{
		"-i", req.Host + ",",
		"-u", r.user,
		"--private-key", r.privateKeyPath,
		r.PlaybookPath(req.Playbook),
		"--extra-vars", string(vars),
		"-vv",
	}, nil
}

// Run executes the playbook and returns its combined output. A non-zero
// exit is an error; the output is returned either way. When ctx ends
// first the error wraps ctx.Err().
func (r *PlaybookRunner) Run(ctx context.Context, req PlaybookRequest) (string, error) {
	args, err := r.Args(req)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Env = append(os.Environ(), "ANSIBLE_HOST_KEY_CHECKING=False")
	cmd.WaitDelay = waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out.String(), fmt.Errorf("playbook %s interrupted on %s: %w", req.Playbook, req.Host, ctxErr)
		}
		return out.String(), fmt.Errorf("playbook %s failed on %s: %w", req.Playbook, req.Host, err)
	}
	return out.String(), nil
}
