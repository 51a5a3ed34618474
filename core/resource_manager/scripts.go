package resource_manager

import (
	"fmt"
	"strings"

	"instance-orchestrator/core/models"
)

const (
	environmentFile = "/etc/environment"
	heredocMarker   = "ENVIRONMENT"
	defaultPath     = `PATH="/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin:/usr/games:/usr/local/games:/snap/bin"`

	// ReadEnvironmentCommand prints the instance's environment file
	ReadEnvironmentCommand = "cat " + environmentFile
)

// StackName returns the name of the stack owned by a job
func StackName(env, jobID string) string {
	return fmt.Sprintf("%s-5-%s", env, jobID)
}

// StartupScript is the first-boot script. It drops exported lines from the
// environment file and appends the job's variables.
func StartupScript(vars []models.EnvVar) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "sed -i '/^export /d' %s\n", environmentFile)
	fmt.Fprintf(&b, "cat >> %s <<'%s'\n", environmentFile, heredocMarker)
	writeVars(&b, vars)
	b.WriteString(heredocMarker + "\n")
	return b.String()
}

// EnvironmentPushScript rewrites the environment file with the default PATH
// and the job's variables, then prints the result
func EnvironmentPushScript(vars []models.EnvVar) string {
	var b strings.Builder
	fmt.Fprintf(&b, "sudo tee %s > /dev/null <<'%s'\n", environmentFile, heredocMarker)
	b.WriteString(defaultPath + "\n")
	writeVars(&b, vars)
	b.WriteString(heredocMarker + "\n")
	b.WriteString(ReadEnvironmentCommand + "\n")
	return b.String()
}

// ParseEnvironment parses KEY=value lines, skipping PATH, comments and
// anything that is not an assignment
func ParseEnvironment(content string) []models.EnvVar {
	var vars []models.EnvVar
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "PATH" || strings.ContainsAny(key, " \t") {
			continue
		}
		vars = append(vars, models.EnvVar{Key: key, Value: value})
	}
	return vars
}

func writeVars(b *strings.Builder, vars []models.EnvVar) {
	for _, v := range vars {
		b.WriteString(v.String())
		b.WriteByte('\n')
	}
}
