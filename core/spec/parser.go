package spec

import (
	"fmt"

	"instance-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// jobFile is the on-disk form of a job. JSON documents parse as well.
type jobFile struct {
	Action               string          `yaml:"action"`
	ID                   string          `yaml:"id"`
	Region               string          `yaml:"region"`
	AccessKey            string          `yaml:"accessKey"`
	SecretKey            string          `yaml:"secretKey"`
	InstanceProvider     string          `yaml:"instance_provider"`
	InstanceName         string          `yaml:"instance_name"`
	InstanceID           string          `yaml:"instance_id"`
	GithubURL            string          `yaml:"github_url"`
	ModelRepositoryName  string          `yaml:"model_repository_name"`
	SessionToken         yaml.Node       `yaml:"sessionToken"`
	EnvironmentVariables []models.EnvVar `yaml:"environmentVariables"`
}

// ParseJobFile parses a YAML or JSON job document into a Job model
func ParseJobFile(data []byte) (*models.Job, error) {
	var file jobFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}

	token, err := sessionToken(&file.SessionToken)
	if err != nil {
		return nil, err
	}

	return &models.Job{
		Action:               models.Action(file.Action),
		ID:                   file.ID,
		Region:               file.Region,
		AccessKey:            file.AccessKey,
		SecretKey:            file.SecretKey,
		InstanceProvider:     file.InstanceProvider,
		InstanceName:         file.InstanceName,
		InstanceID:           file.InstanceID,
		GithubURL:            file.GithubURL,
		ModelRepositoryName:  file.ModelRepositoryName,
		SessionToken:         models.SessionToken{Value: token},
		EnvironmentVariables: file.EnvironmentVariables,
	}, nil
}

// sessionToken accepts both a bare scalar and a {value: ...} mapping
func sessionToken(node *yaml.Node) (string, error) {
	switch node.Kind {
	case 0:
		return "", nil
	case yaml.ScalarNode:
		return node.Value, nil
	case yaml.MappingNode:
		var obj struct {
			Value string `yaml:"value"`
		}
		if err := node.Decode(&obj); err != nil {
			return "", fmt.Errorf("invalid sessionToken: %w", err)
		}
		return obj.Value, nil
	default:
		return "", fmt.Errorf("invalid sessionToken at line %d", node.Line)
	}
}
