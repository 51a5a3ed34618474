package spec

import (
	"os"
	"path/filepath"
	"testing"

	"instance-orchestrator/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobFile_YAML(t *testing.T) {
	t.Parallel()

	doc := `
action: deploy
id: dep-1
region: eu-west-3
accessKey: AKIA
secretKey: secret
instance_name: t2.micro
github_url: https://github.com/org/repo
model_repository_name: slashml/app-deployment
sessionToken:
  value: tok-1
environmentVariables:
  - key: DB_HOST
    value: localhost
  - key: PORT
    value: "8000"
`
	job, err := ParseJobFile([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, models.ActionDeploy, job.Action)
	assert.Equal(t, "t2.micro", job.InstanceName)
	assert.Equal(t, "tok-1", job.SessionToken.Value)
	assert.Equal(t, []models.EnvVar{{Key: "DB_HOST", Value: "localhost"}, {Key: "PORT", Value: "8000"}}, job.EnvironmentVariables)
	assert.NoError(t, job.Validate())
}

func TestParseJobFile_JSONWithStringToken(t *testing.T) {
	t.Parallel()

	doc := `{"action": "stop", "id": "m-1", "region": "us-east-1", "accessKey": "a", "secretKey": "s", "instance_id": "i-9", "sessionToken": "tok-2"}`
	job, err := ParseJobFile([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, models.ActionStop, job.Action)
	assert.Equal(t, "i-9", job.InstanceID)
	assert.Equal(t, "tok-2", job.SessionToken.Value)
}

func TestParseJobFile_Invalid(t *testing.T) {
	t.Parallel()

	_, err := ParseJobFile([]byte("action: [unclosed"))
	assert.Error(t, err)

	_, err = ParseJobFile([]byte("sessionToken: [a, b]"))
	assert.Error(t, err)
}

func TestCatalog_Resolve(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog("slashml/app-deployment")

	app := catalog.Resolve("slashml/app-deployment")
	assert.Equal(t, AppImageID, app.ImageID)
	assert.Equal(t, int32(DefaultRootVolumeGiB), app.RootVolumeGiB)
	assert.Equal(t, "slashml/app-deployment", app.Playbook)

	model := catalog.Resolve("org/model")
	assert.Equal(t, DefaultImageID, model.ImageID)
	assert.Equal(t, "org/model", model.Playbook)

	none := catalog.Resolve("")
	assert.Empty(t, none.Playbook)
}

func TestLoadCatalog_Overlay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  root_volume_gib: 64
repositories:
  org/gpu-model:
    image_id: ami-gpu
    playbook: gpu
`), 0o644))

	catalog, err := LoadCatalog(path, "slashml/app-deployment")
	require.NoError(t, err)

	gpu := catalog.Resolve("org/gpu-model")
	assert.Equal(t, "ami-gpu", gpu.ImageID)
	assert.Equal(t, "gpu", gpu.Playbook)
	assert.Equal(t, int32(64), gpu.RootVolumeGiB)
	assert.Equal(t, AppImageID, catalog.Resolve("slashml/app-deployment").ImageID)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	builtIn, err := LoadCatalog("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultImageID, builtIn.Resolve("x").ImageID)
}
