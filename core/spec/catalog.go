package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default provisioning template values
const (
	DefaultImageID       = "ami-09ee1a996ac214ce7"
	AppImageID           = "ami-069c99ad769be2343"
	DefaultRootVolumeGiB = 128
)

// Template is the provisioning template selected by application repository
type Template struct {
	ImageID       string `yaml:"image_id"`
	Playbook      string `yaml:"playbook"`
	RootVolumeGiB int32  `yaml:"root_volume_gib"`
}

// Catalog maps application repository names to provisioning templates
type Catalog struct {
	Default      Template            `yaml:"default"`
	Repositories map[string]Template `yaml:"repositories"`
}

// DefaultCatalog returns the built-in catalog. appRepository gets its own
// image.
func DefaultCatalog(appRepository string) *Catalog {
	c := &Catalog{
		Default: Template{
			ImageID:       DefaultImageID,
			RootVolumeGiB: DefaultRootVolumeGiB,
		},
		Repositories: map[string]Template{},
	}
	if appRepository != "" {
		c.Repositories[appRepository] = Template{ImageID: AppImageID}
	}
	return c
}

// LoadCatalog loads the catalog at path over the built-in defaults.
// An empty path yields the built-in catalog.
func LoadCatalog(path, appRepository string) (*Catalog, error) {
	catalog := DefaultCatalog(appRepository)
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if err := catalog.Merge(data); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Merge overlays a YAML catalog document onto c
func (c *Catalog) Merge(data []byte) error {
	var overlay Catalog
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	c.Default = fill(overlay.Default, c.Default)
	for name, tmpl := range overlay.Repositories {
		c.Repositories[name] = fill(tmpl, c.Repositories[name])
	}
	return nil
}

// Resolve returns the template for repository with unset fields taken from
// the default template. The playbook defaults to the repository name; an
// empty repository resolves to no playbook.
func (c *Catalog) Resolve(repository string) Template {
	tmpl := fill(c.Repositories[repository], c.Default)
	if tmpl.Playbook == "" {
		tmpl.Playbook = repository
	}
	return tmpl
}

func fill(t, defaults Template) Template {
	if t.ImageID == "" {
		t.ImageID = defaults.ImageID
	}
	if t.Playbook == "" {
		t.Playbook = defaults.Playbook
	}
	if t.RootVolumeGiB == 0 {
		t.RootVolumeGiB = defaults.RootVolumeGiB
	}
	return t
}
