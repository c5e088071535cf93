package catalog

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/terassyi/donyu/internal/errors"
)

// RepositoryConfig is one configured repository source.
type RepositoryConfig struct {
	URL       string `yaml:"url"`
	Temporary bool   `yaml:"temporary,omitempty"`
	Replace   bool   `yaml:"replace,omitempty"`
}

// Settings is the installer configuration document embedded into the
// maintenance tool and shipped beside the offline installer.
type Settings struct {
	ApplicationName    string             `yaml:"applicationName"`
	ApplicationVersion string             `yaml:"applicationVersion"`
	Title              string             `yaml:"title,omitempty"`
	Publisher          string             `yaml:"publisher,omitempty"`
	TargetDir          string             `yaml:"targetDir,omitempty"`
	RunProgram         string             `yaml:"runProgram,omitempty"`
	Repositories       []RepositoryConfig `yaml:"repositories,omitempty"`
}

// LoadSettings reads the settings document. A malformed settings file is a
// fatal configuration error: nothing can run without knowing the application.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewManifestError(path, 0, 0, err.Error())
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.NewManifestError(path, 0, 0, yaml.FormatError(err, false, false))
	}
	if s.ApplicationName == "" {
		return nil, errors.NewManifestError(path, 0, 0, "missing applicationName")
	}
	return &s, nil
}

// RepositoryURLs returns the effective repository list after applying
// temporary repositories. A temporary repository with Replace set displaces
// every non-temporary entry.
func (s *Settings) RepositoryURLs() []string {
	replace := false
	for _, r := range s.Repositories {
		if r.Temporary && r.Replace {
			replace = true
		}
	}
	var urls []string
	for _, r := range s.Repositories {
		if replace && !r.Temporary {
			continue
		}
		urls = append(urls, r.URL)
	}
	return urls
}
