package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-yaml"

	"github.com/terassyi/donyu/internal/errors"
)

// Loader parses repository staging directories into a merged Catalog.
type Loader struct {
	strict        bool
	engineVersion string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStrictParse makes the loader reject manifests containing unknown
// elements instead of warning about them.
func WithStrictParse(strict bool) LoaderOption {
	return func(l *Loader) { l.strict = strict }
}

// WithEngineVersion sets the engine version checked against each manifest's
// engineConstraint field.
func WithEngineVersion(v string) LoaderOption {
	return func(l *Loader) { l.engineVersion = v }
}

// NewLoader creates a new Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses the manifest in each staging directory and merges the results.
// All repositories in one run must serve the same application; a mismatch is
// an IncompatibleApplication error. When the same package name appears in
// several repositories the later repository wins and a warning is logged.
func (l *Loader) Load(stagingDirs []string) (*Catalog, error) {
	cat := &Catalog{Packages: make(map[string]*PackageRecord)}

	for _, dir := range stagingDirs {
		m, err := l.loadManifest(filepath.Join(dir, ManifestFileName))
		if err != nil {
			return nil, err
		}

		if cat.ApplicationName == "" {
			cat.ApplicationName = m.ApplicationName
			cat.ApplicationVersion = m.ApplicationVersion
		} else if cat.ApplicationName != m.ApplicationName {
			return nil, errors.NewIncompatibleApplicationError(cat.ApplicationName, m.ApplicationName, dir)
		}
		cat.ChecksumDownload = cat.ChecksumDownload || m.ChecksumDownload

		for i := range m.Packages {
			pkg := &m.Packages[i]
			if pkg.Name == "" {
				return nil, errors.NewManifestError(filepath.Join(dir, ManifestFileName), 0, 0, "package entry without a name")
			}
			pkg.StagingDir = dir
			if prev, ok := cat.Packages[pkg.Name]; ok {
				slog.Warn("package redefined by later repository",
					"name", pkg.Name, "previous", prev.Version, "new", pkg.Version)
			}
			cat.Packages[pkg.Name] = pkg
		}
	}

	return cat, nil
}

// loadManifest reads and decodes a single manifest file.
func (l *Loader) loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewManifestError(path, 0, 0, err.Error())
	}

	var m manifest
	if err := yaml.UnmarshalWithOptions(data, &m, yaml.DisallowUnknownField()); err != nil {
		if l.strict {
			return nil, errors.NewManifestError(path, 0, 0, yaml.FormatError(err, false, false))
		}
		// Relaxed mode: retry without the unknown-field restriction and
		// surface what the strict pass complained about.
		slog.Warn("manifest contains unrecognized elements", "path", path, "detail", yaml.FormatError(err, false, false))
		m = manifest{}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, errors.NewManifestError(path, 0, 0, yaml.FormatError(err, false, false))
		}
	}

	if m.ApplicationName == "" {
		return nil, errors.NewManifestError(path, 0, 0, "missing applicationName")
	}

	if err := l.checkEngineConstraint(path, m.EngineConstraint); err != nil {
		return nil, err
	}

	return &m, nil
}

// checkEngineConstraint validates the manifest's engine version constraint
// (e.g. ">= 1.2.0") against the running engine.
func (l *Loader) checkEngineConstraint(path, constraint string) error {
	if constraint == "" || l.engineVersion == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.NewManifestError(path, 0, 0, fmt.Sprintf("invalid engineConstraint %q: %v", constraint, err))
	}
	v, err := semver.NewVersion(l.engineVersion)
	if err != nil {
		return errors.NewInvariantViolation(fmt.Sprintf("engine version %q is not semver", l.engineVersion))
	}
	if !c.Check(v) {
		e := errors.New(errors.CategoryManifest,
			fmt.Sprintf("repository %s requires engine %s, running %s", path, constraint, l.engineVersion))
		e.Code = errors.CodeEngineConstraint
		return e
	}
	return nil
}
