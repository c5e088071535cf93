// Package catalog loads remote repository manifests into package records.
package catalog

import (
	"time"
)

// ManifestFileName is the manifest each repository staging directory must contain.
const ManifestFileName = "manifest.yaml"

// Flags describes the behavioral markers a package may carry.
type Flags struct {
	Important          bool `yaml:"important,omitempty"`
	NewComponent       bool `yaml:"newComponent,omitempty"`
	Default            bool `yaml:"default,omitempty"`
	Virtual            bool `yaml:"virtual,omitempty"`
	ForceInstall       bool `yaml:"forceInstall,omitempty"`
	RemoveBeforeUpdate bool `yaml:"removeBeforeUpdate,omitempty"`
}

// OperationSpec is a single declared operation of a package: a kind plus its
// positional arguments. Variable substitution of the arguments happens
// immediately before the operation performs, not at load time.
type OperationSpec struct {
	Kind  string            `yaml:"kind"`
	Args  []string          `yaml:"args,omitempty"`
	Attrs map[string]string `yaml:"attrs,omitempty"`
}

// PackageRecord is one package entry from a remote manifest.
type PackageRecord struct {
	Name                 string            `yaml:"name"`
	Version              string            `yaml:"version"`
	ReleaseDate          time.Time         `yaml:"releaseDate,omitempty"`
	Dependencies         []string          `yaml:"dependencies,omitempty"`
	Replaces             []string          `yaml:"replaces,omitempty"`
	DownloadableArchives []string          `yaml:"downloadableArchives,omitempty"`
	UncompressedSize     int64             `yaml:"uncompressedSize,omitempty"`
	CompressedSize       int64             `yaml:"compressedSize,omitempty"`
	Flags                Flags             `yaml:"flags,omitempty"`
	ScriptRef            string            `yaml:"script,omitempty"`
	Operations           []OperationSpec   `yaml:"operations,omitempty"`
	Attrs                map[string]string `yaml:"attrs,omitempty"`

	// StagingDir is the local directory the owning repository was fetched
	// into. Set by the loader, never part of the manifest.
	StagingDir string `yaml:"-"`
}

// manifest mirrors the on-disk repository manifest document.
type manifest struct {
	ApplicationName    string          `yaml:"applicationName"`
	ApplicationVersion string          `yaml:"applicationVersion"`
	ChecksumDownload   bool            `yaml:"checksum,omitempty"`
	EngineConstraint   string          `yaml:"engineConstraint,omitempty"`
	Packages           []PackageRecord `yaml:"packages"`
}

// Catalog is the merged view over every configured repository.
type Catalog struct {
	ApplicationName    string
	ApplicationVersion string
	ChecksumDownload   bool
	Packages           map[string]*PackageRecord
}

// Get returns the package record for name, or nil.
func (c *Catalog) Get(name string) *PackageRecord {
	return c.Packages[name]
}

// Names returns the package names in unspecified order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Packages))
	for name := range c.Packages {
		names = append(names, name)
	}
	return names
}
