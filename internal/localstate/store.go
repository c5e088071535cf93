// Package localstate persists the installed-package catalog under the
// install target directory.
package localstate

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/gofrs/flock"

	"github.com/terassyi/donyu/internal/errors"
)

const (
	// CatalogFileName is the installed catalog file inside the target directory.
	CatalogFileName = "components.yaml"

	lockFileName = ".components.lock"

	backupSuffix = ".bak"
)

// InstalledRecord describes one installed component.
type InstalledRecord struct {
	Name           string            `yaml:"name"`
	Version        string            `yaml:"version"`
	LastUpdateDate time.Time         `yaml:"lastUpdateDate,omitempty"`
	Attrs          map[string]string `yaml:"attrs,omitempty"`
}

// catalogFile mirrors the on-disk document.
type catalogFile struct {
	Components []InstalledRecord `yaml:"components"`
}

// Renamer performs a rename that may need elevated rights. The privileged
// helper client satisfies this; a nil Renamer means plain os.Rename only.
type Renamer interface {
	Rename(oldPath, newPath string) error
}

// Answerer decides whether a recoverable load error should be retried.
// The run context's message handler satisfies this.
type Answerer interface {
	Retry(msg string) bool
}

// Store reads and writes the installed catalog with file locking.
type Store struct {
	path     string
	lockPath string
	fileLock *flock.Flock
	locked   bool

	records map[string]InstalledRecord

	silentRetries uint
	answerer      Answerer
	elevated      Renamer
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSilentRetries sets how many recoverable load failures are retried
// without consulting the user.
func WithSilentRetries(n uint) StoreOption {
	return func(s *Store) { s.silentRetries = n }
}

// WithAnswerer sets the handler consulted once silent retries are exhausted.
func WithAnswerer(a Answerer) StoreOption {
	return func(s *Store) { s.answerer = a }
}

// WithElevatedRenamer sets the fallback used when the atomic rename of a
// flush is denied by the OS.
func WithElevatedRenamer(r Renamer) StoreOption {
	return func(s *Store) { s.elevated = r }
}

// NewStore creates a Store rooted at the install target directory.
func NewStore(targetDir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}
	s := &Store{
		path:          filepath.Join(targetDir, CatalogFileName),
		lockPath:      filepath.Join(targetDir, lockFileName),
		silentRetries: 3,
		records:       make(map[string]InstalledRecord),
	}
	s.fileLock = flock.New(s.lockPath)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lock acquires an exclusive lock on the catalog.
// Returns an error if another process holds the lock.
func (s *Store) Lock() error {
	if s.locked {
		return nil
	}
	locked, err := s.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return stderrors.New("another donyu process is operating on this target")
	}
	s.locked = true
	return nil
}

// Unlock releases the lock.
func (s *Store) Unlock() error {
	if !s.locked {
		return nil
	}
	if err := s.fileLock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	s.locked = false
	return nil
}

// Load reads the installed catalog. A missing file yields an empty catalog.
// Transient read failures are retried: silently up to the configured count,
// then by asking the answerer; the final failure is returned classified as
// recoverable. Malformed documents fail immediately.
func (s *Store) Load() ([]InstalledRecord, error) {
	var lastErr error
	attempt := uint(0)
	for {
		records, err := s.read()
		if err == nil {
			s.records = make(map[string]InstalledRecord, len(records))
			for _, r := range records {
				s.records[r.Name] = r
			}
			return records, nil
		}

		var de *errors.Error
		if !stderrors.As(err, &de) || !de.Recoverable {
			return nil, err
		}
		lastErr = err

		if attempt < s.silentRetries {
			attempt++
			slog.Debug("retrying installed catalog load", "attempt", attempt, "error", err)
			continue
		}
		if s.answerer != nil && s.answerer.Retry(fmt.Sprintf("cannot read installed catalog: %v — retry?", err)) {
			continue
		}
		return nil, lastErr
	}
}

// read is a single load attempt.
func (s *Store) read() ([]InstalledRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewCatalogLoadError(s.path, true, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewCatalogLoadError(s.path, false, err)
	}
	return f.Components, nil
}

// Get returns the record for name if installed.
func (s *Store) Get(name string) (InstalledRecord, bool) {
	r, ok := s.records[name]
	return r, ok
}

// Records returns all records sorted by name.
func (s *Store) Records() []InstalledRecord {
	out := make([]InstalledRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Insert adds or replaces a record in memory. Call Flush to persist.
func (s *Store) Insert(r InstalledRecord) {
	s.records[r.Name] = r
}

// Remove deletes a record in memory. Call Flush to persist.
func (s *Store) Remove(name string) {
	delete(s.records, name)
}

// Flush writes the catalog atomically: the document is written to a
// temporary sibling and renamed over the real file. If the rename is denied
// and an elevated renamer is configured, the helper performs it.
func (s *Store) Flush() error {
	doc := catalogFile{Components: s.Records()}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.NewCatalogFlushError(s.path, err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.NewCatalogFlushError(s.path, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		if s.elevated != nil && os.IsPermission(err) {
			if herr := s.elevated.Rename(tmpPath, s.path); herr == nil {
				return nil
			}
		}
		os.Remove(tmpPath)
		return errors.NewCatalogFlushError(s.path, err)
	}
	return nil
}

// CreateBackup copies the current catalog to components.yaml.bak.
// A missing catalog is not an error.
func (s *Store) CreateBackup() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read catalog for backup: %w", err)
	}
	bakPath := s.path + backupSuffix
	tmpPath := bakPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Rename(tmpPath, bakPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename backup: %w", err)
	}
	return nil
}

// Path returns the catalog file path.
func (s *Store) Path() string {
	return s.path
}
