// Package repository stages remote repositories locally. The engine only
// sees the Fetcher seam; implementations cover plain directories (offline
// installers, tests) and git-hosted repositories. Staging directories honor
// TMPDIR through os.MkdirTemp.
package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/run"
)

// Staging is a fetched repository: a local directory holding the manifest
// and the embedded data archives.
type Staging struct {
	URL string
	Dir string
}

// Fetcher materializes one repository URL into a local staging directory.
type Fetcher interface {
	// Fetch stages the repository below destDir and returns the staging.
	// A canceled context interrupts the transfer.
	Fetch(ctx context.Context, url, destDir string) (Staging, error)
}

// Manager routes URLs to fetchers by scheme and fetches every configured
// repository concurrently during the metadata phase.
type Manager struct {
	fetchers map[string]Fetcher
	rc       *run.Context

	mu       sync.Mutex
	stagings []Staging
}

// NewManager creates a Manager with the built-in fetchers registered.
func NewManager(rc *run.Context) *Manager {
	m := &Manager{fetchers: make(map[string]Fetcher), rc: rc}
	m.Register("file", &DirFetcher{})
	m.Register("", &DirFetcher{}) // bare paths
	git := &GitFetcher{}
	m.Register("git", git)
	m.Register("git+https", git)
	return m
}

// Register routes a URL scheme to a fetcher. Extension points add schemes
// (e.g. https) at startup.
func (m *Manager) Register(scheme string, f Fetcher) {
	m.fetchers[scheme] = f
}

// FetchAll stages every URL concurrently. A fetch failure is surfaced to the
// message handler; when the user accepts the partial fetch the run proceeds
// with the repositories that were obtained, otherwise the first error is
// returned.
func (m *Manager) FetchAll(ctx context.Context, urls []string) ([]Staging, error) {
	root, err := os.MkdirTemp("", "donyu-staging-")
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	failures := make([]error, len(urls))

	for i, url := range urls {
		g.Go(func() error {
			if m.rc.Canceled() {
				return errors.Canceled
			}
			f, err := m.fetcherFor(url)
			if err != nil {
				failures[i] = err
				return nil
			}
			staging, err := f.Fetch(gctx, url, filepath.Join(root, fmt.Sprintf("repo-%d", i)))
			if err != nil {
				failures[i] = errors.NewNetworkError(url, err)
				return nil
			}
			m.mu.Lock()
			m.stagings = append(m.stagings, staging)
			m.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, ferr := range failures {
		if ferr == nil {
			continue
		}
		answer := m.rc.Messages.Question(fmt.Sprintf("repository %s could not be fetched: %v — continue without it?", urls[i], ferr))
		if answer != run.AnswerYes {
			return nil, ferr
		}
		m.rc.Logger.Warn("continuing with partial fetch", "url", urls[i], "error", ferr)
	}

	return m.stagings, nil
}

// Dirs returns the staging directories in fetch-completion order.
func Dirs(stagings []Staging) []string {
	out := make([]string, len(stagings))
	for i, s := range stagings {
		out[i] = s.Dir
	}
	return out
}

func (m *Manager) fetcherFor(url string) (Fetcher, error) {
	scheme := ""
	if i := strings.Index(url, "://"); i >= 0 {
		scheme = url[:i]
	}
	f, ok := m.fetchers[scheme]
	if !ok {
		return nil, errors.NewNetworkError(url, fmt.Errorf("no fetcher for scheme %q", scheme))
	}
	return f, nil
}
