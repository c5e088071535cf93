package repository

import (
	"context"
	"strings"

	git "github.com/go-git/go-git/v5"
)

// GitFetcher stages a repository by shallow-cloning it. URLs use the
// git:// or git+https:// schemes; the latter is rewritten to https for the
// transport.
type GitFetcher struct{}

// Fetch clones the repository into destDir.
func (f *GitFetcher) Fetch(ctx context.Context, url, destDir string) (Staging, error) {
	cloneURL := strings.TrimPrefix(url, "git+")

	_, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL:   cloneURL,
		Depth: 1,
	})
	if err != nil {
		return Staging{}, err
	}
	return Staging{URL: url, Dir: destDir}, nil
}
