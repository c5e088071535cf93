package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DirFetcher serves repositories that already live on the local filesystem:
// file:// URLs and bare paths. No copy happens; the directory itself is the
// staging.
type DirFetcher struct{}

// Fetch validates the directory and returns it as the staging.
func (f *DirFetcher) Fetch(ctx context.Context, url, _ string) (Staging, error) {
	if err := ctx.Err(); err != nil {
		return Staging{}, err
	}
	dir := strings.TrimPrefix(url, "file://")
	info, err := os.Stat(dir)
	if err != nil {
		return Staging{}, err
	}
	if !info.IsDir() {
		return Staging{}, fmt.Errorf("%s is not a directory", dir)
	}
	return Staging{URL: url, Dir: dir}, nil
}
