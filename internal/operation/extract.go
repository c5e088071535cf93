package operation

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/terassyi/donyu/internal/errors"
)

// KindExtract unpacks an archive under the target directory.
// Args: archive path, destination directory.
const KindExtract = "Extract"

func registerExtract(r *Registry) {
	r.Register(KindExtract, Funcs{
		Perform: extractPerform,
		Undo:    extractUndo,
		Describe: func(op *Operation) string {
			return fmt.Sprintf("extract %s to %s", filepath.Base(op.Args[0]), op.Args[1])
		},
	})
}

// extractPerform unpacks the archive and records every created path into a
// manifest file under the backup directory so undo can delete them.
func extractPerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) != 2 {
		return errors.NewInvariantViolation("Extract expects archive and destination arguments")
	}
	archive, dest := args[0], args[1]

	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	// Progress tracks consumption of the compressed stream.
	cr := &countingReader{r: f, total: info.Size(), progress: ctx.progress}

	var created []string
	switch {
	case hasSuffix(archive, ".tar.gz"), hasSuffix(archive, ".tgz"):
		gr, err := gzip.NewReader(cr)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		created, err = extractTar(gr, dest)
		if err != nil {
			return err
		}
	case hasSuffix(archive, ".tar.xz"), hasSuffix(archive, ".txz"):
		xr, err := xz.NewReader(cr)
		if err != nil {
			return fmt.Errorf("failed to create xz reader: %w", err)
		}
		created, err = extractTar(xr, dest)
		if err != nil {
			return err
		}
	case hasSuffix(archive, ".zip"):
		created, err = extractZip(f, info.Size(), dest, ctx.progress)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported archive type: %s", archive)
	}

	manifest := ctx.backupPath(op, ".files")
	if err := os.MkdirAll(filepath.Dir(manifest), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(manifest, []byte(strings.Join(created, "\n")), 0644); err != nil {
		return fmt.Errorf("failed to record extracted files: %w", err)
	}
	op.setState("manifest", manifest)
	ctx.progress(1)
	return nil
}

// extractUndo deletes the recorded paths in reverse order, dropping
// directories only when they are empty.
func extractUndo(_ *Context, op *Operation) error {
	manifest := op.state("manifest")
	if manifest == "" {
		return nil
	}
	data, err := os.ReadFile(manifest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	paths := strings.Split(strings.TrimSpace(string(data)), "\n")
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Lstat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			_ = os.Remove(p) // only removes when empty
			continue
		}
		if err := os.Remove(p); err != nil {
			return err
		}
	}
	return nil
}

// countingReader reports consumption of the underlying stream as a fraction.
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress func(float64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.progress != nil && c.total > 0 {
		c.progress(float64(c.read) / float64(c.total))
	}
	return n, err
}

func extractTar(r io.Reader, destDir string) ([]string, error) {
	tr := tar.NewReader(r)
	var created []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return created, fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(destDir, hdr.Name)
		if !isInsideDir(destDir, target) {
			return created, fmt.Errorf("invalid file path: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return created, fmt.Errorf("failed to create directory: %w", err)
			}
			created = append(created, target)
		case tar.TypeReg:
			if err := extractFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return created, err
			}
			created = append(created, target)
		case tar.TypeSymlink:
			linkTarget := filepath.Join(filepath.Dir(target), hdr.Linkname)
			if !isInsideDir(destDir, linkTarget) {
				return created, fmt.Errorf("invalid symlink target: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return created, fmt.Errorf("failed to create symlink: %w", err)
			}
			created = append(created, target)
		}
	}
	return created, nil
}

func extractZip(ra io.ReaderAt, size int64, destDir string, progress func(float64)) ([]string, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("failed to create zip reader: %w", err)
	}

	var created []string
	for i, zf := range zr.File {
		if isOSMetadataPath(zf.Name) {
			continue
		}

		target := filepath.Join(destDir, zf.Name)
		if !isInsideDir(destDir, target) {
			return created, fmt.Errorf("invalid file path: %s", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, zf.Mode()); err != nil {
				return created, fmt.Errorf("failed to create directory: %w", err)
			}
			created = append(created, target)
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return created, fmt.Errorf("failed to open file in archive: %w", err)
		}
		if err := extractFile(rc, target, zf.Mode()); err != nil {
			rc.Close()
			return created, err
		}
		rc.Close()
		created = append(created, target)

		if progress != nil {
			progress(float64(i+1) / float64(len(zr.File)))
		}
	}
	return created, nil
}

func extractFile(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// isOSMetadataPath skips metadata trees ZIP creation tools inject.
func isOSMetadataPath(name string) bool {
	return name == "__MACOSX" || strings.HasPrefix(name, "__MACOSX/")
}

// isInsideDir checks that target stays inside baseDir, preventing path
// traversal through crafted archive entries.
func isInsideDir(baseDir, target string) bool {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && len(rel) > 0 && rel[0] != '.'
}

func hasSuffix(s, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(s), suffix)
}
