package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/terassyi/donyu/internal/errors"
)

// Renamer performs a rename that may need elevated rights; nil means plain
// os.Rename only.
type Renamer interface {
	Rename(oldPath, newPath string) error
}

// Writer produces the maintenance-tool binary.
type Writer struct {
	elevated Renamer
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithElevatedRenamer sets the fallback used when the final rename is
// denied by the OS.
func WithElevatedRenamer(r Renamer) WriterOption {
	return func(w *Writer) { w.elevated = r }
}

// NewWriter creates a Writer.
func NewWriter(opts ...WriterOption) *Writer {
	w := &Writer{}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write assembles basePath + metadata + footer into targetPath. The write is
// atomic: everything lands in a temporary sibling first, which is renamed
// over the target. Executable permissions from the base image are preserved.
func (w *Writer) Write(targetPath, basePath string, meta *Metadata) error {
	base, err := os.Open(basePath)
	if err != nil {
		return errors.NewArtifactError("cannot open base executable", err)
	}
	defer base.Close()

	info, err := base.Stat()
	if err != nil {
		return errors.NewArtifactError("cannot stat base executable", err)
	}

	mode := info.Mode().Perm() | 0111 // keep the result executable

	tmpPath := targetPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.NewArtifactError("cannot create maintenance tool", err)
	}
	defer func() {
		out.Close()
		os.Remove(tmpPath)
	}()

	baseLen, err := io.Copy(out, base)
	if err != nil {
		return errors.NewArtifactError("cannot copy base executable", err)
	}

	blob := encodeBlob(meta.Sections)
	if _, err := out.Write(blob); err != nil {
		return errors.NewArtifactError("cannot write metadata", err)
	}

	f := footer{
		Cookie:     MagicCookie,
		MetaOffset: uint64(baseLen),
		MetaLength: uint64(len(blob)),
		Marker:     uint64(meta.Marker),
		CRC32:      checksum(blob),
	}
	if _, err := out.Write(f.encode()); err != nil {
		return errors.NewArtifactError("cannot write footer", err)
	}
	if err := out.Close(); err != nil {
		return errors.NewArtifactError("cannot finish maintenance tool", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		if w.elevated != nil && os.IsPermission(err) {
			if herr := w.elevated.Rename(tmpPath, targetPath); herr == nil {
				return nil
			}
		}
		return errors.NewArtifactError("cannot move maintenance tool into place", err)
	}
	return nil
}

// Read parses the metadata of an existing maintenance-tool binary, verifying
// the magic cookie and CRC. The base image length equals the metadata offset.
func Read(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewArtifactError("cannot open maintenance tool", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewArtifactError("cannot stat maintenance tool", err)
	}
	if info.Size() < FooterSize {
		return nil, errors.NewArtifactError(fmt.Sprintf("%s is too small to carry a footer", filepath.Base(path)), nil)
	}

	raw := make([]byte, FooterSize)
	if _, err := f.ReadAt(raw, info.Size()-FooterSize); err != nil {
		return nil, errors.NewArtifactError("cannot read footer", err)
	}
	ftr, err := decodeFooter(raw)
	if err != nil {
		return nil, errors.NewArtifactError("malformed footer", err)
	}
	if ftr.Cookie != MagicCookie {
		return nil, errors.NewArtifactError("magic cookie mismatch", nil)
	}
	if ftr.MetaOffset+ftr.MetaLength+FooterSize != uint64(info.Size()) {
		return nil, errors.NewArtifactError("footer offsets do not match file size", nil)
	}

	blob := make([]byte, ftr.MetaLength)
	if _, err := f.ReadAt(blob, int64(ftr.MetaOffset)); err != nil {
		return nil, errors.NewArtifactError("cannot read metadata", err)
	}
	if checksum(blob) != ftr.CRC32 {
		return nil, errors.NewArtifactError("metadata checksum mismatch", nil)
	}

	sections, err := decodeBlob(blob)
	if err != nil {
		return nil, errors.NewArtifactError("malformed metadata", err)
	}
	return &Metadata{Marker: Marker(ftr.Marker), Sections: sections}, nil
}

// BaseImage extracts the base executable bytes of an existing maintenance
// tool, for rewriting the artifact with fresh metadata.
func BaseImage(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewArtifactError("cannot open maintenance tool", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < FooterSize {
		return os.ReadFile(path)
	}
	raw := make([]byte, FooterSize)
	if _, err := f.ReadAt(raw, info.Size()-FooterSize); err != nil {
		return nil, errors.NewArtifactError("cannot read footer", err)
	}
	ftr, err := decodeFooter(raw)
	if err != nil || ftr.Cookie != MagicCookie {
		// Not an artifact yet: the whole file is the base image.
		return os.ReadFile(path)
	}

	base := make([]byte, ftr.MetaOffset)
	if _, err := f.ReadAt(base, 0); err != nil {
		return nil, err
	}
	return base, nil
}
