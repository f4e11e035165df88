package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/minestream/internal/failure"
)

var _ Blobs = (*DirBlobs)(nil)

// DirBlobs stores objects as files directly inside a single directory.
// Locations are absolute file paths.
type DirBlobs struct {
	root string
}

// NewDirBlobs returns a [DirBlobs] rooted at dir, creating the directory if
// needed. dir is made absolute so locations stay valid if the working
// directory changes.
func NewDirBlobs(dir string) (*DirBlobs, error) {
	if dir == "" {
		return nil, failure.Validation(errors.New("audiostore: directory must not be empty"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("audiostore: resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, failure.Storage("audiostore: create directory "+abs, err)
	}
	return &DirBlobs{root: abs}, nil
}

// Root returns the absolute directory objects are stored in.
func (d *DirBlobs) Root() string { return d.root }

// Locate implements [Blobs.Locate].
func (d *DirBlobs) Locate(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(d.root, name), nil
}

// Create implements [Blobs.Create]. Data is written to a hidden temporary
// file, synced, and then hard-linked to its final name, so the final name
// either does not exist or holds the complete content.
func (d *DirBlobs) Create(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc, err := d.Locate(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(d.root, ".tmp-*")
	if err != nil {
		return "", failure.Storage("audiostore: create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeAndClose(tmp, data); err != nil {
		return "", failure.Storage("audiostore: write "+name, err)
	}

	if err := os.Link(tmpName, loc); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("audiostore: %q: %w", name, ErrExists)
		}
		return "", failure.Storage("audiostore: publish "+name, err)
	}
	return loc, nil
}

// writeAndClose writes data to f, flushes it to stable storage and closes it.
// f is closed on every path.
func writeAndClose(f *os.File, data []byte) error {
	_, werr := f.Write(data)
	var serr error
	if werr == nil {
		serr = f.Sync()
	}
	cerr := f.Close()
	return errors.Join(werr, serr, cerr)
}

// Open implements [Blobs.Open].
func (d *DirBlobs) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := d.contain(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(location)
		}
		return nil, failure.Storage("audiostore: open "+location, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, failure.Storage("audiostore: stat "+location, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, notFound(location)
	}
	return f, nil
}

// Remove implements [Blobs.Remove].
func (d *DirBlobs) Remove(_ context.Context, location string) error {
	path, err := d.contain(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return failure.Storage("audiostore: remove "+location, err)
	}
	return nil
}

// contain resolves location and rejects anything that is not a direct child
// of the root directory. Relative locations are taken relative to the root.
func (d *DirBlobs) contain(location string) (string, error) {
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(d.root, path)
	if err != nil || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) ||
		strings.ContainsRune(rel, filepath.Separator) {
		return "", failure.Validation(fmt.Errorf("audiostore: %q is outside %s", location, d.root))
	}
	if err := ValidateName(rel); err != nil {
		return "", err
	}
	return path, nil
}
