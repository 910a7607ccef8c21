package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// diskStorage keeps attachments on a filesystem, by default a directory on
// local disk served back by a static file server.
type diskStorage struct {
	fs billy.Filesystem
}

// NewDisk stores attachments under root, creating it if needed.
func NewDisk(root string) (Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("disk storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return NewFilesystem(osfs.New(root)), nil
}

// NewFilesystem wraps any billy filesystem, e.g. memfs in tests.
func NewFilesystem(fs billy.Filesystem) Storage {
	return &diskStorage{fs: fs}
}

func cleanKey(key string) (string, error) {
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid storage key %q", key)
		}
	}
	k := path.Clean("/" + key)
	if k == "/" {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return strings.TrimPrefix(k, "/"), nil
}

// Put writes r to key. A partially written file is removed on error.
func (d *diskStorage) Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	k, err := cleanKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	if err := d.fs.MkdirAll(path.Dir(k), 0o755); err != nil {
		return ObjectInfo{}, err
	}
	f, err := d.fs.Create(k)
	if err != nil {
		return ObjectInfo{}, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = d.fs.Remove(k)
		return ObjectInfo{}, err
	}
	st, err := d.fs.Stat(k)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Key:          k,
		Size:         n,
		ContentType:  opt.ContentType,
		LastModified: st.ModTime(),
		Metadata:     opt.Metadata,
	}, nil
}

// Stat reports the size and modification time of key.
func (d *diskStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	k, err := cleanKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	st, err := d.fs.Stat(k)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: k, Size: st.Size(), LastModified: st.ModTime()}, nil
}

// Delete removes key; a missing file is not an error.
func (d *diskStorage) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := d.fs.Remove(k); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
