// Package media serves dataset files over HTTP with byte-range support.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gj2101/boutview/internal/storage"
)

var (
	ErrNotFound     = errors.New("media: not found")
	ErrAccessDenied = errors.New("media: access denied")
)

type Info struct {
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Source is where served files live.
type Source interface {
	Stat(ctx context.Context, name string) (Info, error)
	// Open returns length bytes of name starting at offset.
	Open(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error)
}

// DirSource serves a local directory tree.
type DirSource struct {
	root string
}

func NewDirSource(root string) (*DirSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("serve root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("serve root %s is not a directory", abs)
	}
	return &DirSource{root: abs}, nil
}

func (d *DirSource) Root() string {
	return d.root
}

// resolve joins name onto the root and refuses anything that lands outside it.
func (d *DirSource) resolve(name string) (string, error) {
	full := filepath.Join(d.root, filepath.FromSlash(name))
	prefix := d.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if full != d.root && !strings.HasPrefix(full, prefix) {
		slog.Warn("media: path outside serve root", "requested", name, "resolved", full)
		return "", ErrAccessDenied
	}
	return full, nil
}

func (d *DirSource) Stat(_ context.Context, name string) (Info, error) {
	full, err := d.resolve(name)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", full, err)
	}
	if fi.IsDir() {
		return Info{}, ErrNotFound
	}
	return Info{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (d *DirSource) Open(_ context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	full, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", full, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek %s: %w", full, err)
	}
	return readCloser{Reader: io.LimitReader(f, length), Closer: f}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type ObjectStore interface {
	Key(name string) string
	HeadObject(ctx context.Context, key string) (storage.ObjectInfo, error)
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// BucketSource serves objects under a bucket prefix.
type BucketSource struct {
	store ObjectStore
}

func NewBucketSource(store ObjectStore) *BucketSource {
	return &BucketSource{store: store}
}

func (b *BucketSource) key(name string) (string, error) {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			slog.Warn("media: key outside bucket prefix", "requested", name)
			return "", ErrAccessDenied
		}
	}
	return b.store.Key(path.Clean("/" + name)), nil
}

func (b *BucketSource) Stat(ctx context.Context, name string) (Info, error) {
	key, err := b.key(name)
	if err != nil {
		return Info{}, err
	}
	obj, err := b.store.HeadObject(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, err
	}
	return Info{Size: obj.Size, ModTime: obj.LastModified, ContentType: obj.ContentType}, nil
}

func (b *BucketSource) Open(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	key, err := b.key(name)
	if err != nil {
		return nil, err
	}
	body, err := b.store.GetRange(ctx, key, offset, length)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return body, err
}
