package audiofetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Cache is a directory of completed downloads, one file per URL, named by
// the hex SHA-256 of the URL string. Files hold the audio bytes only.
// Entries appear atomically: a partially written entry is never visible.
type Cache struct {
	fs  afero.Fs
	dir string
}

// NewCache returns a cache stored in dir on the local filesystem, creating
// the directory if needed.
func NewCache(dir string) (*Cache, error) {
	return NewCacheFs(afero.NewOsFs(), dir)
}

// NewCacheFs returns a cache stored in dir on fs.
func NewCacheFs(fs afero.Fs, dir string) (*Cache, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{fs: fs, dir: dir}, nil
}

// Key returns the cache key of a URL.
func Key(u string) string {
	h := sha256.Sum256([]byte(u))
	return hex.EncodeToString(h[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key)
}

// IsFileCached reports whether key has an entry.
func (c *Cache) IsFileCached(key string) bool {
	st, err := c.fs.Stat(c.path(key))
	return err == nil && st.Mode().IsRegular()
}

// OpenFile opens the entry for key for reading.
func (c *Cache) OpenFile(key string) (afero.File, error) {
	return c.fs.Open(c.path(key))
}

// SaveFile stores the whole content of src under key, replacing any
// previous entry. It returns the number of bytes stored.
func (c *Cache) SaveFile(key string, src io.ReadSeeker) (int64, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	tmp := c.path(key) + "." + uuid.NewString() + ".tmp"
	out, err := c.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, src)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = c.fs.Rename(tmp, c.path(key))
	}
	if err != nil {
		c.fs.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// Remove deletes the entry for key, if any.
func (c *Cache) Remove(key string) error {
	err := c.fs.Remove(c.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
