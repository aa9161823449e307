package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrInvalidKey = errors.New("invalid storage key")
	ErrNotFound   = errors.New("file not found")
)

const (
	partialPrefix = ".partial-"
	claimedPrefix = ".claimed-"
)

// Store defines the interface for a staging namespace.
type Store interface {
	EnsureDir() error
	Save(key string, data io.Reader) (int64, error)
	Path(key string) (string, error)
	Size(key string) (int64, error)
	Claim(key string) (*os.File, string, error)
	Delete(key string) error
	Remove(path string) error
	Sweep(olderThan time.Time) (int, error)
}

// FileSystemStore keeps files flat under a single directory. Keys are plain
// file names; anything that could resolve outside the directory is rejected.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: filepath.Clean(basePath)}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data to a hidden temporary file and renames it to key once the
// copy has fully succeeded. On any error nothing is left behind under key.
func (fs *FileSystemStore) Save(key string, data io.Reader) (int64, error) {
	filePath, err := fs.filePath(key)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(fs.basePath, partialPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to commit file: %w", err)
	}

	return n, nil
}

// Path returns the absolute location for key without checking existence.
// Strategies write their output there directly.
func (fs *FileSystemStore) Path(key string) (string, error) {
	return fs.filePath(key)
}

// Size returns the size in bytes of the file stored under key.
func (fs *FileSystemStore) Size(key string) (int64, error) {
	filePath, err := fs.filePath(key)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return info.Size(), nil
}

// Claim atomically moves the file under key to a private name and opens it.
// Only one caller can claim a given key; the others get ErrNotFound. The
// caller owns the returned path and must Remove it when done.
func (fs *FileSystemStore) Claim(key string) (*os.File, string, error) {
	filePath, err := fs.filePath(key)
	if err != nil {
		return nil, "", err
	}

	suffix, err := randomSuffix()
	if err != nil {
		return nil, "", err
	}
	claimed := filepath.Join(fs.basePath, claimedPrefix+suffix)

	if err := os.Rename(filePath, claimed); err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to claim file: %w", err)
	}

	f, err := os.Open(claimed)
	if err != nil {
		os.Remove(claimed)
		return nil, "", fmt.Errorf("failed to open claimed file: %w", err)
	}
	return f, claimed, nil
}

// Delete removes the file stored under key. A missing file is not an error.
func (fs *FileSystemStore) Delete(key string) error {
	filePath, err := fs.filePath(key)
	if err != nil {
		return err
	}
	return fs.Remove(filePath)
}

// Remove deletes a path previously returned by this store. A missing file is
// not an error.
func (fs *FileSystemStore) Remove(path string) error {
	if !fs.contains(path) {
		return ErrInvalidKey
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Sweep deletes every regular file last modified before olderThan and
// returns how many were removed.
func (fs *FileSystemStore) Sweep(olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to list storage directory: %w", err)
	}

	var removed int
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		if !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.basePath, entry.Name())); err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

func (fs *FileSystemStore) filePath(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	p := filepath.Join(fs.basePath, key)
	if !fs.contains(p) {
		return "", ErrInvalidKey
	}
	return p, nil
}

func (fs *FileSystemStore) contains(path string) bool {
	rel, err := filepath.Rel(fs.basePath, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !strings.ContainsRune(rel, filepath.Separator)
}

// validKey accepts non-hidden flat names built from [A-Za-z0-9._-].
func validKey(key string) bool {
	if key == "" || len(key) > 255 || key[0] == '.' || strings.Contains(key, "..") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func randomSuffix() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	return hex.EncodeToString(b), nil
}
