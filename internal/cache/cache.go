// Package cache maps image names to files in the private cache directory.
package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/italolelis/ambience_downloader/internal/transfer"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	DefaultFullImagePrefix = "ambience-"
)

// Store answers where a thumbnail or full image lives and whether it is present.
// Names are used verbatim, without validation.
type Store struct {
	dir     string
	prefix  string
	initErr error
}

// New creates the cache directory if needed. A failure is logged and kept in
// InitErr; the Store stays usable and later file operations report their own errors.
func New(dir, fullImagePrefix string, logger *slog.Logger) *Store {
	if fullImagePrefix == "" {
		fullImagePrefix = DefaultFullImagePrefix
	}

	s := &Store{dir: dir, prefix: fullImagePrefix}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		s.initErr = &transfer.FileSystemError{Op: "mkdir", Path: dir, Err: err}

		logger.Warn("failed to create cache directory", "dir", dir, "err", err)
	}

	return s
}

func (s *Store) Dir() string    { return s.dir }
func (s *Store) InitErr() error { return s.initErr }
func (s *Store) Prefix() string { return s.prefix }

// ThumbnailPath returns the cache path of thumbnail name. No I/O is performed.
func (s *Store) ThumbnailPath(name string) string {
	return filepath.Join(s.dir, name)
}

// HasThumbnail reports whether a non-empty thumbnail is cached under name.
func (s *Store) HasThumbnail(name string) bool {
	return present(s.ThumbnailPath(name))
}

// FullImagePath returns the cache path of full image name.
func (s *Store) FullImagePath(name string) string {
	return filepath.Join(s.dir, s.prefix+name)
}

// HasFullImage reports whether a non-empty full image is cached under name.
func (s *Store) HasFullImage(name string) bool {
	return present(s.FullImagePath(name))
}

// CreateThumbnail opens the thumbnail file for writing, truncating any previous content.
func (s *Store) CreateThumbnail(name string) (*os.File, error) {
	return create(s.ThumbnailPath(name))
}

// CreateFullImage opens the full image file for writing, truncating any previous content.
func (s *Store) CreateFullImage(name string) (*os.File, error) {
	return create(s.FullImagePath(name))
}

// present reports whether path is a regular file with content. Zero-length
// files are left behind by failed transfers and count as absent.
func present(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular() && info.Size() > 0
}

func create(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, &transfer.FileSystemError{Op: "create", Path: path, Err: fmt.Errorf("open for writing: %w", err)}
	}

	return f, nil
}
