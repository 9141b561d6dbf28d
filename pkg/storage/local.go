package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalConfig holds configuration for local storage.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
	// URLPrefix is the HTTP path the files are served under.
	URLPrefix string `mapstructure:"url_prefix"`
}

// LocalStorage keeps images on the local filesystem, one directory per
// message, and hands out URLs under a path the HTTP server serves.
type LocalStorage struct {
	root      string
	urlPrefix string
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	root, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.URLPrefix, "/")
	if prefix == "" {
		prefix = "/files"
	}
	return &LocalStorage{root: root, urlPrefix: prefix}, nil
}

// Root is the directory files live in.
func (s *LocalStorage) Root() string { return s.root }

// resolve maps a key to a path under root. Keys that climb out of root
// resolve to root itself, which never holds a file.
func (s *LocalStorage) resolve(key string) string {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	return filepath.Join(s.root, clean)
}

// Put writes obj through a temp file so readers never see a partial image.
func (s *LocalStorage) Put(ctx context.Context, obj Object) (string, error) {
	key, err := obj.Key()
	if err != nil {
		return "", err
	}
	dst := s.resolve(key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create message directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	_, copyErr := io.Copy(tmp, bytes.NewReader(obj.Body))
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr, ctx.Err()); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return key, nil
}

// Open opens the file stored under key.
func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.resolve(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

// Remove deletes the file stored under key.
func (s *LocalStorage) Remove(ctx context.Context, key string) error {
	p := s.resolve(key)
	if p == s.root {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// RemoveMessage deletes the message's directory.
func (s *LocalStorage) RemoveMessage(ctx context.Context, owner, messageID string) error {
	if _, err := (Object{Owner: owner, MessageID: messageID, Name: "x"}).Key(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.resolve(MessagePrefix(owner, messageID))); err != nil {
		return fmt.Errorf("failed to remove message %s: %w", messageID, err)
	}
	return nil
}

// URL returns the served path of key. Local URLs never expire.
func (s *LocalStorage) URL(ctx context.Context, key string, _ time.Duration) (string, error) {
	p := s.resolve(key)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to stat %s: %w", key, err)
	}
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return "", err
	}
	return s.urlPrefix + "/" + filepath.ToSlash(rel), nil
}
