// Package artifacts stores uploaded inputs on the local filesystem until their job is processed.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/target/clipscore/internal/core"
)

var (
	// ErrArtifactNotFound is returned by Locate when the artifact does not exist.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrInvalidRef is returned when a reference would escape the storage directory.
	ErrInvalidRef = errors.New("invalid artifact reference")
)

// LocalStoreOptions configure a LocalStore.
type LocalStoreOptions struct {
	Dir    string
	Logger *slog.Logger
}

// LocalStore keeps artifacts as flat files under one directory.
type LocalStore struct {
	dir    string
	logger *slog.Logger
}

// NewLocalStore creates the storage directory if needed and returns a store rooted there.
func NewLocalStore(opts LocalStoreOptions) (*LocalStore, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("artifact directory is required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{dir: dir, logger: logger.With("component", "artifact_store")}, nil
}

// Dir returns the absolute storage directory.
func (s *LocalStore) Dir() string { return s.dir }

// path resolves ref inside the storage directory. Refs are single path elements.
func (s *LocalStore) path(ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) || ref != filepath.Base(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

// Save streams r to ref. Data is written to a temporary file and renamed into place,
// so a partially written upload is never visible under ref.
func (s *LocalStore) Save(ctx context.Context, ref string, r io.Reader) (int64, error) {
	dst, err := s.path(ref)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				s.logger.WarnContext(ctx, "remove temp upload", "path", tmpName, "error", rmErr)
			}
		}
	}()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("write artifact %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close artifact %s: %w", ref, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return n, fmt.Errorf("commit artifact %s: %w", ref, err)
	}
	committed = true
	return n, nil
}

// Locate returns the path of ref if it exists.
func (s *LocalStore) Locate(ref string) (string, error) {
	p, err := s.path(ref)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
		}
		return "", fmt.Errorf("stat artifact %s: %w", ref, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrArtifactNotFound, ref)
	}
	return p, nil
}

// Remove deletes ref. A missing artifact is not an error.
func (s *LocalStore) Remove(ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", ref, err)
	}
	return nil
}

// contextReader stops a copy once ctx is done, e.g. when an upload request is aborted.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ core.ArtifactStore = (*LocalStore)(nil)
