package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

const stagingDir = ".staging"

type localStore struct {
	root string
}

// NewLocalStore stores blobs as files below root.
func NewLocalStore(root string) (ports.ArtifactStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &localStore{root: abs}, nil
}

func (s *localStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" || strings.HasPrefix(clean, "/"+stagingDir) {
		return "", fmt.Errorf("invalid artifact path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put streams r into a staging file, then hard-links it into place. Link
// fails if the target exists, which makes the write create-exclusive.
func (s *localStore) Put(ctx context.Context, p string, r io.Reader) (*domain.ArtifactInfo, error) {
	target, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err == nil {
		return nil, domain.ErrArtifactExists
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, stagingDir), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), &contextReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, domain.ErrArtifactExists
		}
		return nil, fmt.Errorf("publish artifact: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return &domain.ArtifactInfo{
		Path:      p,
		Digest:    "sha256:" + hex.EncodeToString(hash.Sum(nil)),
		Size:      size,
		CreatedAt: info.ModTime().UTC(),
		Revision:  fileRevision(info),
	}, nil
}

func (s *localStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	target, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrArtifactMissing
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

func (s *localStore) Stat(ctx context.Context, p string) (*domain.ArtifactInfo, error) {
	target, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrArtifactMissing
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		return nil, domain.ErrArtifactMissing
	}
	return &domain.ArtifactInfo{
		Path:      p,
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
		Revision:  fileRevision(info),
	}, nil
}

// fileRevision changes whenever the file at a path is replaced or rewritten.
func fileRevision(info fs.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}

func (s *localStore) Delete(ctx context.Context, p string) error {
	target, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	// Best effort: drop the now empty version and name directories.
	dir := filepath.Dir(target)
	for i := 0; i < 2 && dir != s.root; i++ {
		if os.Remove(dir) != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
