package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidKey = errors.New("invalid object key")

// Store persists uploaded objects and returns their public URL.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// FileStore writes objects under a directory served at publicURL.
type FileStore struct {
	dir       string
	publicURL string
}

func NewFileStore(dir, publicURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", ErrInvalidKey
	}

	target := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit object: %w", err)
	}
	return s.publicURL + "/" + clean, nil
}

// ObjectKey names an upload owned by a user. ext includes the leading dot.
func ObjectKey(owner uuid.UUID, ext string) string {
	return owner.String() + "/" + uuid.NewString() + ext
}
