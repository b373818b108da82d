package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore persists blobs under root/<category>/<id> on the local
// filesystem, the default deployment layout.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed and returns the store.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root path", ErrStorage)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &LocalStore{root: root}, nil
}

// Root exposes the underlying directory, used by the backup command.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) blobPath(category Category, id string) string {
	return filepath.Join(s.root, string(category), filepath.Base(id))
}

func (s *LocalStore) Put(_ context.Context, category Category, data []byte, extension string) (string, error) {
	if err := checkCategory(category); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, string(category))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	id := newAssetID(extension)
	path := filepath.Join(dir, id)

	// Write to a temp name first so a crashed write never leaves a
	// resolvable id pointing at a truncated blob.
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return id, nil
}

func (s *LocalStore) Open(_ context.Context, category Category, id string) (io.ReadCloser, error) {
	if err := checkCategory(category); err != nil {
		return nil, err
	}
	file, err := os.Open(s.blobPath(category, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return file, nil
}

func (s *LocalStore) Location(Category, string) Location {
	return Location{}
}

func (s *LocalStore) Delete(_ context.Context, category Category, id string) error {
	if err := checkCategory(category); err != nil {
		return err
	}
	err := os.Remove(s.blobPath(category, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *LocalStore) Close() error {
	return nil
}
