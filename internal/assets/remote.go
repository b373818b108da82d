package assets

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// RemoteStore fronts a LocalStore whose directory is mirrored to an object
// storage origin (the CDN sync runs outside this process). Writes land
// locally; reads redirect clients to the public origin so blob traffic never
// transits this server.
type RemoteStore struct {
	local   *LocalStore
	baseURL string
}

// NewRemoteStore wraps the local directory with a redirecting read path.
func NewRemoteStore(root, baseURL string) (*RemoteStore, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: remote base URL required", ErrStorage)
	}
	local, err := NewLocalStore(root)
	if err != nil {
		return nil, err
	}
	return &RemoteStore{local: local, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *RemoteStore) Put(ctx context.Context, category Category, data []byte, extension string) (string, error) {
	return s.local.Put(ctx, category, data, extension)
}

// Open falls back to the local copy, covering blobs not yet mirrored.
func (s *RemoteStore) Open(ctx context.Context, category Category, id string) (io.ReadCloser, error) {
	return s.local.Open(ctx, category, id)
}

func (s *RemoteStore) Location(category Category, id string) Location {
	return Location{RedirectURL: fmt.Sprintf("%s/%s/%s", s.baseURL, category, id)}
}

func (s *RemoteStore) Delete(ctx context.Context, category Category, id string) error {
	return s.local.Delete(ctx, category, id)
}

func (s *RemoteStore) Close() error {
	return s.local.Close()
}
