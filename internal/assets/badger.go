package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps blobs in an embedded badger key-value store, keyed by
// category/id. Useful where the deployment prefers one data directory over
// a sprawling file tree.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &BadgerStore{db: db}, nil
}

func blobKey(category Category, id string) []byte {
	return []byte(string(category) + "/" + id)
}

func (s *BadgerStore) Put(_ context.Context, category Category, data []byte, extension string) (string, error) {
	if err := checkCategory(category); err != nil {
		return "", err
	}
	id := newAssetID(extension)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(category, id), data)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return id, nil
}

func (s *BadgerStore) Open(_ context.Context, category Category, id string) (io.ReadCloser, error) {
	if err := checkCategory(category); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(category, id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *BadgerStore) Location(Category, string) Location {
	return Location{}
}

func (s *BadgerStore) Delete(_ context.Context, category Category, id string) error {
	if err := checkCategory(category); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blobKey(category, id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
