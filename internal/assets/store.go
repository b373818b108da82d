// Package assets implements the content-addressed blob store backing the
// chart repository. Blobs are retrieved solely by the opaque identifier
// returned at write time; callers never choose paths.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Category namespaces stored blobs by asset kind. The directory names match
// the on-disk repository layout served under /repository.
type Category string

const (
	CategoryChartData     Category = "level"
	CategoryCover         Category = "cover"
	CategoryAudio         Category = "bgm"
	CategoryPreview       Category = "preview"
	CategoryBackground    Category = "background"
	CategoryOriginalChart Category = "chart"
)

// Categories lists every valid category, for validation and tests.
var Categories = []Category{
	CategoryChartData,
	CategoryCover,
	CategoryAudio,
	CategoryPreview,
	CategoryBackground,
	CategoryOriginalChart,
}

var (
	// ErrStorage wraps any backend read/write failure.
	ErrStorage = errors.New("assets: storage failure")
	// ErrNotFound indicates the requested blob does not exist.
	ErrNotFound = errors.New("assets: blob not found")
	// ErrInvalidCategory indicates an unknown asset category.
	ErrInvalidCategory = errors.New("assets: invalid category")
)

// Location describes how a blob is reachable. Either the store serves the
// bytes itself or the caller should redirect to RedirectURL.
type Location struct {
	RedirectURL string
}

// Inline reports whether the blob must be streamed by this process.
func (l Location) Inline() bool {
	return l.RedirectURL == ""
}

// Store is the content-addressed blob contract shared by all backends.
type Store interface {
	// Put persists the blob and returns its assigned identifier. The
	// optional extension is appended to the identifier so downloads keep a
	// recognizable suffix.
	Put(ctx context.Context, category Category, data []byte, extension string) (string, error)
	// Open returns a reader over the blob bytes.
	Open(ctx context.Context, category Category, id string) (io.ReadCloser, error)
	// Location reports how the blob should be served.
	Location(category Category, id string) Location
	// Delete removes the blob. Deletion is advisory: a missing blob is not
	// an error and callers treat failures as garbage to sweep later.
	Delete(ctx context.Context, category Category, id string) error
	Close() error
}

// ValidCategory reports whether the category is one of the known namespaces.
func ValidCategory(category Category) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// newAssetID issues a random 128-bit identifier, independent of backend.
func newAssetID(extension string) string {
	id := uuid.NewString()
	if extension == "" {
		return id
	}
	return id + extension
}

func checkCategory(category Category) error {
	if !ValidCategory(category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return nil
}
