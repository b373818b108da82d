package assets

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected local store error: %v", err)
	}
	badgerStore, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected badger store error: %v", err)
	}
	t.Cleanup(func() { badgerStore.Close() })
	remote, err := NewRemoteStore(t.TempDir(), "https://cdn.example.com/repository")
	if err != nil {
		t.Fatalf("unexpected remote store error: %v", err)
	}
	return map[string]Store{"local": local, "badger": badgerStore, "remote": remote}
}

func TestPutOpenRoundTripAllCategories(t *testing.T) {
	ctx := context.Background()
	for backend, store := range openStores(t) {
		for _, category := range Categories {
			payload := []byte("payload-" + backend + "-" + string(category))
			id, err := store.Put(ctx, category, payload, "")
			if err != nil {
				t.Fatalf("%s/%s: unexpected put error: %v", backend, category, err)
			}
			reader, err := store.Open(ctx, category, id)
			if err != nil {
				t.Fatalf("%s/%s: unexpected open error: %v", backend, category, err)
			}
			got, err := io.ReadAll(reader)
			reader.Close()
			if err != nil {
				t.Fatalf("%s/%s: unexpected read error: %v", backend, category, err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("%s/%s: round trip mismatch: got %q", backend, category, got)
			}
		}
	}
}

func TestPutAssignsUniqueIdentifiers(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		id, err := store.Put(ctx, CategoryCover, []byte("same bytes"), "")
		if err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
		if seen[id] {
			t.Fatalf("identifier %q issued twice", id)
		}
		seen[id] = true
	}
}

func TestPutKeepsExtensionSuffix(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := store.Put(ctx, CategoryOriginalChart, []byte("notes"), ".sus")
	if err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if !strings.HasSuffix(id, ".sus") {
		t.Fatalf("expected .sus suffix, got %q", id)
	}
}

func TestOpenUnknownBlobReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	for backend, store := range openStores(t) {
		if _, err := store.Open(ctx, CategoryAudio, "no-such-id"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", backend, err)
		}
	}
}

func TestInvalidCategoryRejected(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Put(ctx, Category("weird"), []byte("x"), ""); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for backend, store := range openStores(t) {
		id, err := store.Put(ctx, CategoryPreview, []byte("clip"), "")
		if err != nil {
			t.Fatalf("%s: unexpected put error: %v", backend, err)
		}
		if err := store.Delete(ctx, CategoryPreview, id); err != nil {
			t.Fatalf("%s: unexpected delete error: %v", backend, err)
		}
		if err := store.Delete(ctx, CategoryPreview, id); err != nil {
			t.Fatalf("%s: second delete should be a no-op, got %v", backend, err)
		}
		if _, err := store.Open(ctx, CategoryPreview, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound after delete, got %v", backend, err)
		}
	}
}

func TestRemoteLocationRedirects(t *testing.T) {
	remote, err := NewRemoteStore(t.TempDir(), "https://cdn.example.com/repository/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loc := remote.Location(CategoryCover, "abc.png")
	if loc.Inline() {
		t.Fatalf("remote location should redirect")
	}
	if loc.RedirectURL != "https://cdn.example.com/repository/cover/abc.png" {
		t.Fatalf("unexpected redirect URL: %q", loc.RedirectURL)
	}

	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !local.Location(CategoryCover, "abc.png").Inline() {
		t.Fatalf("local location should be inline")
	}
}
