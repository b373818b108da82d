package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chartfall-net/chartfall/backend/internal/assets"
)

type stubPreview struct {
	err error
}

func (s stubPreview) Encode(_ context.Context, audio []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte("preview:"), audio...), nil
}

type stubRenderer struct {
	err      error
	coverURL string
}

func (s *stubRenderer) Render(_ context.Context, coverURL string) ([]byte, error) {
	s.coverURL = coverURL
	if s.err != nil {
		return nil, s.err
	}
	return []byte("background-bytes"), nil
}

func testCoverPNG(t *testing.T) []byte {
	t.Helper()
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode test cover: %v", err)
	}
	return buffer.Bytes()
}

func testUSC() []byte {
	return []byte(`{"usc":{"offset":0,"objects":[{"type":"single","beat":1,"lane":0,"size":1}]}}`)
}

func newTestPipeline(t *testing.T, renderer BackgroundRenderer, preview PreviewEncoder) (*Pipeline, assets.Store) {
	t.Helper()
	store, err := assets.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipeline, err := New(Config{
		Store:         store,
		Converter:     NewEngineConverter(),
		Preview:       preview,
		Renderer:      renderer,
		PublicBaseURL: "https://charts.example.net/",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return pipeline, store
}

func assetExists(t *testing.T, store assets.Store, stored StoredAsset) bool {
	t.Helper()
	reader, err := store.Open(context.Background(), stored.Category, stored.ID)
	if errors.Is(err, assets.ErrNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("Open(%s/%s) returned error: %v", stored.Category, stored.ID, err)
	}
	reader.Close()
	return true
}

func TestRunProducesAllDerivedAssets(t *testing.T) {
	renderer := &stubRenderer{}
	pipeline, store := newTestPipeline(t, renderer, stubPreview{})

	result, err := pipeline.Run(context.Background(), Input{
		ChartFileName:  "song.usc",
		Chart:          testUSC(),
		Cover:          testCoverPNG(t),
		Audio:          []byte("audio-bytes"),
		RetainOriginal: true,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	result.Commit()

	for _, stored := range []StoredAsset{
		result.Data, result.Cover, result.BGM,
		result.Preview, result.Background, result.OriginalChart,
	} {
		if stored.ID == "" {
			t.Fatalf("missing stored asset in result: %+v", result)
		}
		if !assetExists(t, store, stored) {
			t.Fatalf("asset %s/%s not in store", stored.Category, stored.ID)
		}
		wantPrefix := "/repository/" + string(stored.Category) + "/"
		if !strings.HasPrefix(stored.URL, wantPrefix) {
			t.Fatalf("asset URL %q lacks prefix %q", stored.URL, wantPrefix)
		}
	}

	if !strings.HasSuffix(result.OriginalChart.ID, ".usc") {
		t.Fatalf("retained chart id %q lacks original extension", result.OriginalChart.ID)
	}

	wantCoverURL := "https://charts.example.net" + result.Cover.URL
	if renderer.coverURL != wantCoverURL {
		t.Fatalf("renderer got cover URL %q, want %q", renderer.coverURL, wantCoverURL)
	}

	reader, err := store.Open(context.Background(), assets.CategoryBackground, result.Background.ID)
	if err != nil {
		t.Fatalf("open background: %v", err)
	}
	defer reader.Close()
	background, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read background: %v", err)
	}
	if string(background) != "background-bytes" {
		t.Fatalf("background bytes = %q", background)
	}
}

func TestRunSkipsOriginalChartByDefault(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &stubRenderer{}, stubPreview{})

	result, err := pipeline.Run(context.Background(), Input{
		ChartFileName: "song.usc",
		Chart:         testUSC(),
		Cover:         testCoverPNG(t),
		Audio:         []byte("audio"),
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	result.Commit()

	if result.OriginalChart.ID != "" {
		t.Fatalf("original chart stored despite RetainOriginal=false: %+v", result.OriginalChart)
	}
}

func TestRunRendererFailureLeavesNoAssets(t *testing.T) {
	renderer := &stubRenderer{err: errors.New("renderer down")}
	pipeline, store := newTestPipeline(t, renderer, stubPreview{})

	_, err := pipeline.Run(context.Background(), Input{
		ChartFileName: "song.usc",
		Chart:         testUSC(),
		Cover:         testCoverPNG(t),
		Audio:         []byte("audio"),
	})
	if err == nil {
		t.Fatal("expected render failure")
	}

	// The cover is written before the renderer call; it must be swept.
	root := store.(*assets.LocalStore).Root()
	for _, category := range assets.Categories {
		entries, readErr := os.ReadDir(filepath.Join(root, string(category)))
		if readErr != nil && !errors.Is(readErr, os.ErrNotExist) {
			t.Fatalf("list category %s: %v", category, readErr)
		}
		if len(entries) != 0 {
			t.Fatalf("category %s still holds %d blobs after failed run", category, len(entries))
		}
	}
}

func TestRunInvalidChartRejected(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &stubRenderer{}, stubPreview{})

	_, err := pipeline.Run(context.Background(), Input{
		ChartFileName: "song.usc",
		Chart:         []byte("not json"),
		Cover:         testCoverPNG(t),
		Audio:         []byte("audio"),
	})
	if !errors.Is(err, ErrInvalidChart) {
		t.Fatalf("expected ErrInvalidChart, got %v", err)
	}
}

func TestRunInvalidCoverRejected(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &stubRenderer{}, stubPreview{})

	_, err := pipeline.Run(context.Background(), Input{
		ChartFileName: "song.usc",
		Chart:         testUSC(),
		Cover:         []byte("definitely not an image"),
		Audio:         []byte("audio"),
	})
	if !errors.Is(err, ErrInvalidCover) {
		t.Fatalf("expected ErrInvalidCover, got %v", err)
	}
}

func TestRunMissingFilesRejected(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &stubRenderer{}, stubPreview{})

	_, err := pipeline.Run(context.Background(), Input{
		ChartFileName: "song.usc",
		Chart:         testUSC(),
		Cover:         testCoverPNG(t),
	})
	if !errors.Is(err, ErrInvalidChart) {
		t.Fatalf("expected ErrInvalidChart for missing audio, got %v", err)
	}
}

func TestDiscardRemovesAssetsUnlessCommitted(t *testing.T) {
	pipeline, store := newTestPipeline(t, &stubRenderer{}, stubPreview{})

	run := func() *Result {
		result, err := pipeline.Run(context.Background(), Input{
			ChartFileName: "song.usc",
			Chart:         testUSC(),
			Cover:         testCoverPNG(t),
			Audio:         []byte("audio"),
		})
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		return result
	}

	discarded := run()
	discarded.Discard(context.Background())
	if assetExists(t, store, discarded.Data) {
		t.Fatal("discarded run left level data behind")
	}

	committed := run()
	committed.Commit()
	committed.Discard(context.Background())
	if !assetExists(t, store, committed.Data) {
		t.Fatal("Discard removed assets after Commit")
	}
}
