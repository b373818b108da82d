// Package pipeline converts raw chart uploads into the canonical derived
// assets: engine level data, normalized cover, preview clip and rendered
// background. Steps run in a fixed order and any failure aborts the whole
// ingestion; every asset written during a failed run is compensated away so
// no catalog record can ever reference a half-finished upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/chartfall-net/chartfall/backend/internal/assets"
)

var (
	// ErrInvalidChart indicates an unparseable chart-description file.
	ErrInvalidChart = errors.New("pipeline: invalid chart file")
	// ErrInvalidCover indicates an undecodable cover image.
	ErrInvalidCover = errors.New("pipeline: invalid cover image")
	// ErrUpstream indicates the background renderer failed after retries.
	ErrUpstream = errors.New("pipeline: background renderer unavailable")
)

// Config wires the pipeline's collaborators.
type Config struct {
	Store     assets.Store
	Converter ChartConverter
	Preview   PreviewEncoder
	Renderer  BackgroundRenderer
	// PublicBaseURL prefixes the cover URL handed to the renderer, which
	// fetches it over the network.
	PublicBaseURL string
	Logger        *zap.Logger
}

// Pipeline orchestrates the transcode steps.
type Pipeline struct {
	store         assets.Store
	converter     ChartConverter
	preview       PreviewEncoder
	renderer      BackgroundRenderer
	publicBaseURL string
	logger        *zap.Logger
}

// New validates the collaborators and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if cfg.Converter == nil {
		return nil, errors.New("pipeline: chart converter is required")
	}
	if cfg.Preview == nil {
		return nil, errors.New("pipeline: preview encoder is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("pipeline: background renderer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:         cfg.Store,
		converter:     cfg.Converter,
		preview:       cfg.Preview,
		renderer:      cfg.Renderer,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Input is one ingestion's raw uploads.
type Input struct {
	ChartFileName  string
	Chart          []byte
	Cover          []byte
	Audio          []byte
	RetainOriginal bool
}

// StoredAsset references one blob written during a run.
type StoredAsset struct {
	ID       string
	Category assets.Category
	URL      string
}

// Result carries the derived assets of a successful run. Ownership of the
// blobs stays with the run until the caller Commits; Discard removes them.
type Result struct {
	Data          StoredAsset
	Cover         StoredAsset
	BGM           StoredAsset
	Preview       StoredAsset
	Background    StoredAsset
	OriginalChart StoredAsset

	pipeline  *Pipeline
	written   []StoredAsset
	committed bool
}

// Commit transfers blob ownership to the caller.
func (r *Result) Commit() {
	r.committed = true
}

// Discard best-effort deletes every blob the run wrote. Safe to call after
// Commit (it becomes a no-op) so callers can defer it unconditionally.
func (r *Result) Discard(ctx context.Context) {
	if r == nil || r.committed || r.pipeline == nil {
		return
	}
	r.pipeline.discard(ctx, r.written)
}

func (p *Pipeline) discard(ctx context.Context, written []StoredAsset) {
	for _, asset := range written {
		if err := p.store.Delete(ctx, asset.Category, asset.ID); err != nil {
			p.logger.Warn("orphaned asset not removed",
				zap.String("category", string(asset.Category)),
				zap.String("asset_id", asset.ID),
				zap.Error(err))
		}
	}
}

// Run executes the full transcode sequence. On error no asset written by
// this attempt survives (best effort; stragglers are orphaned garbage for
// the sweep, never referenced by any record).
func (p *Pipeline) Run(ctx context.Context, input Input) (result *Result, err error) {
	run := &Result{pipeline: p}
	defer func() {
		if err != nil {
			p.discard(ctx, run.written)
		}
	}()

	if len(input.Chart) == 0 || len(input.Cover) == 0 || len(input.Audio) == 0 {
		return nil, fmt.Errorf("%w: chart, cover and audio files are all required", ErrInvalidChart)
	}

	// Step 1: chart description -> compressed engine level data.
	levelData, err := p.converter.Convert(input.Chart, DetectFormat(input.ChartFileName))
	if err != nil {
		return nil, err
	}

	// Step 2: cover -> canonical PNG.
	cover, err := NormalizeCover(input.Cover)
	if err != nil {
		return nil, err
	}

	// Step 3: preview clip.
	preview, err := p.preview.Encode(ctx, input.Audio)
	if err != nil {
		return nil, err
	}

	// The renderer fetches the cover over HTTP, so it must be persisted
	// before step 4.
	run.Cover, err = p.put(ctx, run, assets.CategoryCover, cover, "")
	if err != nil {
		return nil, err
	}

	// Step 4: derived background via the external renderer.
	background, err := p.renderer.Render(ctx, p.publicBaseURL+run.Cover.URL)
	if err != nil {
		return nil, err
	}

	// Step 5: persist the remaining derived assets.
	if run.Data, err = p.put(ctx, run, assets.CategoryChartData, levelData, ""); err != nil {
		return nil, err
	}
	if run.BGM, err = p.put(ctx, run, assets.CategoryAudio, input.Audio, ""); err != nil {
		return nil, err
	}
	if run.Preview, err = p.put(ctx, run, assets.CategoryPreview, preview, ""); err != nil {
		return nil, err
	}
	if run.Background, err = p.put(ctx, run, assets.CategoryBackground, background, ""); err != nil {
		return nil, err
	}
	if input.RetainOriginal {
		extension := path.Ext(input.ChartFileName)
		if run.OriginalChart, err = p.put(ctx, run, assets.CategoryOriginalChart, input.Chart, extension); err != nil {
			return nil, err
		}
	}

	return run, nil
}

// UpdateInput carries the optional re-uploads of an edit. Nil slices mean
// the corresponding asset family is untouched.
type UpdateInput struct {
	ChartFileName  string
	Chart          []byte
	Cover          []byte
	Audio          []byte
	RetainOriginal bool
}

// Update re-runs only the steps whose inputs were re-supplied. The Result
// carries solely the newly produced assets; untouched families stay zero.
// Compensation works exactly as in Run.
func (p *Pipeline) Update(ctx context.Context, input UpdateInput) (result *Result, err error) {
	run := &Result{pipeline: p}
	defer func() {
		if err != nil {
			p.discard(ctx, run.written)
		}
	}()

	if input.Chart != nil {
		levelData, err := p.converter.Convert(input.Chart, DetectFormat(input.ChartFileName))
		if err != nil {
			return nil, err
		}
		if run.Data, err = p.put(ctx, run, assets.CategoryChartData, levelData, ""); err != nil {
			return nil, err
		}
		if input.RetainOriginal {
			extension := path.Ext(input.ChartFileName)
			if run.OriginalChart, err = p.put(ctx, run, assets.CategoryOriginalChart, input.Chart, extension); err != nil {
				return nil, err
			}
		}
	}

	if input.Cover != nil {
		cover, err := NormalizeCover(input.Cover)
		if err != nil {
			return nil, err
		}
		if run.Cover, err = p.put(ctx, run, assets.CategoryCover, cover, ""); err != nil {
			return nil, err
		}
		background, err := p.renderer.Render(ctx, p.publicBaseURL+run.Cover.URL)
		if err != nil {
			return nil, err
		}
		if run.Background, err = p.put(ctx, run, assets.CategoryBackground, background, ""); err != nil {
			return nil, err
		}
	}

	if input.Audio != nil {
		preview, err := p.preview.Encode(ctx, input.Audio)
		if err != nil {
			return nil, err
		}
		if run.BGM, err = p.put(ctx, run, assets.CategoryAudio, input.Audio, ""); err != nil {
			return nil, err
		}
		if run.Preview, err = p.put(ctx, run, assets.CategoryPreview, preview, ""); err != nil {
			return nil, err
		}
	}

	return run, nil
}

func (p *Pipeline) put(ctx context.Context, run *Result, category assets.Category, data []byte, extension string) (StoredAsset, error) {
	id, err := p.store.Put(ctx, category, data, extension)
	if err != nil {
		return StoredAsset{}, err
	}
	stored := StoredAsset{
		ID:       id,
		Category: category,
		URL:      fmt.Sprintf("/repository/%s/%s", category, id),
	}
	run.written = append(run.written, stored)
	return stored, nil
}
