package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chartfall-net/chartfall/backend/internal/assets"
	"github.com/chartfall-net/chartfall/backend/internal/auth"
	"github.com/chartfall-net/chartfall/backend/internal/pipeline"
)

// DefaultEngine is the play engine charts are served for.
const DefaultEngine = "pjsekai"

// ChartPipeline is the transcoding surface the service depends on.
type ChartPipeline interface {
	Run(ctx context.Context, input pipeline.Input) (*pipeline.Result, error)
	Update(ctx context.Context, input pipeline.UpdateInput) (*pipeline.Result, error)
}

// Announcer is notified exactly once when a chart first becomes public.
type Announcer interface {
	ChartPublished(ctx context.Context, chart *ChartRecord)
}

// NoopAnnouncer satisfies Announcer without doing anything.
type NoopAnnouncer struct{}

// ChartPublished ignores the publication.
func (NoopAnnouncer) ChartPublished(context.Context, *ChartRecord) {}

// ServiceConfig wires the orchestration service's collaborators.
type ServiceConfig struct {
	Repository *Repository
	Mirror     *Mirror
	Cache      *ViewCache
	Store      assets.Store
	Pipeline   ChartPipeline
	Announcer  Announcer
	Engine     string
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Service orchestrates ingestion, edits, deletion and the read paths over
// the repository, the serving mirror and the formatted-view cache.
type Service struct {
	repository *Repository
	mirror     *Mirror
	cache      *ViewCache
	store      assets.Store
	pipeline   ChartPipeline
	announcer  Announcer
	engine     string
	logger     *zap.Logger
	clock      func() time.Time
	validate   *validator.Validate

	// locks serializes mutations per chart name. The mirror's own lock
	// only guarantees structural safety, not read-modify-write atomicity
	// of a single chart's lifecycle.
	locks sync.Map
}

// NewService validates the configuration and builds the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("catalog: repository is required")
	}
	if cfg.Mirror == nil {
		return nil, errors.New("catalog: mirror is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("catalog: asset store is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("catalog: pipeline is required")
	}
	if cfg.Announcer == nil {
		cfg.Announcer = NoopAnnouncer{}
	}
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		repository: cfg.Repository,
		mirror:     cfg.Mirror,
		cache:      cfg.Cache,
		store:      cfg.Store,
		pipeline:   cfg.Pipeline,
		announcer:  cfg.Announcer,
		engine:     cfg.Engine,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		validate:   validator.New(),
	}, nil
}

func (s *Service) lockName(name string) func() {
	entry, _ := s.locks.LoadOrStore(name, &sync.Mutex{})
	mutex := entry.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}

// NewChartName issues a fresh opaque chart name. Names are never reused;
// 64 random bits make collisions implausible for the catalog's scale.
func NewChartName() string {
	buffer := make([]byte, 8)
	if _, err := rand.Read(buffer); err != nil {
		panic(fmt.Sprintf("catalog: random source unavailable: %v", err))
	}
	return "utsk-" + hex.EncodeToString(buffer)
}

// IngestRequest is one complete upload.
type IngestRequest struct {
	Title       string `validate:"required,max=200"`
	Artists     string `validate:"required,max=200"`
	Description string `validate:"max=2000"`
	Rating      int    `validate:"min=1,max=99"`
	Difficulty  string `validate:"required"`

	ChartFileName string `validate:"required"`
	Chart         []byte `validate:"required"`
	Cover         []byte `validate:"required"`
	Audio         []byte `validate:"required"`

	Public        bool
	FileOpen      bool
	Derivative    Derivative
	Collaboration Collaboration
	PrivateShare  PrivateShare
	Anonymous     Anonymous
}

// Ingest runs the full upload: transcode, persist, mirror, announce. Any
// failure after assets were stored compensates by discarding them; the
// repository is only written once every asset exists.
func (s *Service) Ingest(ctx context.Context, request IngestRequest, viewer *auth.Session) (*ChartRecord, error) {
	const operation = "chart.create"

	if viewer == nil {
		return nil, newServiceError(operation, "unauthorized", ErrUnauthorized)
	}
	if err := s.validate.Struct(request); err != nil {
		return nil, newServiceError(operation, "invalid_request", fmt.Errorf("%w: %v", ErrValidation, err))
	}

	name := NewChartName()
	unlock := s.lockName(name)
	defer unlock()

	run, err := s.pipeline.Run(ctx, pipeline.Input{
		ChartFileName:  request.ChartFileName,
		Chart:          request.Chart,
		Cover:          request.Cover,
		Audio:          request.Audio,
		RetainOriginal: request.FileOpen,
	})
	if err != nil {
		return nil, wrapPipelineError(operation, err)
	}
	defer run.Discard(ctx)

	now := s.clock().UTC()
	chart := s.buildChart(name, request, viewer, run, now)
	background := buildBackground(chart, run, now)

	if err := s.repository.CreateChart(ctx, chart, background); err != nil {
		return nil, newServiceError(operation, "persist_failed", err)
	}
	run.Commit()

	s.mirror.InsertFront(*chart)
	s.cache.Invalidate()
	if chart.Meta.IsPublic {
		s.announcer.ChartPublished(ctx, chart)
	}

	s.logger.Info("chart ingested",
		zap.String("chart", name),
		zap.Int64("author_handle", viewer.Handle),
		zap.Bool("public", chart.Meta.IsPublic))
	return chart, nil
}

func (s *Service) buildChart(name string, request IngestRequest, viewer *auth.Session, run *pipeline.Result, now time.Time) *ChartRecord {
	author := Authorship{DisplayName: viewer.Name, Handle: viewer.Handle}
	meta := Meta{
		IsPublic:      request.Public,
		Derivative:    request.Derivative,
		FileOpen:      request.FileOpen,
		Collaboration: request.Collaboration,
		PrivateShare:  request.PrivateShare,
		Anonymous:     request.Anonymous,
	}
	if request.Public {
		meta.WasPublicBefore = true
	}
	if meta.Anonymous.Enabled {
		// The stored author is the alias; only the meta block remembers
		// the uploader, and only the resolver reads it.
		meta.Anonymous.OriginalHandle = viewer.Handle
		author = Authorship{DisplayName: meta.Anonymous.Alias}
	}

	chart := &ChartRecord{
		Name:    name,
		Rating:  request.Rating,
		Version: 1,
		Title:   Text(request.Title),
		Artists: Text(request.Artists),
		Author:  Text(author.Encode()),
		Tags: []Tag{
			{Title: Text(request.Difficulty)},
			{Title: Text("0"), Icon: IconHeart},
		},
		Description:    Text(request.Description),
		Engine:         s.engine,
		Cover:          assetRef(run.Cover),
		BGM:            assetRef(run.BGM),
		Preview:        assetRef(run.Preview),
		Data:           assetRef(run.Data),
		BackgroundName: name + "-background",
		Meta:           meta,
		CreatedAt:      now,
	}
	if run.OriginalChart.ID != "" {
		chart.OriginalChart = assetRef(run.OriginalChart)
		if meta.FileOpen {
			chart.Meta.OriginalURL = run.OriginalChart.URL
		}
	}
	return chart
}

func buildBackground(chart *ChartRecord, run *pipeline.Result, now time.Time) *BackgroundRecord {
	return &BackgroundRecord{
		Name:      chart.BackgroundName,
		Version:   2,
		Title:     chart.Title,
		Subtitle:  chart.Artists,
		Author:    chart.Author,
		Tags:      []Tag{},
		Thumbnail: chart.Cover,
		Image:     assetRef(run.Background),
		CreatedAt: now,
	}
}

func assetRef(stored pipeline.StoredAsset) AssetRef {
	return AssetRef{Hash: stored.ID, URL: stored.URL}
}

// EditRequest carries the merge-only edit payload. Nil fields keep their
// stored values. Re-supplied files trigger a partial re-transcode. The
// anonymous block is fixed at upload time: it carries author identity, so
// edits never touch it.
type EditRequest struct {
	Title       *string
	Artists     *string
	Description *string
	Rating      *int
	Difficulty  *string

	Public        *bool
	FileOpen      *bool
	Derivative    *Derivative
	Collaboration *Collaboration
	PrivateShare  *PrivateShare

	ChartFileName string
	Chart         []byte
	Cover         []byte
	Audio         []byte
}

// Edit applies a merge update. Authors and collaboration members may edit;
// nobody else. New files produce new assets and the replaced ones are
// released best-effort after the durable write succeeds.
func (s *Service) Edit(ctx context.Context, name string, request EditRequest, viewer *auth.Session) (*ChartRecord, error) {
	const operation = "chart.edit"

	unlock := s.lockName(name)
	defer unlock()

	current, err := s.repository.GetChart(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newServiceError(operation, "not_found", err)
		}
		return nil, newServiceError(operation, "load_failed", err)
	}
	if !canEdit(current, viewer) {
		return nil, newServiceError(operation, "unauthorized", ErrUnauthorized)
	}
	if request.Rating != nil && (*request.Rating < 1 || *request.Rating > 99) {
		return nil, newServiceError(operation, "invalid_rating", ErrValidation)
	}

	retain := current.Meta.FileOpen
	if request.FileOpen != nil {
		retain = *request.FileOpen
	}
	run, err := s.pipeline.Update(ctx, pipeline.UpdateInput{
		ChartFileName:  request.ChartFileName,
		Chart:          request.Chart,
		Cover:          request.Cover,
		Audio:          request.Audio,
		RetainOriginal: retain,
	})
	if err != nil {
		return nil, wrapPipelineError(operation, err)
	}
	defer run.Discard(ctx)

	var previousBackground *BackgroundRecord
	if run.Background.ID != "" && current.BackgroundName != "" {
		previousBackground, _ = s.repository.GetBackground(ctx, current.BackgroundName)
	}

	update := buildChartUpdate(request, run)
	result, err := s.repository.UpdateChart(ctx, name, update)
	if err != nil {
		return nil, newServiceError(operation, "persist_failed", err)
	}
	run.Commit()
	s.releaseReplaced(ctx, current, run)
	if previousBackground != nil && !previousBackground.Image.Zero() {
		if err := s.store.Delete(ctx, assets.CategoryBackground, previousBackground.Image.Hash); err != nil {
			s.logger.Warn("replaced background not released",
				zap.String("asset_id", previousBackground.Image.Hash),
				zap.Error(err))
		}
	}

	s.mirror.Replace(*result.Chart)
	s.cache.Invalidate()
	if result.FirstPublish {
		s.announcer.ChartPublished(ctx, result.Chart)
	}

	s.logger.Info("chart edited",
		zap.String("chart", name),
		zap.Int("version", result.Chart.Version),
		zap.Bool("first_publish", result.FirstPublish))
	return result.Chart, nil
}

func buildChartUpdate(request EditRequest, run *pipeline.Result) ChartUpdate {
	update := ChartUpdate{
		Rating:        request.Rating,
		IsPublic:      request.Public,
		FileOpen:      request.FileOpen,
		Derivative:    request.Derivative,
		Collaboration: request.Collaboration,
		PrivateShare:  request.PrivateShare,
	}
	if request.Title != nil {
		title := Text(*request.Title)
		update.Title = &title
	}
	if request.Artists != nil {
		artists := Text(*request.Artists)
		update.Artists = &artists
	}
	if request.Description != nil {
		description := Text(*request.Description)
		update.Description = &description
	}
	if request.Difficulty != nil {
		difficulty := Text(*request.Difficulty)
		update.DifficultyTag = &difficulty
	}

	if run.Data.ID != "" {
		data := assetRef(run.Data)
		update.Data = &data
	}
	if run.OriginalChart.ID != "" {
		original := assetRef(run.OriginalChart)
		update.OriginalChart = &original
	}
	if run.Cover.ID != "" {
		cover := assetRef(run.Cover)
		update.Cover = &cover
		update.BackgroundThumbnail = &cover
	}
	if run.Background.ID != "" {
		background := assetRef(run.Background)
		update.BackgroundImage = &background
	}
	if run.BGM.ID != "" {
		bgm := assetRef(run.BGM)
		update.BGM = &bgm
	}
	if run.Preview.ID != "" {
		preview := assetRef(run.Preview)
		update.Preview = &preview
	}
	return update
}

// releaseReplaced drops the blobs a successful edit superseded. Failures
// only leave unreferenced garbage, never dangling references.
func (s *Service) releaseReplaced(ctx context.Context, previous *ChartRecord, run *pipeline.Result) {
	release := func(category assets.Category, ref AssetRef, replacement pipeline.StoredAsset) {
		if replacement.ID == "" || ref.Zero() {
			return
		}
		if err := s.store.Delete(ctx, category, ref.Hash); err != nil {
			s.logger.Warn("replaced asset not released",
				zap.String("category", string(category)),
				zap.String("asset_id", ref.Hash),
				zap.Error(err))
		}
	}
	release(assets.CategoryChartData, previous.Data, run.Data)
	release(assets.CategoryOriginalChart, previous.OriginalChart, run.OriginalChart)
	release(assets.CategoryCover, previous.Cover, run.Cover)
	release(assets.CategoryAudio, previous.BGM, run.BGM)
	release(assets.CategoryPreview, previous.Preview, run.Preview)
}

// canEdit grants edit rights to the author and, when collaboration is
// enabled, to its members. Anonymous charts stay editable by the uploader.
func canEdit(chart *ChartRecord, viewer *auth.Session) bool {
	if viewer == nil {
		return false
	}
	if isAuthor(chart, viewer) {
		return true
	}
	if chart.Meta.Collaboration.Enabled {
		for _, member := range chart.Meta.Collaboration.Members {
			if member == viewer.Handle {
				return true
			}
		}
	}
	return false
}

func isAuthor(chart *ChartRecord, viewer *auth.Session) bool {
	if viewer == nil {
		return false
	}
	if handle := authorHandle(chart.Author); handle > 0 && handle == viewer.Handle {
		return true
	}
	return chart.Meta.Anonymous.Enabled &&
		chart.Meta.Anonymous.OriginalHandle > 0 &&
		chart.Meta.Anonymous.OriginalHandle == viewer.Handle
}

// Delete removes a chart. Only the author may delete; collaboration
// membership deliberately does not suffice.
func (s *Service) Delete(ctx context.Context, name string, viewer *auth.Session) error {
	const operation = "chart.delete"

	unlock := s.lockName(name)
	defer unlock()

	current, err := s.repository.GetChart(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newServiceError(operation, "not_found", err)
		}
		return newServiceError(operation, "load_failed", err)
	}
	if !isAuthor(current, viewer) {
		return newServiceError(operation, "unauthorized", ErrUnauthorized)
	}

	chart, background, err := s.repository.DeleteChart(ctx, name)
	if err != nil {
		return newServiceError(operation, "persist_failed", err)
	}

	s.mirror.Remove(name)
	s.cache.Invalidate()
	s.releaseChartAssets(ctx, chart, background)

	s.logger.Info("chart deleted",
		zap.String("chart", name),
		zap.Int64("author_handle", viewer.Handle))
	return nil
}

// releaseChartAssets best-effort deletes every blob the records reference.
func (s *Service) releaseChartAssets(ctx context.Context, chart *ChartRecord, background *BackgroundRecord) {
	release := func(category assets.Category, ref AssetRef) {
		if ref.Zero() {
			return
		}
		if err := s.store.Delete(ctx, category, ref.Hash); err != nil {
			s.logger.Warn("asset not released",
				zap.String("category", string(category)),
				zap.String("asset_id", ref.Hash),
				zap.Error(err))
		}
	}
	release(assets.CategoryChartData, chart.Data)
	release(assets.CategoryCover, chart.Cover)
	release(assets.CategoryAudio, chart.BGM)
	release(assets.CategoryPreview, chart.Preview)
	release(assets.CategoryOriginalChart, chart.OriginalChart)
	if background != nil {
		release(assets.CategoryBackground, background.Image)
	}
}

// ListResult is one listing page plus the featured section.
type ListResult struct {
	Page     ResultPage
	Featured []ChartRecord
}

// List serves the public or private listing. The private scope requires a
// viewer and contains what the resolver exposes to them beyond the public
// set. Reads go cache, then mirror; the cache can only ever speed this up.
func (s *Service) List(ctx context.Context, query Query, viewer *auth.Session) (ListResult, error) {
	const operation = "chart.list"

	if query.Private && viewer == nil {
		return ListResult{}, newServiceError(operation, "unauthorized", ErrUnauthorized)
	}

	projections := s.projections()
	var scope []ChartRecord
	if query.Private {
		for _, record := range projections.Private {
			if decision := Resolve(&record, viewer); decision.Visible {
				scope = append(scope, record)
			}
		}
	} else {
		scope = projections.Public
	}

	filtered := Filter(scope, query)
	if query.Random {
		filtered = append([]ChartRecord(nil), filtered...)
		Shuffle(filtered)
	}

	result := ListResult{Page: Paginate(filtered, query.Page)}
	if !query.Private && query.Page == 0 {
		featured, err := s.featured(ctx)
		if err != nil {
			s.logger.Warn("featured section unavailable", zap.Error(err))
		} else {
			result.Featured = featured
		}
	}
	return result, nil
}

// projections returns the cached public/private split, recomputing from the
// mirror on a miss.
func (s *Service) projections() Projections {
	cached, generation, ok := s.cache.Get()
	if ok {
		return cached
	}
	projections := Split(s.mirror.Snapshot())
	s.cache.Set(projections, generation)
	return projections
}

// featured resolves the active event windows into their mirror records.
func (s *Service) featured(ctx context.Context) ([]ChartRecord, error) {
	now := s.clock().UTC()
	events, err := s.repository.ActiveEvents(ctx, now)
	if err != nil {
		return nil, err
	}
	var featured []ChartRecord
	for _, event := range events {
		if record, ok := s.mirror.Get(event.ChartName); ok {
			featured = append(featured, record)
		}
	}
	return featured, nil
}

// Detail is the resolver-gated single-chart view.
type Detail struct {
	Chart      ChartRecord
	Background *BackgroundRecord
	Reason     Grant
}

// GetDetail returns one chart when the resolver (or an active event
// window) exposes it to the viewer. Hidden charts answer not-found, never
// forbidden, so their existence does not leak.
func (s *Service) GetDetail(ctx context.Context, name string, viewer *auth.Session) (Detail, error) {
	const operation = "chart.detail"

	record, ok := s.mirror.Get(name)
	if !ok {
		return Detail{}, newServiceError(operation, "not_found", fmt.Errorf("%w: %s", ErrNotFound, name))
	}

	decision := Resolve(&record, viewer)
	if !decision.Visible {
		events, err := s.repository.ActiveEvents(ctx, s.clock().UTC())
		if err != nil || !EventExposed(events, name, s.clock().UTC()) {
			return Detail{}, newServiceError(operation, "not_found", fmt.Errorf("%w: %s", ErrNotFound, name))
		}
		decision = Decision{Visible: true, Reason: GrantNone}
	}

	detail := Detail{Chart: record, Reason: decision.Reason}
	if record.BackgroundName != "" {
		background, err := s.repository.GetBackground(ctx, record.BackgroundName)
		if err == nil {
			detail.Background = background
		} else if !errors.Is(err, ErrNotFound) {
			return Detail{}, newServiceError(operation, "load_failed", err)
		}
	}
	return detail, nil
}

// BindEvent creates or rebinds the featured window for a chart. Admin only.
func (s *Service) BindEvent(ctx context.Context, name string, start, end time.Time, viewer *auth.Session) error {
	const operation = "event.bind"

	if viewer == nil || !viewer.Admin {
		return newServiceError(operation, "unauthorized", ErrUnauthorized)
	}
	if !end.After(start) {
		return newServiceError(operation, "invalid_window", ErrValidation)
	}
	if _, ok := s.mirror.Get(name); !ok {
		return newServiceError(operation, "not_found", fmt.Errorf("%w: %s", ErrNotFound, name))
	}

	event := &Event{
		ChartName: name,
		StartDate: start,
		EndDate:   end,
		CreatedBy: viewer.Name,
	}
	if err := s.repository.UpsertEvent(ctx, event); err != nil {
		return newServiceError(operation, "persist_failed", err)
	}
	s.cache.Invalidate()
	return nil
}

// ClearEvent removes the featured window for a chart. Admin only.
func (s *Service) ClearEvent(ctx context.Context, name string, viewer *auth.Session) error {
	const operation = "event.clear"

	if viewer == nil || !viewer.Admin {
		return newServiceError(operation, "unauthorized", ErrUnauthorized)
	}
	if err := s.repository.DeleteEvent(ctx, name); err != nil {
		return newServiceError(operation, "persist_failed", err)
	}
	s.cache.Invalidate()
	return nil
}

// Resync reloads the mirror wholesale from the repository. The only
// recovery path after out-of-band database writes.
func (s *Service) Resync(ctx context.Context) error {
	charts, err := s.repository.ListCharts(ctx)
	if err != nil {
		return newServiceError("chart.resync", "load_failed", err)
	}
	s.mirror.Reload(charts)
	s.cache.Invalidate()
	s.logger.Info("mirror resynced", zap.Int("charts", len(charts)))
	return nil
}

// Stats summarizes the catalog for the storage endpoint.
type Stats struct {
	TotalCharts   int `json:"totalCharts"`
	PublicCharts  int `json:"publicCharts"`
	PrivateCharts int `json:"privateCharts"`
}

// CatalogStats computes catalog counts from the mirror.
func (s *Service) CatalogStats() Stats {
	projections := s.projections()
	return Stats{
		TotalCharts:   len(projections.Public) + len(projections.Private),
		PublicCharts:  len(projections.Public),
		PrivateCharts: len(projections.Private),
	}
}

func wrapPipelineError(operation string, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrInvalidChart):
		return newServiceError(operation, "invalid_chart", fmt.Errorf("%w: %v", ErrValidation, err))
	case errors.Is(err, pipeline.ErrInvalidCover):
		return newServiceError(operation, "invalid_cover", fmt.Errorf("%w: %v", ErrValidation, err))
	case errors.Is(err, pipeline.ErrUpstream):
		return newServiceError(operation, "renderer_failed", err)
	default:
		return newServiceError(operation, "pipeline_failed", err)
	}
}
