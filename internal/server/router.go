// Package server exposes the catalog over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chartfall-net/chartfall/backend/internal/assets"
	"github.com/chartfall-net/chartfall/backend/internal/auth"
	"github.com/chartfall-net/chartfall/backend/internal/catalog"
	"github.com/chartfall-net/chartfall/backend/internal/newsfeed"
	"github.com/chartfall-net/chartfall/backend/internal/pipeline"
)

const sessionContextKey = "chartfall_session"

// defaultMaxUploadBytes caps a whole multipart request body (chart + cover
// + audio) when Dependencies leaves the limit unset.
const defaultMaxUploadBytes = 64 << 20

var (
	errMissingSessionManager = errors.New("session manager dependency required")
	errMissingCatalogService = errors.New("catalog service dependency required")
	errMissingAssetStore     = errors.New("asset store dependency required")
	errMissingFeedStore      = errors.New("feed store dependency required")
)

// Dependencies wires the HTTP layer's collaborators.
type Dependencies struct {
	Sessions      *auth.Manager
	Catalog       *catalog.Service
	Feed          *newsfeed.Store
	Store         assets.Store
	AdminHandles  []int64
	IngestTimeout time.Duration
	// MaxUploadBytes caps the request body of the multipart endpoints.
	// Zero selects the default.
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin handler serving the full API surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalogService
	}
	if deps.Store == nil {
		return nil, errMissingAssetStore
	}
	if deps.Feed == nil {
		return nil, errMissingFeedStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	uploadLimit := deps.MaxUploadBytes
	if uploadLimit <= 0 {
		uploadLimit = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = uploadLimit
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		catalog:       deps.Catalog,
		feed:          deps.Feed,
		store:         deps.Store,
		adminHandles:  deps.AdminHandles,
		ingestTimeout: deps.IngestTimeout,
		logger:        logger,
	}

	router.POST("/auth/session", handler.handleMintSession)
	router.GET("/repository/:category/:id", handler.handleRepositoryBlob)

	api := router.Group("/api")
	api.Use(handler.attachSession)

	api.GET("/charts", handler.handleListCharts)
	api.GET("/charts/search", handler.handleListCharts)
	api.GET("/charts/new", handler.handleNewsfeed)
	api.GET("/charts/:name", handler.handleChartDetail)
	api.GET("/storage", handler.handleStorageStats)

	protected := api.Group("/")
	protected.Use(handler.requireSession)
	protected.POST("/chart/upload", limitRequestBody(uploadLimit), handler.handleChartUpload)
	protected.PATCH("/chart/edit/:name", limitRequestBody(uploadLimit), handler.handleChartEdit)
	protected.DELETE("/chart/delete/:name", handler.handleChartDelete)
	protected.PUT("/events/:name", handler.handleEventBind)
	protected.DELETE("/events/:name", handler.handleEventClear)

	return router, nil
}

type httpHandler struct {
	sessions      *auth.Manager
	catalog       *catalog.Service
	feed          *newsfeed.Store
	store         assets.Store
	adminHandles  []int64
	ingestTimeout time.Duration
	logger        *zap.Logger
}

type sessionRequestPayload struct {
	Handle int64  `json:"handle"`
	Name   string `json:"name"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleMintSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Handle <= 0 || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session := auth.Session{
		Handle: request.Handle,
		Name:   strings.TrimSpace(request.Name),
		Admin:  h.isAdmin(request.Handle),
	}
	token, expiresIn, err := h.sessions.Issue(session)
	if err != nil {
		h.logger.Error("session issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) isAdmin(handle int64) bool {
	for _, admin := range h.adminHandles {
		if admin == handle {
			return true
		}
	}
	return false
}

// attachSession parses a bearer token when present. Reads work anonymously;
// an invalid token is rejected rather than silently downgraded.
func (h *httpHandler) attachSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Next()
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token == header {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_authorization"})
		return
	}
	session, err := h.sessions.Validate(token)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, &session)
	c.Next()
}

// limitRequestBody rejects bodies beyond limit at the transport, so an
// oversized upload fails before it is buffered instead of merely spilling
// to disk.
func limitRequestBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func (h *httpHandler) requireSession(c *gin.Context) {
	if viewerSession(c) == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func viewerSession(c *gin.Context) *auth.Session {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	session, ok := value.(*auth.Session)
	if !ok {
		return nil
	}
	return session
}

var blobContentTypes = map[assets.Category]string{
	assets.CategoryChartData:     "application/gzip",
	assets.CategoryCover:         "image/png",
	assets.CategoryAudio:         "audio/mpeg",
	assets.CategoryPreview:       "audio/mpeg",
	assets.CategoryBackground:    "image/png",
	assets.CategoryOriginalChart: "application/octet-stream",
}

func (h *httpHandler) handleRepositoryBlob(c *gin.Context) {
	category := assets.Category(c.Param("category"))
	if !assets.ValidCategory(category) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	id := c.Param("id")

	if location := h.store.Location(category, id); !location.Inline() {
		c.Redirect(http.StatusFound, location.RedirectURL)
		return
	}

	reader, err := h.store.Open(c.Request.Context(), category, id)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("blob open failed", zap.String("category", string(category)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	defer reader.Close()

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.DataFromReader(http.StatusOK, -1, blobContentTypes[category], reader, nil)
}

func (h *httpHandler) handleChartUpload(c *gin.Context) {
	viewer := viewerSession(c)

	chartName, chartData, err := readFormFile(c, "chart", true)
	if err != nil {
		respondFormFileError(c, err, "invalid_chart_file")
		return
	}
	_, coverData, err := readFormFile(c, "cover", true)
	if err != nil {
		respondFormFileError(c, err, "invalid_cover_file")
		return
	}
	_, audioData, err := readFormFile(c, "bgm", true)
	if err != nil {
		respondFormFileError(c, err, "invalid_bgm_file")
		return
	}

	request := catalog.IngestRequest{
		Title:         c.PostForm("title"),
		Artists:       c.PostForm("artists"),
		Description:   c.PostForm("description"),
		Difficulty:    c.PostForm("difficulty"),
		ChartFileName: chartName,
		Chart:         chartData,
		Cover:         coverData,
		Audio:         audioData,
		Public:        formBool(c, "public"),
		FileOpen:      formBool(c, "fileOpen"),
	}
	if rating, err := strconv.Atoi(c.PostForm("rating")); err == nil {
		request.Rating = rating
	}
	if err := decodeFormJSON(c, "derivative", &request.Derivative); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_derivative"})
		return
	}
	if err := decodeFormJSON(c, "collaboration", &request.Collaboration); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_collaboration"})
		return
	}
	if err := decodeFormJSON(c, "privateShare", &request.PrivateShare); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_private_share"})
		return
	}
	if err := decodeFormJSON(c, "anonymous", &request.Anonymous); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_anonymous"})
		return
	}

	ctx, cancel := h.ingestContext(c)
	defer cancel()

	chart, err := h.catalog.Ingest(ctx, request, viewer)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": chart.Name})
}

func (h *httpHandler) handleChartEdit(c *gin.Context) {
	viewer := viewerSession(c)
	name := c.Param("name")

	request := catalog.EditRequest{
		Title:       formStringPtr(c, "title"),
		Artists:     formStringPtr(c, "artists"),
		Description: formStringPtr(c, "description"),
		Difficulty:  formStringPtr(c, "difficulty"),
		Public:      formBoolPtr(c, "public"),
		FileOpen:    formBoolPtr(c, "fileOpen"),
	}
	if raw, ok := c.GetPostForm("rating"); ok {
		rating, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rating"})
			return
		}
		request.Rating = &rating
	}
	var derivative catalog.Derivative
	if ok, err := decodeOptionalFormJSON(c, "derivative", &derivative); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_derivative"})
		return
	} else if ok {
		request.Derivative = &derivative
	}
	var collaboration catalog.Collaboration
	if ok, err := decodeOptionalFormJSON(c, "collaboration", &collaboration); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_collaboration"})
		return
	} else if ok {
		request.Collaboration = &collaboration
	}
	var privateShare catalog.PrivateShare
	if ok, err := decodeOptionalFormJSON(c, "privateShare", &privateShare); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_private_share"})
		return
	} else if ok {
		request.PrivateShare = &privateShare
	}
	// The anonymous block is deliberately absent: it carries author
	// identity and is fixed at upload time.

	var err error
	if request.ChartFileName, request.Chart, err = readFormFile(c, "chart", false); err != nil {
		respondFormFileError(c, err, "invalid_chart_file")
		return
	}
	if _, request.Cover, err = readFormFile(c, "cover", false); err != nil {
		respondFormFileError(c, err, "invalid_cover_file")
		return
	}
	if _, request.Audio, err = readFormFile(c, "bgm", false); err != nil {
		respondFormFileError(c, err, "invalid_bgm_file")
		return
	}

	ctx, cancel := h.ingestContext(c)
	defer cancel()

	chart, err := h.catalog.Edit(ctx, name, request, viewer)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": chart.Name, "version": chart.Version})
}

func (h *httpHandler) handleChartDelete(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("name"), viewerSession(c)); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListCharts(c *gin.Context) {
	query := catalog.Query{
		Keyword:   c.Query("keyword"),
		MinRating: queryInt(c, "minRating"),
		MaxRating: queryInt(c, "maxRating"),
		Random:    queryBool(c, "random"),
		Private:   queryBool(c, "private"),
		Page:      queryInt(c, "page"),
	}
	if raw := c.Query("difficulties"); raw != "" {
		query.Difficulties = strings.Split(raw, ",")
	}

	result, err := h.catalog.List(c.Request.Context(), query, viewerSession(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := gin.H{
		"items":      summarize(result.Page.Items),
		"totalCount": result.Page.TotalCount,
		"page":       result.Page.Page,
		"pageCount":  result.Page.PageCount,
	}
	if len(result.Featured) > 0 {
		response["featured"] = summarize(result.Featured)
	}
	c.JSON(http.StatusOK, response)
}

// chartSummary is the listing projection: enough to render a card, nothing
// private.
type chartSummary struct {
	Name    string                `json:"name"`
	Title   catalog.LocalizedText `json:"title"`
	Artists catalog.LocalizedText `json:"artists"`
	Author  catalog.LocalizedText `json:"author"`
	Rating  int                   `json:"rating"`
	Tags    []catalog.Tag         `json:"tags"`
	Cover   catalog.AssetRef      `json:"cover"`
	Preview catalog.AssetRef      `json:"preview"`
	Public  bool                  `json:"isPublic"`
}

func summarize(records []catalog.ChartRecord) []chartSummary {
	summaries := make([]chartSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, chartSummary{
			Name:    record.Name,
			Title:   record.Title,
			Artists: record.Artists,
			Author:  record.Author,
			Rating:  record.Rating,
			Tags:    record.Tags,
			Cover:   record.Cover,
			Preview: record.Preview,
			Public:  record.Meta.IsPublic,
		})
	}
	return summaries
}

func (h *httpHandler) handleChartDetail(c *gin.Context) {
	detail, err := h.catalog.GetDetail(c.Request.Context(), c.Param("name"), viewerSession(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := gin.H{
		"chart":  detail.Chart,
		"reason": detail.Reason,
	}
	if detail.Background != nil {
		response["background"] = detail.Background
	}
	c.JSON(http.StatusOK, response)
}

type eventRequestPayload struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

func (h *httpHandler) handleEventBind(c *gin.Context) {
	var request eventRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.StartDate.IsZero() || request.EndDate.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.catalog.BindEvent(c.Request.Context(), c.Param("name"), request.StartDate, request.EndDate, viewerSession(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEventClear(c *gin.Context) {
	if err := h.catalog.ClearEvent(c.Request.Context(), c.Param("name"), viewerSession(c)); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleNewsfeed(c *gin.Context) {
	entries, total, err := h.feed.List(c.Request.Context(), queryInt(c, "page"))
	if err != nil {
		h.logger.Error("feed listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "totalCount": total})
}

func (h *httpHandler) handleStorageStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.CatalogStats())
}

func (h *httpHandler) ingestContext(c *gin.Context) (ctx context.Context, cancel context.CancelFunc) {
	if h.ingestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.ingestTimeout)
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	code := "internal"
	var serviceErr *catalog.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}

	switch {
	case errors.Is(err, catalog.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": code})
	case errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": code})
	case errors.Is(err, catalog.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": code})
	case errors.Is(err, pipeline.ErrUpstream):
		h.logger.Error("upstream renderer failure", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": code})
	default:
		h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": code})
	}
}

// respondFormFileError maps a failed multipart read: an exceeded body limit
// answers 413, anything else is a malformed part.
func respondFormFileError(c *gin.Context, err error, code string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": code})
}

// readFormFile loads one multipart part into memory. A missing optional
// part yields an empty name and a nil slice.
func readFormFile(c *gin.Context, field string, required bool) (string, []byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if !required && errors.Is(err, http.ErrMissingFile) {
			return "", nil, nil
		}
		return "", nil, err
	}
	data, err := readMultipartFile(header)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func decodeFormJSON(c *gin.Context, field string, target any) error {
	_, err := decodeOptionalFormJSON(c, field, target)
	return err
}

func decodeOptionalFormJSON(c *gin.Context, field string, target any) (bool, error) {
	raw, ok := c.GetPostForm(field)
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return false, err
	}
	return true, nil
}

func formBool(c *gin.Context, field string) bool {
	value, _ := strconv.ParseBool(c.PostForm(field))
	return value
}

func formBoolPtr(c *gin.Context, field string) *bool {
	raw, ok := c.GetPostForm(field)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}

func formStringPtr(c *gin.Context, field string) *string {
	value, ok := c.GetPostForm(field)
	if !ok {
		return nil
	}
	return &value
}

func queryInt(c *gin.Context, field string) int {
	value, _ := strconv.Atoi(c.Query(field))
	return value
}

func queryBool(c *gin.Context, field string) bool {
	value, _ := strconv.ParseBool(c.Query(field))
	return value
}
