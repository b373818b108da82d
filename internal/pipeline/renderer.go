package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BackgroundRenderer produces the derived stage-background visual from a
// publicly resolvable cover URL. This is the only network-dependent step of
// the pipeline and the most failure-prone one.
type BackgroundRenderer interface {
	Render(ctx context.Context, coverURL string) ([]byte, error)
}

// RendererClientConfig configures the HTTP renderer client.
type RendererClientConfig struct {
	BaseURL string
	// CallTimeout bounds each individual HTTP call, distinct from the
	// caller's overall ingestion timeout.
	CallTimeout time.Duration
	MaxAttempts int
	// PollInterval spaces the download polls. Zero selects the default.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// maxDownloadPolls caps the download loop independently of the caller's
// context, so a job the renderer never finishes cannot pin the goroutine.
const maxDownloadPolls = 240

// RendererClient calls the external visual-transformation service: submit
// the cover URL, poll the job, download the produced bytes. Calls run
// behind a circuit breaker so a dead renderer fails ingestions fast instead
// of stacking up blocked requests.
type RendererClient struct {
	baseURL      string
	client       *http.Client
	breaker      *gobreaker.CircuitBreaker[[]byte]
	maxAttempts  int
	pollInterval time.Duration
	logger       *zap.Logger
}

type renderRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type renderResponse struct {
	ID string `json:"id"`
}

// NewRendererClient constructs a client with bounded timeouts and retries.
func NewRendererClient(cfg RendererClientConfig) *RendererClient {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "background-renderer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &RendererClient{
		baseURL:      cfg.BaseURL,
		client:       &http.Client{Timeout: timeout},
		breaker:      breaker,
		maxAttempts:  attempts,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Render runs the submit/poll/download sequence with retries and backoff.
// Exhausted retries surface as ErrUpstream.
func (r *RendererClient) Render(ctx context.Context, coverURL string) ([]byte, error) {
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		image, err := r.breaker.Execute(func() ([]byte, error) {
			return r.renderOnce(ctx, coverURL)
		})
		if err == nil {
			return image, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		r.logger.Warn("background render attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %v", ErrUpstream, lastErr)
}

func (r *RendererClient) renderOnce(ctx context.Context, coverURL string) ([]byte, error) {
	payload, err := json.Marshal(renderRequest{Type: "background_v3", URL: coverURL})
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/convert", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := r.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("convert returned %d: %s", response.StatusCode, body)
	}

	var converted renderResponse
	if err := json.NewDecoder(response.Body).Decode(&converted); err != nil {
		return nil, fmt.Errorf("convert response malformed: %w", err)
	}
	if converted.ID == "" {
		return nil, errors.New("convert response missing job id")
	}

	return r.download(ctx, converted.ID)
}

// download polls the finished artifact; the renderer answers 404 until the
// job completes. The loop is bounded on its own, even under a caller
// context with no deadline.
func (r *RendererClient) download(ctx context.Context, jobID string) ([]byte, error) {
	for poll := 0; poll < maxDownloadPolls; poll++ {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/download/"+jobID, nil)
		if err != nil {
			return nil, err
		}
		response, err := r.client.Do(request)
		if err != nil {
			return nil, err
		}
		if response.StatusCode == http.StatusOK {
			data, err := io.ReadAll(response.Body)
			response.Body.Close()
			if err != nil {
				return nil, err
			}
			return data, nil
		}
		response.Body.Close()
		if response.StatusCode != http.StatusNotFound {
			return nil, fmt.Errorf("download returned %d", response.StatusCode)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
	return nil, fmt.Errorf("render job %s unfinished after %d polls", jobID, maxDownloadPolls)
}
