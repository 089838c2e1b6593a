package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/telemetry"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 4 << 20

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// clientFault reports whether err is a 4xx response. Those are the caller's
// problem and do not count against the backend's health.
func clientFault(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// callerGoneError marks a call abandoned because the caller's context ended.
// The backend never got a fair chance to answer, so it is not held against
// its health.
type callerGoneError struct{ err error }

func (e *callerGoneError) Error() string { return e.err.Error() }
func (e *callerGoneError) Unwrap() error { return e.err }

func countsAsSuccess(err error) bool {
	var gone *callerGoneError
	return err == nil || clientFault(err) || errors.As(err, &gone)
}

// ClientConfig configures the backend client.
type ClientConfig struct {
	BaseURL          string
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client talks JSON over HTTP to the ads-management and ingestion backend.
// Decisioning lookups and telemetry ingestion sit behind separate circuit
// breakers: a slow decisioning API must never stop events from being sent.
type Client struct {
	baseURL     string
	http        *http.Client
	decisioning *gobreaker.CircuitBreaker[[]byte]
	ingestion   *gobreaker.CircuitBreaker[[]byte]
	logger      *zap.Logger
}

func newBreaker(name string, cfg ClientConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[[]byte] {
	threshold := cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// NewClient builds a client. Failure threshold and open timeout default to
// 5 consecutive failures and 30 seconds.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		decisioning: newBreaker("backend-decisioning", cfg, logger),
		ingestion:   newBreaker("backend-ingestion", cfg, logger),
		logger:      logger,
	}
}

// DecisioningState reports the breaker state for candidate, content and
// viewer lookups.
func (c *Client) DecisioningState() gobreaker.State { return c.decisioning.State() }

// IngestionState reports the breaker state for telemetry sends.
func (c *Client) IngestionState() gobreaker.State { return c.ingestion.State() }

func (c *Client) do(ctx context.Context, cb *gobreaker.CircuitBreaker[[]byte], method, path string, body any) ([]byte, error) {
	out, err := cb.Execute(func() ([]byte, error) {
		var rdr io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode %s body: %w", path, err)
			}
			rdr = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &callerGoneError{err: err}
			}
			return nil, err
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				c.logger.Debug("response body close", zap.Error(cerr))
			}
		}()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			if ctx.Err() != nil {
				return nil, &callerGoneError{err: err}
			}
			return nil, fmt.Errorf("read %s response: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s %s: %w", method, path, telemetry.ErrTransportUnavailable)
	}
	return out, err
}

type candidatesResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
}

// Candidates asks the backend for the campaigns eligible for rc.
func (c *Client) Candidates(ctx context.Context, rc models.RequestContext) ([]models.Campaign, error) {
	data, err := c.do(ctx, c.decisioning, http.MethodPost, "/v1/decisioning", rc)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	var resp candidatesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return resp.Campaigns, nil
}

// ContentMetadata fetches metadata for a content id.
func (c *Client) ContentMetadata(ctx context.Context, contentID string) (models.ContentMetadata, error) {
	data, err := c.do(ctx, c.decisioning, http.MethodGet, "/v1/content/"+url.PathEscape(contentID), nil)
	if err != nil {
		return models.ContentMetadata{}, fmt.Errorf("fetch content %s: %w", contentID, err)
	}
	var md models.ContentMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return models.ContentMetadata{}, fmt.Errorf("decode content %s: %w", contentID, err)
	}
	if md.ID == "" {
		md.ID = contentID
	}
	return md, nil
}

// ViewerPreferences fetches stored preferences. An unknown viewer yields
// nil preferences and no error.
func (c *Client) ViewerPreferences(ctx context.Context, viewerID string) (*models.ViewerPreferences, error) {
	data, err := c.do(ctx, c.decisioning, http.MethodGet, "/v1/viewers/"+url.PathEscape(viewerID)+"/preferences", nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch viewer %s: %w", viewerID, err)
	}
	var prefs models.ViewerPreferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("decode viewer %s: %w", viewerID, err)
	}
	return &prefs, nil
}

// SendEvent posts one event to the ingestion endpoint.
func (c *Client) SendEvent(ctx context.Context, ev models.InteractionEvent) error {
	if _, err := c.do(ctx, c.ingestion, http.MethodPost, "/v1/track", ev); err != nil {
		return fmt.Errorf("send event %s: %w", ev.ID, err)
	}
	return nil
}

// SendBatch posts a batch of events to the ingestion endpoint.
func (c *Client) SendBatch(ctx context.Context, batch models.EventBatch) error {
	if _, err := c.do(ctx, c.ingestion, http.MethodPost, "/v1/track/batch", batch); err != nil {
		return fmt.Errorf("send batch %s (%d events): %w", batch.ID, len(batch.Events), err)
	}
	return nil
}

// HealthCheck pings the backend.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.do(ctx, c.decisioning, http.MethodGet, "/health", nil)
	return err
}

var _ telemetry.Transport = (*Client)(nil)
