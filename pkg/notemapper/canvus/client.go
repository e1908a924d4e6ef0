package canvus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

const (
	apiPrefix        = "api/v1/canvases"
	tokenHeader      = "Private-Token"
	noteWidgetType   = "Note"
	sharedCanvasType = "SharedCanvas"
	maxErrorBody     = 4096
)

// APIError is a non-2xx response from the canvas server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("canvus api error %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     notemapper.Logger
}

type Option func(*Config)

// WithHTTPClient replaces the default client. Its Timeout is left alone.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *Config) {
		cfg.HTTPClient = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.Timeout = d
	}
}

func WithLogger(log notemapper.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = log
	}
}

func defaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}

// Client talks to a Canvus server's REST API. It implements
// notemapper.CanvasService.
type Client struct {
	server string
	apiKey string
	http   *http.Client
	log    notemapper.Logger
}

var _ notemapper.CanvasService = (*Client)(nil)

func NewClient(server, apiKey string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		return nil, fmt.Errorf("canvus server url is empty")
	}
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid canvus server url %q", server)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger().Named("canvus")
	}

	return &Client{
		server: server,
		apiKey: apiKey,
		http:   cfg.HTTPClient,
		log:    cfg.Logger,
	}, nil
}

// Server returns the base URL the client was built with.
func (c *Client) Server() string { return c.server }

func (c *Client) ListCanvases(ctx context.Context) ([]notemapper.Canvas, error) {
	var raw []canvasJSON
	if err := c.do(ctx, http.MethodGet, "list canvases", nil, &raw); err != nil {
		return nil, readError("list canvases", err)
	}

	out := make([]notemapper.Canvas, 0, len(raw))
	for i, r := range raw {
		canvas, ok := r.toCanvas()
		if !ok {
			c.log.Debugf("Skipping canvas %d without id or name", i)
			continue
		}
		out = append(out, canvas)
	}
	return out, nil
}

// ListAnchors returns the complete anchors of canvasID. Entries missing
// geometry are skipped and logged.
func (c *Client) ListAnchors(ctx context.Context, canvasID string) ([]notemapper.Anchor, error) {
	var raw []anchorJSON
	if err := c.do(ctx, http.MethodGet, "list anchors", nil, &raw, canvasID, "anchors"); err != nil {
		return nil, readError("list anchors", err)
	}

	out := make([]notemapper.Anchor, 0, len(raw))
	for i, r := range raw {
		a, err := r.toAnchor()
		if err != nil {
			c.log.Warnf("Skipping anchor %d on canvas %s: %v", i, canvasID, err)
			continue
		}
		out = append(out, a)
	}
	c.log.Debugf("Fetched %d anchors for canvas %s", len(out), canvasID)
	return out, nil
}

func (c *Client) GetAnchor(ctx context.Context, canvasID, anchorID string) (notemapper.Anchor, error) {
	var raw anchorJSON
	if err := c.do(ctx, http.MethodGet, "get anchor", nil, &raw, canvasID, "anchors", anchorID); err != nil {
		return notemapper.Anchor{}, readError("get anchor", err)
	}
	return raw.toAnchor()
}

// CreateNotes creates notes one at a time in slice order. A failure after at
// least one note was created is a PartialFailure; the result always carries
// the number created.
func (c *Client) CreateNotes(ctx context.Context, canvasID, anchorID string, notes []notemapper.PlacedNote) (notemapper.PlaceResult, error) {
	var result notemapper.PlaceResult

	for i, n := range notes {
		payload := newNotePayload(n)
		if err := c.do(ctx, http.MethodPost, "create note", payload, nil, canvasID, "notes"); err != nil {
			err = createError(err)
			if result.CreatedCount > 0 {
				return result, notemapper.Wrap(notemapper.ErrPartialFailure, "create notes",
					fmt.Errorf("note %d of %d (anchor %s): %w", i+1, len(notes), anchorID, err))
			}
			return result, err
		}
		result.CreatedCount++
		c.log.Debugf("Created note %d/%d on canvas %s", i+1, len(notes), canvasID)
	}
	return result, nil
}

// GetCanvasSize reads the extent of the canvas from its SharedCanvas widget.
func (c *Client) GetCanvasSize(ctx context.Context, canvasID string) (notemapper.CanvasSize, error) {
	var widgets []widgetJSON
	if err := c.do(ctx, http.MethodGet, "canvas size", nil, &widgets, canvasID, "widgets"); err != nil {
		return notemapper.CanvasSize{}, readError("canvas size", err)
	}

	for _, w := range widgets {
		if w.WidgetType != sharedCanvasType {
			continue
		}
		if size, ok := w.size(); ok {
			return size, nil
		}
		return notemapper.CanvasSize{}, notemapper.Errorf(notemapper.ErrMissingFields, "canvas size",
			"shared canvas widget on %s has no size", canvasID)
	}
	return notemapper.CanvasSize{}, notemapper.Errorf(notemapper.ErrNotFound, "canvas size",
		"no shared canvas widget on %s", canvasID)
}

func (c *Client) do(ctx context.Context, method, op string, payload, out any, segments ...string) error {
	endpoint := c.server + "/" + apiPrefix
	for _, seg := range segments {
		endpoint += "/" + url.PathEscape(seg)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set(tokenHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %w", op, errDecode, err)
	}
	return nil
}
