// Package mivaa is a thin façade over the external PDF extraction gateway.
// It maps extraction types onto gateway action names, retries transient
// failures with exponential backoff, and normalizes the gateway's ad hoc
// JSON into the service's own types.
package mivaa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
)

// Gateway action names.
const (
	actionExtractMarkdown = "pdf_extract_markdown"
	actionExtractTables   = "pdf_extract_tables"
	actionExtractImages   = "pdf_extract_images"
	actionProcessDocument = "pdf_process_document"
	actionHealth          = "health_check"
)

const maxAttempts = 3

// Client calls the extraction gateway over HTTP.
type Client struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	limiter   *rate.Limiter
	baseDelay time.Duration
	logger    *slog.Logger
}

type Option func(*Client)

// WithBaseDelay overrides the first backoff delay (tests shrink it).
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithHTTPClient swaps the underlying http client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL, apiKey string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 60 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		baseDelay: time.Second,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// gatewayRequest is the envelope every action call sends.
type gatewayRequest struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

// gatewayResponse is the gateway's {success, data} / {success, error} shape.
type gatewayResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// call performs one gateway action with bounded retry: up to three attempts
// with 1s/2s/4s backoff on any error, then the final error is surfaced.
func (c *Client) call(ctx context.Context, action string, payload map[string]any) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			c.logger.Warn("gateway call retrying", "action", action, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := c.doOnce(ctx, action, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("gateway action %s failed after %d attempts: %w", action, maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, action string, payload map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(gatewayRequest{Action: action, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/pdf-extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, raw)
	}

	var gr gatewayResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !gr.Success {
		msg := "unknown gateway error"
		if gr.Error != nil {
			msg = gr.Error.Message
		}
		return nil, fmt.Errorf("gateway error: %s", msg)
	}

	return gr.Data, nil
}

// ExtractMarkdown returns the document's markdown text.
func (c *Client) ExtractMarkdown(ctx context.Context, documentPath string) (string, error) {
	data, err := c.call(ctx, actionExtractMarkdown, map[string]any{"document_path": documentPath})
	if err != nil {
		return "", err
	}
	var out struct {
		Markdown string `json:"markdown"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode markdown payload: %w", err)
	}
	return out.Markdown, nil
}

// wireTable is the gateway's table shape before normalization.
type wireTable struct {
	ID      string     `json:"id"`
	Page    int        `json:"page"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ExtractTables returns the document's tables in normalized form.
func (c *Client) ExtractTables(ctx context.Context, documentPath string) ([]models.TableData, error) {
	data, err := c.call(ctx, actionExtractTables, map[string]any{"document_path": documentPath})
	if err != nil {
		return nil, err
	}
	var out struct {
		Tables []wireTable `json:"tables"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode tables payload: %w", err)
	}
	tables := make([]models.TableData, 0, len(out.Tables))
	for i, t := range out.Tables {
		tables = append(tables, normalizeTable(i, t))
	}
	return tables, nil
}

func normalizeTable(idx int, t wireTable) models.TableData {
	id := t.ID
	if id == "" {
		id = fmt.Sprintf("table_%d", idx)
	}
	cols := len(t.Headers)
	for _, r := range t.Rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return models.TableData{
		ID:       id,
		Page:     t.Page,
		Headers:  t.Headers,
		Rows:     t.Rows,
		RowCount: len(t.Rows),
		ColCount: cols,
	}
}

// wireImage carries base64 image bytes off the wire.
type wireImage struct {
	ID       string            `json:"id"`
	Page     int               `json:"page"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Format   string            `json:"format"`
	Base64   string            `json:"data_base64"`
	Metadata map[string]string `json:"metadata"`
}

// ExtractImages returns the document's images with bytes decoded.
func (c *Client) ExtractImages(ctx context.Context, documentPath string) ([]models.ImageData, error) {
	data, err := c.call(ctx, actionExtractImages, map[string]any{"document_path": documentPath})
	if err != nil {
		return nil, err
	}
	var out struct {
		Images []wireImage `json:"images"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode images payload: %w", err)
	}

	images := make([]models.ImageData, 0, len(out.Images))
	for i, w := range out.Images {
		img := models.ImageData{
			ID:       w.ID,
			Page:     w.Page,
			Width:    w.Width,
			Height:   w.Height,
			Format:   w.Format,
			Metadata: w.Metadata,
		}
		if img.ID == "" {
			img.ID = fmt.Sprintf("image_%d", i)
		}
		if w.Base64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(w.Base64)
			if err != nil {
				c.logger.Warn("image base64 decode failed", "image_id", img.ID, "error", err)
			} else {
				img.Data = decoded
			}
		}
		images = append(images, img)
	}
	return images, nil
}

// ProcessDocument runs the full extraction (markdown + tables + images) in
// one gateway round trip.
func (c *Client) ProcessDocument(ctx context.Context, documentPath string) (*models.ExtractionResult, error) {
	data, err := c.call(ctx, actionProcessDocument, map[string]any{"document_path": documentPath})
	if err != nil {
		return nil, err
	}
	var out struct {
		DocumentID string      `json:"document_id"`
		Filename   string      `json:"filename"`
		Markdown   string      `json:"markdown"`
		Tables     []wireTable `json:"tables"`
		Images     []wireImage `json:"images"`
		PageCount  int         `json:"page_count"`
		Language   string      `json:"language"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode document payload: %w", err)
	}

	res := &models.ExtractionResult{
		DocumentID: out.DocumentID,
		Filename:   out.Filename,
		Markdown:   out.Markdown,
		Metadata: models.Metadata{
			PageCount:   out.PageCount,
			Language:    out.Language,
			ExtractedAt: time.Now(),
		},
	}
	for i, t := range out.Tables {
		res.Tables = append(res.Tables, normalizeTable(i, t))
	}
	for i, w := range out.Images {
		img := models.ImageData{ID: w.ID, Page: w.Page, Width: w.Width, Height: w.Height, Format: w.Format, Metadata: w.Metadata}
		if img.ID == "" {
			img.ID = fmt.Sprintf("image_%d", i)
		}
		if w.Base64 != "" {
			if decoded, err := base64.StdEncoding.DecodeString(w.Base64); err == nil {
				img.Data = decoded
			}
		}
		res.Images = append(res.Images, img)
	}
	return res, nil
}

// HealthCheck verifies the gateway is reachable and answering.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.call(ctx, actionHealth, nil)
	return err
}

var _ core.ExtractionClient = (*Client)(nil)
