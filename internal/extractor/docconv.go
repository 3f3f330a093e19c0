// Package extractor is the local text-extraction fallback used when the
// extraction gateway is unreachable.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"code.sajari.com/docconv"

	"github.com/mkalinski-dev/materio/internal/core"
)

var _ core.TextExtractor = (*DocconvExtractor)(nil)

type DocconvExtractor struct {
	useReadability bool
	logger         *slog.Logger
}

func NewDocconvExtractor(useReadability bool, logger *slog.Logger) *DocconvExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocconvExtractor{useReadability: useReadability, logger: logger}
}

// ExtractText converts raw bytes to plain text based on the content type.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return "", nil, fmt.Errorf("docconv convert %s: %w", contentType, err)
	}

	text := strings.TrimSpace(res.Body)
	if text == "" {
		e.logger.Warn("docconv extracted empty text", "content_type", contentType)
	}

	return text, res.Meta, nil
}
