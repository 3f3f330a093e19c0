package core

import (
	"context"
)

// TextExtractor pulls plain text out of a raw document. Used as the local
// fallback behind the gateway's extract_text action when no remote
// extraction service is reachable.
type TextExtractor interface {
	// ExtractText parses raw bytes using the contentType hint and returns
	// the extracted plain text plus any parser-reported metadata.
	ExtractText(ctx context.Context, data []byte, contentType string) (string, map[string]string, error)
}
