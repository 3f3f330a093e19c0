package mivaa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayStub(t *testing.T, handler func(action string, payload map[string]any) (any, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gatewayRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data, errMsg := handler(req.Action, req.Payload)
		w.Header().Set("Content-Type", "application/json")
		if errMsg != "" {
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"message": errMsg},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	}))
}

func TestExtractMarkdown(t *testing.T) {
	srv := gatewayStub(t, func(action string, payload map[string]any) (any, string) {
		assert.Equal(t, "pdf_extract_markdown", action)
		assert.Equal(t, "docs/cat.pdf", payload["document_path"])
		return map[string]string{"markdown": "# Catalog"}, ""
	})
	defer srv.Close()

	c := NewClient(srv.URL, "key", nil, WithBaseDelay(time.Millisecond))
	md, err := c.ExtractMarkdown(context.Background(), "docs/cat.pdf")
	require.NoError(t, err)
	assert.Equal(t, "# Catalog", md)
}

func TestRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := gatewayStub(t, func(action string, payload map[string]any) (any, string) {
		if calls.Add(1) < 3 {
			return nil, "temporary glitch"
		}
		return map[string]string{"markdown": "ok"}, ""
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, WithBaseDelay(time.Millisecond))
	md, err := c.ExtractMarkdown(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", md)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := gatewayStub(t, func(action string, payload map[string]any) (any, string) {
		calls.Add(1)
		return nil, "down for maintenance"
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, WithBaseDelay(time.Millisecond))
	_, err := c.ExtractMarkdown(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "down for maintenance")
	assert.Equal(t, int32(3), calls.Load())
}

func TestExtractImagesDecodesBase64(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	srv := gatewayStub(t, func(action string, payload map[string]any) (any, string) {
		return map[string]any{
			"images": []map[string]any{{
				"id": "img1", "page": 2, "width": 640, "height": 480,
				"format":      "png",
				"data_base64": base64.StdEncoding.EncodeToString(raw),
			}},
		}, ""
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, WithBaseDelay(time.Millisecond))
	images, err := c.ExtractImages(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, raw, images[0].Data)
	assert.Equal(t, 640, images[0].Width)
}

func TestExtractTablesNormalizes(t *testing.T) {
	srv := gatewayStub(t, func(action string, payload map[string]any) (any, string) {
		return map[string]any{
			"tables": []map[string]any{{
				"page":    1,
				"headers": []string{"Name", "Finish"},
				"rows":    [][]string{{"Valenova", "matte"}, {"Harmony", "gloss"}},
			}},
		}, ""
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, WithBaseDelay(time.Millisecond))
	tables, err := c.ExtractTables(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "table_0", tables[0].ID)
	assert.Equal(t, 2, tables[0].RowCount)
	assert.Equal(t, 2, tables[0].ColCount)
}

func TestHealthCheck(t *testing.T) {
	srv := gatewayStub(t, func(action string, payload map[string]any) (any, string) {
		if action == "health_check" {
			return map[string]string{"status": "ok"}, ""
		}
		return nil, fmt.Sprintf("unexpected action %s", action)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, WithBaseDelay(time.Millisecond))
	assert.NoError(t, c.HealthCheck(context.Background()))
}
