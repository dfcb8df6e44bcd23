package insightface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"reunite-go/config"
	"reunite-go/internal/integrations/facerecognition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, detect func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "version": "test"})
	})
	mux.HandleFunc("/detect", detect)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestExtractEmbeddingPicksLargestFace(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "true", r.FormValue("extract_embedding"))
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"faces_count": 2,
			"faces": []map[string]any{
				{"bbox": []int{0, 0, 10, 10}, "confidence": 0.99, "embedding": []float32{1, 0}},
				{"bbox": []int{0, 0, 50, 50}, "confidence": 0.80, "embedding": []float32{0, 1}},
			},
		})
	})

	service := NewService(config.InsightFaceConfig{URL: server.URL, Timeout: 5, DetectionThreshold: 0.5})
	assert.True(t, service.IsAvailable(context.Background()))

	vec, err := service.ExtractEmbedding(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestExtractEmbeddingWithoutFace(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "faces_count": 0, "faces": []any{}})
	})

	service := NewService(config.InsightFaceConfig{URL: server.URL, Timeout: 5})
	_, err := service.ExtractEmbedding(context.Background(), []byte("jpeg"))
	assert.True(t, errors.Is(err, facerecognition.ErrNoFace))
}

func TestExtractEmbeddingServiceError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	service := NewService(config.InsightFaceConfig{URL: server.URL, Timeout: 5})
	_, err := service.ExtractEmbedding(context.Background(), []byte("jpeg"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, facerecognition.ErrNoFace))
}

func TestIsAvailableUnreachable(t *testing.T) {
	service := NewService(config.InsightFaceConfig{URL: "http://127.0.0.1:1", Timeout: 1})
	assert.False(t, service.IsAvailable(context.Background()))
}
