package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"reunite-go/config"
	"reunite-go/internal/api/middleware"
	"reunite-go/internal/core/lifecycle"
	"reunite-go/internal/core/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyService struct{}

func (emptyService) Compare(context.Context, lifecycle.CompareRequest) (*lifecycle.CompareResult, error) {
	return &lifecycle.CompareResult{Outcome: lifecycle.OutcomeNovel}, nil
}
func (emptyService) ReportMissing(context.Context, lifecycle.MissingInput) (*models.MissingReport, bool, error) {
	return &models.MissingReport{}, false, nil
}
func (emptyService) ReportFound(context.Context, lifecycle.FoundInput) (*models.FoundReport, bool, error) {
	return &models.FoundReport{}, false, nil
}
func (emptyService) ListPending(context.Context) ([]models.MissingReport, error) { return nil, nil }
func (emptyService) ListFound(context.Context, *bool) ([]models.FoundReport, error) {
	return nil, nil
}
func (emptyService) ClearMatched(context.Context) (models.ClearCounts, error) {
	return models.ClearCounts{}, nil
}
func (emptyService) ResetAll(context.Context) (models.ClearCounts, error) {
	return models.ClearCounts{}, nil
}
func (emptyService) Stats(context.Context) (models.Statistics, error) {
	return models.Statistics{}, nil
}

func newTestRouter(t *testing.T, cfg config.ServerConfig, imageRoot string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	translator, err := middleware.NewTranslator(middleware.I18nConfig{DefaultLanguage: "en"})
	require.NoError(t, err)

	return NewRouter(cfg, Dependencies{
		Service:    emptyService{},
		Translator: translator,
		ImageRoot:  imageRoot,
	})
}

func TestRouterServesImagesAndMetrics(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "missing"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "missing", "m1.jpg"), []byte("jpeg"), 0644))

	r := newTestRouter(t, config.ServerConfig{MaxUploadMB: 1}, root)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/missing/m1.jpg", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing-children", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRouterWithoutHubHasNoEvents(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{}, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterCORS(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{CORSOrigins: []string{"https://reunite.example.org"}}, "")

	req := httptest.NewRequest(http.MethodGet, "/missing-children", nil)
	req.Header.Set("Origin", "https://reunite.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://reunite.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterServesStaticDir(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>reunite</h1>"), 0644))

	r := newTestRouter(t, config.ServerConfig{StaticDir: static}, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reunite")
}
