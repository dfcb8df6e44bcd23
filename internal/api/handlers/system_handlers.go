package handlers

import (
	"context"
	"net/http"
	"time"

	"reunite-go/internal/api/middleware"
	"reunite-go/internal/core/models"
	"reunite-go/internal/integrations/facerecognition"
	"reunite-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SystemHandler liefert den Betriebszustand des Dienstes
type SystemHandler struct {
	service   ReportService
	extractor facerecognition.Extractor
	pool      utils.PoolStats
	startedAt time.Time
}

// StatusResponse ist die Antwort von GET /api/status
type StatusResponse struct {
	Reports   models.Statistics  `json:"reports"`
	Extractor ExtractorStatus    `json:"extractor"`
	System    *utils.SystemStats `json:"system"`
	Uptime    string             `json:"uptime"`
}

// ExtractorStatus beschreibt den aktiven Gesichtsvektor-Provider
type ExtractorStatus struct {
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
}

// NewSystemHandler erstellt einen neuen System-Handler. extractor und pool dürfen nil sein.
func NewSystemHandler(service ReportService, extractor facerecognition.Extractor, pool utils.PoolStats) *SystemHandler {
	return &SystemHandler{
		service:   service,
		extractor: extractor,
		pool:      pool,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registriert die System-Routen
func (h *SystemHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/api/status", h.Status)
	router.GET("/healthz", h.Health)
}

// Status gibt Meldungszahlen, Provider-Zustand und Systemwerte zurück
func (h *SystemHandler) Status(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to load report statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "admin.failed")})
		return
	}

	resp := StatusResponse{
		Reports: stats,
		System:  utils.GetSystemStats(h.pool),
		Uptime:  time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.extractor != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		resp.Extractor = ExtractorStatus{
			Provider:  string(h.extractor.Name()),
			Available: h.extractor.IsAvailable(ctx),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Health antwortet immer mit 200, solange der Prozess läuft
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
