// Package server baut den gin-Router und verwaltet den HTTP-Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"reunite-go/config"
	"reunite-go/internal/api/handlers"
	"reunite-go/internal/api/middleware"
	"reunite-go/internal/integrations/facerecognition"
	"reunite-go/internal/logger"
	"reunite-go/internal/server/sse"
	"reunite-go/internal/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Dependencies sind die Komponenten, die der Router verdrahtet
type Dependencies struct {
	Service    handlers.ReportService
	Extractor  facerecognition.Extractor // optional
	Pool       utils.PoolStats           // optional
	Hub        *sse.Hub                  // optional, ohne Hub gibt es kein /events
	Translator *middleware.Translator
	ImageRoot  string
}

// NewRouter erstellt den gin-Router mit allen Routen
func NewRouter(cfg config.ServerConfig, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(middleware.I18n(deps.Translator))

	handlers.NewAPIHandler(deps.Service, cfg.MaxUploadMB).RegisterRoutes(r)
	handlers.NewSystemHandler(deps.Service, deps.Extractor, deps.Pool).RegisterRoutes(r)
	if deps.Hub != nil {
		handlers.NewEventHandler(deps.Hub).RegisterRoutes(r)
	}

	if deps.ImageRoot != "" {
		r.Static("/images", deps.ImageRoot)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Externe Formulare, die Seiten selbst sind nicht Teil des Dienstes
	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			r.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.StaticDir))))
		} else {
			log.Warnf("Static directory %s not usable, skipping", cfg.StaticDir)
		}
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AddAllowHeaders("Accept-Language")
	c.AddExposeHeaders("Content-Language")
	return c
}

// Server kapselt den http.Server
type Server struct {
	httpServer *http.Server
}

// New erstellt einen Server für den Router
func New(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Addr gibt die Listen-Adresse zurück
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start blockiert, bis der Server beendet wird. Ein regulärer Shutdown ist kein Fehler.
func (s *Server) Start() error {
	log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown beendet laufende Anfragen innerhalb der Frist des Kontexts
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
