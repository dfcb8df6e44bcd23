package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reunite-go/internal/api/middleware"
	"reunite-go/internal/cleanup"
	"reunite-go/internal/core/processor"
	"reunite-go/internal/integrations/mqtt"
	"reunite-go/internal/integrations/provider"
	"reunite-go/internal/server"
	"reunite-go/internal/server/sse"
	"reunite-go/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP API. The server accepts missing and found reports,
compares uploaded photos and streams match events to connected clients.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides server.host)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Server.Host = host
	}
	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	providers, err := provider.CreateManager(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	extractor, _ := providers.GetActiveProvider()
	if closer, ok := extractor.(io.Closer); ok {
		defer closer.Close()
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if available := providers.GetAvailableProviders(checkCtx); len(available) == 0 {
		log.Warnf("Embedding provider %s is not reachable yet, comparisons will fail until it is", extractor.Name())
	}
	checkCancel()

	workers := a.cfg.Matching.Workers
	if workers <= 0 {
		workers = processor.DefaultWorkerCount()
	}
	pool := processor.NewWorkerPool(extractor, workers)
	defer pool.Shutdown()

	hub := sse.NewHub()
	go hub.Run()
	defer hub.Stop()

	mqttClient := mqtt.NewClient(a.cfg.MQTT)
	if err := mqttClient.Start(); err != nil {
		// Der Client verbindet sich selbst neu, der Dienst läuft ohne Broker weiter
		log.Warnf("MQTT unavailable: %v", err)
	}
	defer mqttClient.Stop()

	notifier := services.NewNotifierService(hub, mqttClient)
	manager := a.manager(pool, notifier)

	sweeper := cleanup.NewService(a.repo, a.images,
		time.Duration(a.cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(a.cfg.Cleanup.MinAgeMinutes)*time.Minute)
	sweeper.StartBackgroundCleanup()
	defer sweeper.StopBackgroundCleanup()

	translator, err := middleware.NewTranslator(middleware.I18nConfig{DefaultLanguage: a.cfg.I18n.DefaultLanguage})
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	router := server.NewRouter(a.cfg.Server, server.Dependencies{
		Service:    manager,
		Extractor:  extractor,
		Pool:       pool,
		Hub:        hub,
		Translator: translator,
		ImageRoot:  a.images.Root(),
	})
	srv := server.New(a.cfg.Server, router)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error during shutdown: %v", err)
		}
	}()

	log.WithFields(log.Fields{
		"addr":      srv.Addr(),
		"provider":  extractor.Name(),
		"workers":   workers,
		"threshold": a.cfg.Matching.Threshold,
	}).Info("Reunite server starting")

	return srv.Start()
}
