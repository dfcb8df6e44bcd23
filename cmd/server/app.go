package main

import (
	"fmt"
	"io"

	"reunite-go/config"
	"reunite-go/internal/core/lifecycle"
	"reunite-go/internal/core/matcher"
	"reunite-go/internal/db"
	"reunite-go/internal/db/repository"
	"reunite-go/internal/logger"
	"reunite-go/internal/storage"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app bündelt die Komponenten, die alle Befehle brauchen
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	repo    *repository.SQLiteRepository
	images  *storage.ImageStore
	engine  *matcher.Engine
	closers []io.Closer
}

// loadApp lädt Konfiguration, Logger, Datenbank und Bildverzeichnis
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCloser, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	database, err := db.Open(cfg.DB)
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	images, err := storage.NewImageStore(cfg.Server.ImageDir)
	if err != nil {
		_ = db.Close(database)
		_ = logCloser.Close()
		return nil, err
	}

	repo := repository.NewSQLiteRepository(database)
	return &app{
		cfg:     cfg,
		db:      database,
		repo:    repo,
		images:  images,
		engine:  matcher.NewEngine(repo, cfg.Matching.Threshold, cfg.Matching.DuplicateEpsilon),
		closers: []io.Closer{logCloser},
	}, nil
}

// manager erstellt den Manager; embedder und notifier dürfen für Verwaltungsbefehle nil sein
func (a *app) manager(embedder lifecycle.Embedder, notifier lifecycle.Notifier) *lifecycle.Manager {
	return lifecycle.NewManager(a.repo, a.engine, embedder, a.images, notifier, lifecycle.Options{
		Timeout:          a.cfg.Matching.Timeout,
		MaxAcceptRetries: a.cfg.Matching.MaxAcceptRetries,
		SurfaceAll:       a.cfg.Matching.SurfaceAll,
	})
}

func (a *app) close() {
	if err := db.Close(a.db); err != nil {
		log.Warnf("Failed to close database: %v", err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}
