package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"reunite-go/internal/core/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository definiert die Schnittstelle für die Meldungs-Datenbank.
// Sie ist die einzige Quelle der Wahrheit für den Status einer Meldung.
type Repository interface {
	// Vermisstenmeldungen
	AddMissing(ctx context.Context, report *models.MissingReport) error
	GetMissing(ctx context.Context, id string) (*models.MissingReport, error)
	ListMissing(ctx context.Context, status models.ReportStatus) ([]models.MissingReport, error)
	FindMissingByHash(ctx context.Context, hash string) (*models.MissingReport, error)
	AddMissingUnlessDuplicate(ctx context.Context, report *models.MissingReport, isDuplicate DuplicateFunc) (*models.MissingReport, error)

	// Fundmeldungen
	AddFound(ctx context.Context, report *models.FoundReport) error
	GetFound(ctx context.Context, id string) (*models.FoundReport, error)
	ListFound(ctx context.Context, linked *bool) ([]models.FoundReport, error)
	FindFoundByHash(ctx context.Context, hash string, linked *bool) (*models.FoundReport, error)
	FindFoundDuplicate(ctx context.Context, hash string, isDuplicate DuplicateFunc) (*models.FoundReport, error)
	AddFoundUnlessDuplicate(ctx context.Context, report *models.FoundReport, isDuplicate DuplicateFunc) (*models.FoundReport, error)

	// Verknüpfung
	MarkMatched(ctx context.Context, missingID, foundID string) error
	AcceptMatch(ctx context.Context, found *models.FoundReport, missingID string) error

	// Löschen
	ClearMatched(ctx context.Context) (models.ClearCounts, error)
	ResetAll(ctx context.Context) (models.ClearCounts, error)

	// Statistik
	Stats(ctx context.Context) (models.Statistics, error)
	ImagePaths(ctx context.Context) (map[string]struct{}, error)
}

// DuplicateFunc meldet, ob ein gespeicherter Vektor dasselbe Foto zeigt
type DuplicateFunc func(embedding []float32) bool

// SQLiteRepository implementiert die Repository-Schnittstelle mit GORM.
// Schreibende Operationen werden über mu serialisiert, Lesende laufen parallel.
type SQLiteRepository struct {
	db  *gorm.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Vermisstenmeldungen

// AddMissing speichert eine neue Vermisstenmeldung im Status pending
func (r *SQLiteRepository) AddMissing(ctx context.Context, report *models.MissingReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = r.now()
	}
	report.Status = models.StatusPending
	report.LinkedFoundID = ""
	report.MatchedAt = nil

	return models.NewStorageError("add missing", r.db.WithContext(ctx).Create(report).Error)
}

// GetMissing holt eine Vermisstenmeldung anhand ihrer ID
func (r *SQLiteRepository) GetMissing(ctx context.Context, id string) (*models.MissingReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var report models.MissingReport
	if err := r.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("get missing", err)
	}
	return &report, nil
}

// ListMissing gibt Vermisstenmeldungen nach Erstellungszeit sortiert zurück.
// Ein leerer Status liefert alle Meldungen.
func (r *SQLiteRepository) ListMissing(ctx context.Context, status models.ReportStatus) ([]models.MissingReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := r.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	reports := []models.MissingReport{}
	if err := query.Find(&reports).Error; err != nil {
		return nil, models.NewStorageError("list missing", err)
	}
	return reports, nil
}

// FindMissingByHash sucht eine Vermisstenmeldung anhand des Bild-Hashes
func (r *SQLiteRepository) FindMissingByHash(ctx context.Context, hash string) (*models.MissingReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var report models.MissingReport
	result := r.db.WithContext(ctx).Where("content_hash = ?", hash).First(&report)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewStorageError("find missing by hash", result.Error)
	}
	return &report, nil
}

// AddMissingUnlessDuplicate speichert die Meldung nur, wenn weder eine Meldung mit
// gleichem Hash noch eine offene Meldung mit gleichem Vektor existiert. Prüfung und
// Anlage laufen unter derselben Sperre. Ein Duplikat wird statt nil zurückgegeben.
func (r *SQLiteRepository) AddMissingUnlessDuplicate(ctx context.Context, report *models.MissingReport, isDuplicate DuplicateFunc) (*models.MissingReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	db := r.db.WithContext(ctx)
	existing, err := duplicateMissing(db, report.ContentHash, isDuplicate)
	if err != nil || existing != nil {
		return existing, models.NewStorageError("add missing", err)
	}

	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = r.now()
	}
	report.Status = models.StatusPending
	report.LinkedFoundID = ""
	report.MatchedAt = nil

	return nil, models.NewStorageError("add missing", db.Create(report).Error)
}

// Fundmeldungen

// AddFound speichert eine noch nicht verknüpfte Fundmeldung
func (r *SQLiteRepository) AddFound(ctx context.Context, report *models.FoundReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prepareFound(report)
	return models.NewStorageError("add found", r.db.WithContext(ctx).Create(report).Error)
}

// GetFound holt eine Fundmeldung anhand ihrer ID
func (r *SQLiteRepository) GetFound(ctx context.Context, id string) (*models.FoundReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var report models.FoundReport
	if err := r.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("get found", err)
	}
	return &report, nil
}

// ListFound gibt Fundmeldungen zurück; linked filtert optional nach Verknüpfung
func (r *SQLiteRepository) ListFound(ctx context.Context, linked *bool) ([]models.FoundReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := []models.FoundReport{}
	if err := filterLinked(r.db.WithContext(ctx), linked).Order("created_at ASC, id ASC").Find(&reports).Error; err != nil {
		return nil, models.NewStorageError("list found", err)
	}
	return reports, nil
}

// FindFoundByHash sucht eine Fundmeldung anhand des Bild-Hashes
func (r *SQLiteRepository) FindFoundByHash(ctx context.Context, hash string, linked *bool) (*models.FoundReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var report models.FoundReport
	result := filterLinked(r.db.WithContext(ctx), linked).Where("content_hash = ?", hash).First(&report)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewStorageError("find found by hash", result.Error)
	}
	return &report, nil
}

// FindFoundDuplicate sucht eine nicht verknüpfte Fundmeldung mit gleichem Hash
// oder, falls isDuplicate gesetzt ist, mit gleichem Vektor
func (r *SQLiteRepository) FindFoundDuplicate(ctx context.Context, hash string, isDuplicate DuplicateFunc) (*models.FoundReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, err := duplicateFound(r.db.WithContext(ctx), hash, isDuplicate)
	return existing, models.NewStorageError("find found duplicate", err)
}

// AddFoundUnlessDuplicate speichert die Fundmeldung nur, wenn FindFoundDuplicate
// nichts findet. Prüfung und Anlage laufen unter derselben Sperre.
func (r *SQLiteRepository) AddFoundUnlessDuplicate(ctx context.Context, report *models.FoundReport, isDuplicate DuplicateFunc) (*models.FoundReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	db := r.db.WithContext(ctx)
	existing, err := duplicateFound(db, report.ContentHash, isDuplicate)
	if err != nil || existing != nil {
		return existing, models.NewStorageError("add found", err)
	}

	r.prepareFound(report)
	return nil, models.NewStorageError("add found", db.Create(report).Error)
}

// Verknüpfung

// MarkMatched verknüpft eine offene Vermisstenmeldung mit einer Fundmeldung.
// Beide Seiten werden in einer Transaktion aktualisiert.
func (r *SQLiteRepository) MarkMatched(ctx context.Context, missingID, foundID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.markMatchedTx(tx, missingID, foundID)
	})
}

// AcceptMatch legt die Fundmeldung an und verknüpft sie in derselben Transaktion.
// Verliert der Aufrufer das Rennen um die Vermisstenmeldung, bleibt keine Fundmeldung zurück.
func (r *SQLiteRepository) AcceptMatch(ctx context.Context, found *models.FoundReport, missingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prepareFound(found)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(found).Error; err != nil {
			return models.NewStorageError("accept match", err)
		}
		return r.markMatchedTx(tx, missingID, found.ID)
	})
	if err == nil {
		found.LinkedMissingID = missingID
	}
	return err
}

func (r *SQLiteRepository) markMatchedTx(tx *gorm.DB, missingID, foundID string) error {
	var missing models.MissingReport
	if err := tx.First(&missing, "id = ?", missingID).Error; err != nil {
		return notFoundOr("mark matched", err)
	}
	var found models.FoundReport
	if err := tx.First(&found, "id = ?", foundID).Error; err != nil {
		return notFoundOr("mark matched", err)
	}
	if missing.Status != models.StatusPending || found.IsLinked() {
		return models.ErrAlreadyMatched
	}

	now := r.now()
	// Bedingtes Update: auch bei parallelen Prozessen gewinnt höchstens einer
	result := tx.Model(&models.MissingReport{}).
		Where("id = ? AND status = ?", missingID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":          models.StatusMatched,
			"linked_found_id": foundID,
			"matched_at":      now,
		})
	if result.Error != nil {
		return models.NewStorageError("mark matched", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrAlreadyMatched
	}

	result = tx.Model(&models.FoundReport{}).
		Where("id = ? AND linked_missing_id = ?", foundID, "").
		Update("linked_missing_id", missingID)
	if result.Error != nil {
		return models.NewStorageError("mark matched", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrAlreadyMatched
	}
	return nil
}

// Löschen

// ClearMatched entfernt alle verknüpften Paare in einer Transaktion
func (r *SQLiteRepository) ClearMatched(ctx context.Context) (models.ClearCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var counts models.ClearCounts
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var missingPaths, foundPaths []string
		if err := tx.Model(&models.MissingReport{}).Where("status = ?", models.StatusMatched).Pluck("image_path", &missingPaths).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.FoundReport{}).Where("linked_missing_id <> ?", "").Pluck("image_path", &foundPaths).Error; err != nil {
			return err
		}

		result := tx.Where("status = ?", models.StatusMatched).Delete(&models.MissingReport{})
		if result.Error != nil {
			return result.Error
		}
		counts.MissingRemoved = result.RowsAffected

		result = tx.Where("linked_missing_id <> ?", "").Delete(&models.FoundReport{})
		if result.Error != nil {
			return result.Error
		}
		counts.FoundRemoved = result.RowsAffected
		counts.ImagePaths = nonEmpty(append(missingPaths, foundPaths...))
		return nil
	})
	if err != nil {
		return models.ClearCounts{}, models.NewStorageError("clear matched", err)
	}
	return counts, nil
}

// ResetAll leert beide Tabellen unabhängig vom Status
func (r *SQLiteRepository) ResetAll(ctx context.Context) (models.ClearCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var counts models.ClearCounts
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var missingPaths, foundPaths []string
		if err := tx.Model(&models.MissingReport{}).Pluck("image_path", &missingPaths).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.FoundReport{}).Pluck("image_path", &foundPaths).Error; err != nil {
			return err
		}

		result := tx.Where("1 = 1").Delete(&models.MissingReport{})
		if result.Error != nil {
			return result.Error
		}
		counts.MissingRemoved = result.RowsAffected

		result = tx.Where("1 = 1").Delete(&models.FoundReport{})
		if result.Error != nil {
			return result.Error
		}
		counts.FoundRemoved = result.RowsAffected
		counts.ImagePaths = nonEmpty(append(missingPaths, foundPaths...))
		return nil
	})
	if err != nil {
		return models.ClearCounts{}, models.NewStorageError("reset all", err)
	}
	return counts, nil
}

// Statistik

// Stats gibt Kennzahlen über die gespeicherten Meldungen zurück
func (r *SQLiteRepository) Stats(ctx context.Context) (models.Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats models.Statistics
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.MissingReport{}).Where("status = ?", models.StatusPending).Count(&stats.MissingPending).Error; err != nil {
		return stats, models.NewStorageError("stats", err)
	}
	if err := db.Model(&models.MissingReport{}).Where("status = ?", models.StatusMatched).Count(&stats.MissingMatched).Error; err != nil {
		return stats, models.NewStorageError("stats", err)
	}
	if err := db.Model(&models.FoundReport{}).Where("linked_missing_id <> ?", "").Count(&stats.FoundLinked).Error; err != nil {
		return stats, models.NewStorageError("stats", err)
	}
	if err := db.Model(&models.FoundReport{}).Where("linked_missing_id = ?", "").Count(&stats.FoundUnlinked).Error; err != nil {
		return stats, models.NewStorageError("stats", err)
	}

	// Neueste Meldung über beide Tabellen
	var latestMissing models.MissingReport
	if err := db.Order("created_at DESC").First(&latestMissing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, models.NewStorageError("stats", err)
		}
	} else {
		stats.LatestReport = latestMissing.CreatedAt
	}
	var latestFound models.FoundReport
	if err := db.Order("created_at DESC").First(&latestFound).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, models.NewStorageError("stats", err)
		}
	} else if latestFound.CreatedAt.After(stats.LatestReport) {
		stats.LatestReport = latestFound.CreatedAt
	}

	return stats, nil
}

// ImagePaths gibt alle Bildpfade zurück, die noch von einer Meldung referenziert werden
func (r *SQLiteRepository) ImagePaths(ctx context.Context) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missingPaths, foundPaths []string
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.MissingReport{}).Pluck("image_path", &missingPaths).Error; err != nil {
		return nil, models.NewStorageError("image paths", err)
	}
	if err := db.Model(&models.FoundReport{}).Pluck("image_path", &foundPaths).Error; err != nil {
		return nil, models.NewStorageError("image paths", err)
	}

	paths := make(map[string]struct{}, len(missingPaths)+len(foundPaths))
	for _, p := range nonEmpty(append(missingPaths, foundPaths...)) {
		paths[p] = struct{}{}
	}
	return paths, nil
}

// duplicateMissing prüft den Hash über alle Meldungen, den Vektor nur über offene
func duplicateMissing(db *gorm.DB, hash string, isDuplicate DuplicateFunc) (*models.MissingReport, error) {
	if hash != "" {
		var report models.MissingReport
		err := db.Where("content_hash = ?", hash).First(&report).Error
		if err == nil {
			return &report, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if isDuplicate == nil {
		return nil, nil
	}

	var pending []models.MissingReport
	if err := db.Where("status = ?", models.StatusPending).Order("created_at ASC, id ASC").Find(&pending).Error; err != nil {
		return nil, err
	}
	for i := range pending {
		if isDuplicate(pending[i].Embedding) {
			return &pending[i], nil
		}
	}
	return nil, nil
}

func duplicateFound(db *gorm.DB, hash string, isDuplicate DuplicateFunc) (*models.FoundReport, error) {
	unlinked := false
	if hash != "" {
		var report models.FoundReport
		err := filterLinked(db, &unlinked).Where("content_hash = ?", hash).First(&report).Error
		if err == nil {
			return &report, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if isDuplicate == nil {
		return nil, nil
	}

	var candidates []models.FoundReport
	if err := filterLinked(db, &unlinked).Order("created_at ASC, id ASC").Find(&candidates).Error; err != nil {
		return nil, err
	}
	for i := range candidates {
		if isDuplicate(candidates[i].Embedding) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (r *SQLiteRepository) prepareFound(report *models.FoundReport) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = r.now()
	}
	report.LinkedMissingID = ""
}

func filterLinked(db *gorm.DB, linked *bool) *gorm.DB {
	if linked == nil {
		return db
	}
	if *linked {
		return db.Where("linked_missing_id <> ?", "")
	}
	return db.Where("linked_missing_id = ?", "")
}

func notFoundOr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return models.NewStorageError(op, err)
}

func nonEmpty(paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
