// Package lifecycle steuert den Weg eines eingereichten Fotos vom Empfang bis zum
// Ergebnis und verwaltet das Anlegen und Löschen von Meldungen.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reunite-go/internal/core/matcher"
	"reunite-go/internal/core/models"
	"reunite-go/internal/db/repository"
	"reunite-go/internal/integrations/facerecognition"
	"reunite-go/internal/metrics"
	"reunite-go/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Outcome ist der Endzustand eines Abgleichs
type Outcome string

const (
	OutcomeMatched         Outcome = "matched"
	OutcomeAlreadyReported Outcome = "already_reported"
	OutcomeNovel           Outcome = "novel"
)

// Namen der administrativen Operationen für Ereignisse und Metriken
const (
	OperationClearMatched = "clear_matched"
	OperationResetAll     = "reset_all"
)

// Embedder berechnet den Gesichtsvektor eines Fotos (z.B. processor.WorkerPool)
type Embedder interface {
	Extract(ctx context.Context, imageData []byte) ([]float32, error)
}

// Notifier verteilt Zustandsänderungen (z.B. services.NotifierService)
type Notifier interface {
	NotifyMatch(result models.MatchResult)
	NotifyReport(kind, id string)
	NotifyCleared(operation string, counts models.ClearCounts)
}

// FinderInfo enthält die Kontaktdaten der Person, die das Kind gefunden hat
type FinderInfo struct {
	Name            string `validate:"max=200"`
	Phone           string `validate:"max=50"`
	Email           string `validate:"omitempty,email,max=254"`
	FoundLocation   string `validate:"max=500"`
	CollectLocation string `validate:"max=500"`
}

// CompareRequest ist ein eingereichtes Foto eines gefundenen Kindes
type CompareRequest struct {
	Image  []byte
	Finder FinderInfo
	// FileReport legt bei fehlendem Treffer eine Fundmeldung an
	FileReport bool
}

// CompareResult ist das Ergebnis eines Abgleichs
type CompareResult struct {
	Outcome Outcome
	// Matches enthält alle Treffer über dem Schwellenwert, der beste zuerst
	Matches []models.MatchResult
	// Found ist die angelegte Fundmeldung, falls es eine gibt
	Found *models.FoundReport
}

// Match gibt an, ob ein Treffer angenommen wurde
func (r *CompareResult) Match() bool {
	return r.Outcome == OutcomeMatched
}

// AlreadyReported gibt an, ob das Foto bereits als Fundmeldung vorliegt
func (r *CompareResult) AlreadyReported() bool {
	return r.Outcome == OutcomeAlreadyReported
}

// MissingInput ist eine neue Vermisstenmeldung
type MissingInput struct {
	Image        []byte `validate:"required"`
	GuardianName string `validate:"required,max=200"`
	Phone        string `validate:"required,max=50"`
	Email        string `validate:"omitempty,email,max=254"`
}

// FoundInput ist eine Fundmeldung ohne Abgleich
type FoundInput struct {
	Image  []byte `validate:"required"`
	Finder FinderInfo
}

// Options enthält die Abgleichsparameter
type Options struct {
	Timeout          time.Duration
	MaxAcceptRetries int
	SurfaceAll       bool
}

// Manager verbindet Extraktion, Abgleich und Speicher
type Manager struct {
	store    repository.Repository
	engine   *matcher.Engine
	embedder Embedder
	images   *storage.ImageStore
	notifier Notifier
	validate *validator.Validate
	opts     Options
}

// NewManager erstellt einen neuen Manager. notifier darf nil sein.
func NewManager(store repository.Repository, engine *matcher.Engine, embedder Embedder,
	images *storage.ImageStore, notifier Notifier, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAcceptRetries < 0 {
		opts.MaxAcceptRetries = 0
	}
	return &Manager{
		store:    store,
		engine:   engine,
		embedder: embedder,
		images:   images,
		notifier: notifier,
		validate: validator.New(),
		opts:     opts,
	}
}

// Compare gleicht ein Foto gegen alle offenen Vermisstenmeldungen ab.
// Received → Embedded → Scored → {Matched | AlreadyReported | Novel}
func (m *Manager) Compare(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	started := time.Now()
	result, err := m.compare(ctx, req)

	fields := log.Fields{"component": "lifecycle"}
	if err != nil {
		kind := models.ErrorKind(err)
		metrics.ObserveComparison(kind, started)
		fields["error_kind"] = kind
		log.WithFields(fields).WithError(err).Warn("Comparison failed")
		return nil, err
	}

	metrics.ObserveComparison(string(result.Outcome), started)
	fields["outcome"] = result.Outcome
	fields["results"] = len(result.Matches)
	if len(result.Matches) > 0 {
		fields["missing_id"] = result.Matches[0].Missing.ID
		fields["score"] = result.Matches[0].Score
	}
	if result.Found != nil {
		fields["found_id"] = result.Found.ID
	}
	log.WithFields(fields).WithField("duration", time.Since(started)).Info("Comparison finished")
	return result, nil
}

func (m *Manager) compare(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	if err := m.validateStruct(req.Finder); err != nil {
		return nil, err
	}
	if req.FileReport && (req.Finder.Name == "" || req.Finder.Phone == "") {
		return nil, fmt.Errorf("%w: finder name and phone are required to file a report", models.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	// Received
	img, err := storage.Normalize(req.Image)
	if err != nil {
		return nil, err
	}

	// Embedded
	embedding, err := m.extract(ctx, img.Data)
	if err != nil {
		return nil, err
	}

	pending := &pendingFound{manager: m, image: img}
	defer pending.discard()

	// Eine bereits eingereichte, offene Fundmeldung zu diesem Foto wird
	// beim Treffer verknüpft statt dupliziert
	existing, err := m.findDuplicateFound(ctx, embedding, img.Hash)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}

	// Scored
	for attempt := 0; ; attempt++ {
		matches, err := m.engine.FindMatches(ctx, embedding)
		if err != nil {
			return nil, timeoutOr(ctx, err)
		}
		if len(matches) == 0 {
			break
		}
		missingID := matches[0].Missing.ID

		if existing != nil {
			err = m.store.MarkMatched(ctx, missingID, existing.ID)
			if err == nil {
				existing.LinkedMissingID = missingID
				return m.matched(ctx, matches, existing), nil
			}
		} else {
			found := m.newFoundReport(req.Finder, embedding, img.Hash)
			if err := pending.attach(found); err != nil {
				return nil, err
			}
			err = m.store.AcceptMatch(ctx, found, missingID)
			if err == nil {
				pending.keep()
				return m.matched(ctx, matches, found), nil
			}
		}
		if !errors.Is(err, models.ErrAlreadyMatched) {
			return nil, timeoutOr(ctx, err)
		}

		metrics.AcceptConflicts.Inc()
		log.WithFields(log.Fields{
			"component":  "lifecycle",
			"missing_id": missingID,
			"attempt":    attempt + 1,
		}).Info("Lost race for missing report")

		if existing != nil {
			current, err := m.store.GetFound(ctx, existing.ID)
			switch {
			case errors.Is(err, models.ErrNotFound):
				existing = nil
			case err != nil:
				return nil, timeoutOr(ctx, err)
			case current.IsLinked():
				// Eine parallele Anfrage hat dieses Foto bereits zugeordnet
				return &CompareResult{Outcome: OutcomeAlreadyReported, Matches: []models.MatchResult{}, Found: current}, nil
			}
		}
		if attempt >= m.opts.MaxAcceptRetries {
			// Wie ein frischer Nicht-Treffer behandeln
			break
		}
	}

	// Kein Treffer: wurde dieses Foto schon als Fundmeldung eingereicht?
	if existing != nil {
		return &CompareResult{Outcome: OutcomeAlreadyReported, Matches: []models.MatchResult{}, Found: existing}, nil
	}

	result := &CompareResult{Outcome: OutcomeNovel, Matches: []models.MatchResult{}}
	if !req.FileReport {
		return result, nil
	}

	found := m.newFoundReport(req.Finder, embedding, img.Hash)
	if err := pending.attach(found); err != nil {
		return nil, err
	}
	duplicate, err := m.store.AddFoundUnlessDuplicate(ctx, found, m.duplicateOf(embedding))
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}
	if duplicate != nil {
		return &CompareResult{Outcome: OutcomeAlreadyReported, Matches: []models.MatchResult{}, Found: duplicate}, nil
	}
	pending.keep()
	metrics.ReportsTotal.WithLabelValues("found", "created").Inc()
	m.notifyReport("found", found.ID)

	result.Found = found
	return result, nil
}

// matched baut das Ergebnis nach erfolgreicher Verknüpfung
func (m *Manager) matched(ctx context.Context, matches []models.MatchResult, found *models.FoundReport) *CompareResult {
	best := &matches[0]
	best.Accepted = true
	best.Found = found
	now := time.Now().UTC()
	best.Missing.Status = models.StatusMatched
	best.Missing.LinkedFoundID = found.ID
	best.Missing.MatchedAt = &now

	if !m.opts.SurfaceAll {
		matches = matches[:1]
	}

	if m.notifier != nil {
		m.notifier.NotifyMatch(*best)
	}
	m.refreshPendingGauge(ctx)

	return &CompareResult{Outcome: OutcomeMatched, Matches: matches, Found: found}
}

// ReportMissing legt eine Vermisstenmeldung an. Liegt dasselbe Foto bereits vor,
// wird die vorhandene Meldung mit alreadyReported=true zurückgegeben.
func (m *Manager) ReportMissing(ctx context.Context, in MissingInput) (*models.MissingReport, bool, error) {
	if err := m.validateStruct(in); err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	img, err := storage.Normalize(in.Image)
	if err != nil {
		return nil, false, err
	}

	existing, err := m.store.FindMissingByHash(ctx, img.Hash)
	if err != nil {
		return nil, false, timeoutOr(ctx, err)
	}
	if existing != nil {
		metrics.ReportsTotal.WithLabelValues("missing", "duplicate").Inc()
		return existing, true, nil
	}

	embedding, err := m.extract(ctx, img.Data)
	if err != nil {
		return nil, false, err
	}

	report := &models.MissingReport{
		ID:           uuid.NewString(),
		GuardianName: in.GuardianName,
		Phone:        in.Phone,
		Email:        in.Email,
		Embedding:    models.Embedding(embedding),
		ContentHash:  img.Hash,
	}
	if m.images != nil {
		path, err := m.images.Save(storage.KindMissing, report.ID, img)
		if err != nil {
			return nil, false, models.NewStorageError("save image", err)
		}
		report.ImagePath = path
	}

	existing, err = m.store.AddMissingUnlessDuplicate(ctx, report, m.duplicateOf(embedding))
	if err != nil || existing != nil {
		m.removeImages(report.ImagePath)
	}
	if err != nil {
		return nil, false, timeoutOr(ctx, err)
	}
	if existing != nil {
		metrics.ReportsTotal.WithLabelValues("missing", "duplicate").Inc()
		return existing, true, nil
	}

	metrics.ReportsTotal.WithLabelValues("missing", "created").Inc()
	m.notifyReport("missing", report.ID)
	m.refreshPendingGauge(ctx)

	log.WithFields(log.Fields{
		"component":  "lifecycle",
		"missing_id": report.ID,
	}).Info("Missing report filed")
	return report, false, nil
}

// ReportFound legt eine nicht verknüpfte Fundmeldung an, ohne abzugleichen.
// Liegt dasselbe Foto bereits vor, wird die vorhandene Meldung zurückgegeben.
func (m *Manager) ReportFound(ctx context.Context, in FoundInput) (*models.FoundReport, bool, error) {
	if err := m.validateStruct(in); err != nil {
		return nil, false, err
	}
	if in.Finder.Name == "" || in.Finder.Phone == "" {
		return nil, false, fmt.Errorf("%w: finder name and phone are required", models.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	img, err := storage.Normalize(in.Image)
	if err != nil {
		return nil, false, err
	}

	embedding, err := m.extract(ctx, img.Data)
	if err != nil {
		return nil, false, err
	}

	found := m.newFoundReport(in.Finder, embedding, img.Hash)
	pending := &pendingFound{manager: m, image: img}
	defer pending.discard()
	if err := pending.attach(found); err != nil {
		return nil, false, err
	}
	existing, err := m.store.AddFoundUnlessDuplicate(ctx, found, m.duplicateOf(embedding))
	if err != nil {
		return nil, false, timeoutOr(ctx, err)
	}
	if existing != nil {
		metrics.ReportsTotal.WithLabelValues("found", "duplicate").Inc()
		return existing, true, nil
	}
	pending.keep()

	metrics.ReportsTotal.WithLabelValues("found", "created").Inc()
	m.notifyReport("found", found.ID)
	return found, false, nil
}

// ListPending gibt alle offenen Vermisstenmeldungen zurück, älteste zuerst
func (m *Manager) ListPending(ctx context.Context) ([]models.MissingReport, error) {
	return m.store.ListMissing(ctx, models.StatusPending)
}

// ListFound gibt Fundmeldungen zurück; linked filtert optional
func (m *Manager) ListFound(ctx context.Context, linked *bool) ([]models.FoundReport, error) {
	return m.store.ListFound(ctx, linked)
}

// Stats gibt Kennzahlen über die gespeicherten Meldungen zurück
func (m *Manager) Stats(ctx context.Context) (models.Statistics, error) {
	return m.store.Stats(ctx)
}

// ClearMatched entfernt alle verknüpften Paare und deren Bilder
func (m *Manager) ClearMatched(ctx context.Context) (models.ClearCounts, error) {
	counts, err := m.store.ClearMatched(ctx)
	if err != nil {
		return counts, err
	}
	m.afterClear(ctx, OperationClearMatched, counts)
	return counts, nil
}

// ResetAll entfernt alle Meldungen und deren Bilder
func (m *Manager) ResetAll(ctx context.Context) (models.ClearCounts, error) {
	counts, err := m.store.ResetAll(ctx)
	if err != nil {
		return counts, err
	}
	m.afterClear(ctx, OperationResetAll, counts)
	return counts, nil
}

// afterClear läuft erst nach dem Commit; Dateifehler werden nur protokolliert
func (m *Manager) afterClear(ctx context.Context, operation string, counts models.ClearCounts) {
	removed := m.removeImages(counts.ImagePaths...)

	metrics.ObserveCleared(operation, counts.MissingRemoved, counts.FoundRemoved)
	if m.notifier != nil {
		m.notifier.NotifyCleared(operation, counts)
	}
	m.refreshPendingGauge(ctx)

	log.WithFields(log.Fields{
		"component":       "lifecycle",
		"operation":       operation,
		"missing_removed": counts.MissingRemoved,
		"found_removed":   counts.FoundRemoved,
		"images_removed":  removed,
	}).Info("Reports cleared")
}

// extract berechnet den Vektor und übersetzt die Fehler der Extraktoren
func (m *Manager) extract(ctx context.Context, data []byte) ([]float32, error) {
	started := time.Now()
	embedding, err := m.embedder.Extract(ctx, data)
	metrics.ObserveEmbedding(err, started)

	switch {
	case err == nil && len(embedding) == 0:
		return nil, models.ErrNoFaceDetected
	case err == nil:
		return embedding, nil
	case errors.Is(err, facerecognition.ErrNoFace):
		return nil, models.ErrNoFaceDetected
	default:
		if wrapped := timeoutOr(ctx, err); errors.Is(wrapped, models.ErrTimeout) {
			return nil, wrapped
		}
		return nil, fmt.Errorf("embedding extraction failed: %w", err)
	}
}

// findDuplicateFound sucht eine nicht verknüpfte Fundmeldung mit gleichem Foto
func (m *Manager) findDuplicateFound(ctx context.Context, embedding []float32, hash string) (*models.FoundReport, error) {
	return m.store.FindFoundDuplicate(ctx, hash, m.duplicateOf(embedding))
}

func (m *Manager) duplicateOf(embedding []float32) repository.DuplicateFunc {
	return func(stored []float32) bool {
		return m.engine.IsDuplicate(embedding, stored)
	}
}

func (m *Manager) newFoundReport(finder FinderInfo, embedding []float32, hash string) *models.FoundReport {
	return &models.FoundReport{
		ID:              uuid.NewString(),
		FinderName:      finder.Name,
		Phone:           finder.Phone,
		Email:           finder.Email,
		FoundLocation:   finder.FoundLocation,
		CollectLocation: finder.CollectLocation,
		Embedding:       models.Embedding(embedding),
		ContentHash:     hash,
	}
}

func (m *Manager) validateStruct(v any) error {
	if err := m.validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("%w: %v", models.ErrInvalidInput, ValidationFields(validationErrors))
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

// ValidationFields bildet Validierungsfehler auf Feldname → Regel ab
func ValidationFields(validationErrors validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		fields[ve.Field()] = ve.Tag()
	}
	return fields
}

func (m *Manager) notifyReport(kind, id string) {
	if m.notifier != nil {
		m.notifier.NotifyReport(kind, id)
	}
}

func (m *Manager) removeImages(paths ...string) int {
	if m.images == nil {
		return 0
	}
	return m.images.Remove(paths...)
}

func (m *Manager) refreshPendingGauge(ctx context.Context) {
	stats, err := m.store.Stats(context.WithoutCancel(ctx))
	if err != nil {
		log.Debugf("Could not refresh pending gauge: %v", err)
		return
	}
	metrics.PendingReports.Set(float64(stats.MissingPending))
}

// timeoutOr übersetzt eine abgelaufene Frist in ErrTimeout
func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return err
}

// pendingFound hält das Bild einer Fundmeldung, bis die Meldung gespeichert ist.
// Ohne keep() wird die Datei wieder gelöscht.
type pendingFound struct {
	manager *Manager
	image   *storage.Image
	id      string
	path    string
	kept    bool
}

func (p *pendingFound) attach(found *models.FoundReport) error {
	if p.manager.images == nil {
		return nil
	}
	if p.path != "" {
		// Erneuter Versuch: Datei und ID weiterverwenden
		found.ID = p.id
		found.ImagePath = p.path
		return nil
	}
	path, err := p.manager.images.Save(storage.KindFound, found.ID, p.image)
	if err != nil {
		return models.NewStorageError("save image", err)
	}
	p.id = found.ID
	p.path = path
	found.ImagePath = path
	return nil
}

func (p *pendingFound) keep() {
	p.kept = true
}

func (p *pendingFound) discard() {
	if !p.kept && p.path != "" {
		p.manager.removeImages(p.path)
	}
}
