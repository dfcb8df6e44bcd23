// Package matcher vergleicht Gesichtsvektoren mit den offenen Vermisstenmeldungen.
package matcher

import (
	"context"
	"math"
	"sort"

	"reunite-go/internal/core/models"
)

// PendingSource liefert eine konsistente Momentaufnahme der Vermisstenmeldungen
type PendingSource interface {
	ListMissing(ctx context.Context, status models.ReportStatus) ([]models.MissingReport, error)
}

// Engine bewertet einen Anfragevektor gegen alle offenen Vermisstenmeldungen
type Engine struct {
	source           PendingSource
	threshold        float64
	duplicateEpsilon float64
}

// NewEngine erstellt eine Engine mit festem Schwellenwert
func NewEngine(source PendingSource, threshold, duplicateEpsilon float64) *Engine {
	return &Engine{
		source:           source,
		threshold:        threshold,
		duplicateEpsilon: duplicateEpsilon,
	}
}

// Threshold gibt den konfigurierten Schwellenwert zurück
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Score berechnet die Kosinus-Ähnlichkeit zweier Vektoren, abgebildet auf [0,1].
// Unterschiedliche Längen, leere Vektoren und Nullvektoren ergeben 0.
func Score(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	cosine := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	score := (cosine + 1) / 2
	// Rundungsfehler bei identischen Vektoren
	return math.Max(0, math.Min(1, score))
}

// IsDuplicate prüft, ob zwei Vektoren als dasselbe Foto gelten
func (e *Engine) IsDuplicate(a, b []float32) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return Score(a, b) >= 1-e.duplicateEpsilon
}

// FindMatches liefert alle offenen Meldungen mit Score >= Schwellenwert,
// absteigend nach Score, bei Gleichstand die älteste Meldung zuerst.
// Eine leere Liste ist kein Fehler.
func (e *Engine) FindMatches(ctx context.Context, query []float32) ([]models.MatchResult, error) {
	pending, err := e.source.ListMissing(ctx, models.StatusPending)
	if err != nil {
		return nil, err
	}

	results := make([]models.MatchResult, 0)
	for _, report := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Nur offene Meldungen sind Kandidaten
		if report.Status != models.StatusPending {
			continue
		}
		score := Score(query, report.Embedding)
		if score >= e.threshold {
			results = append(results, models.MatchResult{Missing: report, Score: score})
		}
	}

	Rank(results)
	return results, nil
}

// Rank sortiert Ergebnisse nach Score absteigend, dann nach Erstellungszeit und ID
func Rank(results []models.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Missing.CreatedAt.Equal(b.Missing.CreatedAt) {
			return a.Missing.CreatedAt.Before(b.Missing.CreatedAt)
		}
		return a.Missing.ID < b.Missing.ID
	})
}
