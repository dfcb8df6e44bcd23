package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReportStatus beschreibt den Lebenszyklus einer Vermisstenmeldung
type ReportStatus string

const (
	// StatusPending: Meldung wartet auf ein gefundenes Kind
	StatusPending ReportStatus = "pending"
	// StatusMatched: Meldung ist mit genau einer Fundmeldung verknüpft
	StatusMatched ReportStatus = "matched"
)

// Embedding ist der Gesichtsvektor, der als JSON-Spalte gespeichert wird
type Embedding = datatypes.JSONSlice[float32]

// MissingReport repräsentiert ein als vermisst gemeldetes Kind
type MissingReport struct {
	ID            string       `gorm:"primaryKey;size:36" json:"id"`
	GuardianName  string       `gorm:"not null" json:"guardian_name"`
	Phone         string       `json:"phone"`
	Email         string       `json:"email"`
	Embedding     Embedding    `gorm:"type:json" json:"-"`
	Status        ReportStatus `gorm:"index;not null;default:'pending'" json:"status"`
	LinkedFoundID string       `gorm:"index;size:36" json:"linked_found_id,omitempty"`
	ImagePath     string       `json:"image_path"`                // relativ zum Bildverzeichnis, z.B. missing/<id>.jpg
	ContentHash   string       `gorm:"index" json:"content_hash"` // SHA-256 des normalisierten Bildes
	CreatedAt     time.Time    `gorm:"index" json:"created_at"`
	MatchedAt     *time.Time   `json:"matched_at,omitempty"`
}

// FoundReport repräsentiert ein gefundenes Kind und die Daten des Finders
type FoundReport struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	FinderName      string    `json:"finder_name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email"`
	FoundLocation   string    `json:"found_location"`
	CollectLocation string    `json:"collect_location"`
	Embedding       Embedding `gorm:"type:json" json:"-"`
	LinkedMissingID string    `gorm:"index;size:36" json:"linked_missing_id,omitempty"`
	ImagePath       string    `json:"image_path"`
	ContentHash     string    `gorm:"index" json:"content_hash"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// IsLinked gibt an, ob die Fundmeldung bereits einer Vermisstenmeldung zugeordnet ist
func (f *FoundReport) IsLinked() bool {
	return f.LinkedMissingID != ""
}

// MatchResult ist ein flüchtiges Ergebnis des Abgleichs und wird nie selbst gespeichert
type MatchResult struct {
	Missing  MissingReport
	Found    *FoundReport // nur gesetzt, wenn das Ergebnis angenommen wurde
	Score    float64
	Accepted bool
}

// ClearCounts beschreibt, was eine Lösch-Operation entfernt hat
type ClearCounts struct {
	MissingRemoved int64
	FoundRemoved   int64
	ImagePaths     []string // Bilddateien der gelöschten Meldungen
}

// Statistics repräsentiert Kennzahlen über die gespeicherten Meldungen
type Statistics struct {
	MissingPending int64     `json:"missing_pending"`
	MissingMatched int64     `json:"missing_matched"`
	FoundLinked    int64     `json:"found_linked"`
	FoundUnlinked  int64     `json:"found_unlinked"`
	LatestReport   time.Time `json:"latest_report"`
}
