package facerecognition

import (
	"context"
	"errors"
	"sync"
)

// ProviderType definiert den Typ des Dienstes, der Gesichtsvektoren berechnet
type ProviderType string

const (
	// ProviderInsightFace steht für den InsightFace-REST-Dienst
	ProviderInsightFace ProviderType = "insightface"

	// ProviderOpenCV steht für den lokalen gocv-Embedder
	ProviderOpenCV ProviderType = "opencv"
)

// ErrNoFace wird zurückgegeben, wenn im Bild kein verwertbares Gesicht gefunden wurde
var ErrNoFace = errors.New("no usable face found in image")

// Face repräsentiert ein erkanntes Gesicht
type Face struct {
	// BoundingBox enthält die Koordinaten des Gesichts im Bild (x1, y1, x2, y2)
	BoundingBox []int `json:"bounding_box"`

	// Confidence ist die Konfidenz der Gesichtserkennung (0-1)
	Confidence float64 `json:"confidence"`

	// Embedding ist der Gesichtsvektor für den Abgleich
	Embedding []float32 `json:"embedding,omitempty"`
}

// Area gibt die Fläche der BoundingBox zurück
func (f Face) Area() int {
	if len(f.BoundingBox) != 4 {
		return 0
	}
	w := f.BoundingBox[2] - f.BoundingBox[0]
	h := f.BoundingBox[3] - f.BoundingBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Extractor definiert die Schnittstelle für Dienste, die aus einem Bild
// einen Gesichtsvektor fester Länge berechnen
type Extractor interface {
	// Name gibt den Namen des Providers zurück
	Name() ProviderType

	// IsAvailable prüft, ob der Dienst verfügbar ist
	IsAvailable(ctx context.Context) bool

	// ExtractEmbedding berechnet den Vektor des markantesten Gesichts.
	// Liefert ErrNoFace, wenn kein Gesicht gefunden wurde.
	ExtractEmbedding(ctx context.Context, imageData []byte) ([]float32, error)
}

// SelectPrimaryFace wählt bei mehreren Gesichtern das größte, bei gleicher Fläche das sicherste
func SelectPrimaryFace(faces []Face) (Face, bool) {
	best := -1
	for i, face := range faces {
		if len(face.Embedding) == 0 {
			continue
		}
		if best < 0 ||
			face.Area() > faces[best].Area() ||
			(face.Area() == faces[best].Area() && face.Confidence > faces[best].Confidence) {
			best = i
		}
	}
	if best < 0 {
		return Face{}, false
	}
	return faces[best], true
}

// ProviderManager verwaltet die registrierten Extraktoren
type ProviderManager struct {
	mu        sync.RWMutex
	providers map[ProviderType]Extractor
	active    ProviderType
}

// NewProviderManager erstellt einen neuen ProviderManager
func NewProviderManager() *ProviderManager {
	return &ProviderManager{
		providers: make(map[ProviderType]Extractor),
	}
}

// RegisterProvider registriert einen Extraktor
func (m *ProviderManager) RegisterProvider(provider Extractor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[provider.Name()] = provider
}

// SetActiveProvider setzt den aktiven Extraktor
func (m *ProviderManager) SetActiveProvider(providerType ProviderType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[providerType]; exists {
		m.active = providerType
		return true
	}
	return false
}

// GetActiveProvider gibt den aktuell aktiven Extraktor zurück
func (m *ProviderManager) GetActiveProvider() (Extractor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil, false
	}
	provider, exists := m.providers[m.active]
	return provider, exists
}

// GetAvailableProviders gibt eine Liste aller erreichbaren Extraktoren zurück
func (m *ProviderManager) GetAvailableProviders(ctx context.Context) []ProviderType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var available []ProviderType
	for name, provider := range m.providers {
		if provider.IsAvailable(ctx) {
			available = append(available, name)
		}
	}
	return available
}
