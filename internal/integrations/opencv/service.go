package opencv

import (
	"context"
	"fmt"
	"sync"

	"reunite-go/config"
	"reunite-go/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "opencv",
}

// Service implementiert facerecognition.Extractor mit lokalem OpenCV
type Service struct {
	cfg         config.OpenCVConfig
	embedder    *FaceEmbedder
	mutex       sync.Mutex
	initialized bool
}

// NewService erstellt einen neuen OpenCV-Service
func NewService(cfg config.OpenCVConfig) (*Service, error) {
	service := &Service{cfg: cfg}
	if err := service.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenCV service: %w", err)
	}
	return service, nil
}

// initialize lädt den Embedder, falls noch nicht geschehen
func (s *Service) initialize() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.initialized {
		return nil
	}

	embedder, err := NewFaceEmbedder(s.cfg)
	if err != nil {
		return err
	}
	s.embedder = embedder
	s.initialized = true
	return nil
}

// Name gibt den Namen des Providers zurück
func (s *Service) Name() facerecognition.ProviderType {
	return facerecognition.ProviderOpenCV
}

// IsAvailable prüft, ob Kaskade und Modell geladen sind
func (s *Service) IsAvailable(_ context.Context) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.initialized
}

// ExtractEmbedding berechnet den Vektor des größten Gesichts im Bild
func (s *Service) ExtractEmbedding(ctx context.Context, imageData []byte) ([]float32, error) {
	if !s.IsAvailable(ctx) {
		if err := s.initialize(); err != nil {
			return nil, fmt.Errorf("OpenCV initialization failed: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(imageData)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, facerecognition.ErrNoFace
	}
	return vec, nil
}

// Close gibt die Ressourcen des OpenCV-Service frei
func (s *Service) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.initialized && s.embedder != nil {
		if err := s.embedder.Close(); err != nil {
			return err
		}
		s.initialized = false
	}
	return nil
}
