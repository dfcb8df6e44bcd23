package insightface

import (
	"context"
	"fmt"

	"reunite-go/config"
	"reunite-go/internal/integrations/facerecognition"
)

// Service implementiert facerecognition.Extractor für InsightFace
type Service struct {
	client *APIClient
	config config.InsightFaceConfig
}

// NewService erstellt einen neuen InsightFace-Service
func NewService(cfg config.InsightFaceConfig) *Service {
	return &Service{
		client: NewAPIClient(cfg),
		config: cfg,
	}
}

// Name gibt den Namen des Providers zurück
func (s *Service) Name() facerecognition.ProviderType {
	return facerecognition.ProviderInsightFace
}

// IsAvailable prüft, ob der InsightFace-Dienst verfügbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	available, _ := s.client.Ping(ctx)
	return available
}

// ExtractEmbedding berechnet den Vektor des größten Gesichts im Bild
func (s *Service) ExtractEmbedding(ctx context.Context, imageData []byte) ([]float32, error) {
	apiResp, err := s.client.DetectFaces(ctx, imageData, s.config.DetectionThreshold, true)
	if err != nil {
		return nil, fmt.Errorf("insightface detection failed: %w", err)
	}

	faces := make([]facerecognition.Face, len(apiResp.Faces))
	for i, face := range apiResp.Faces {
		faces[i] = facerecognition.Face{
			BoundingBox: face.BoundingBox,
			Confidence:  face.Confidence,
			Embedding:   face.Embedding,
		}
	}

	primary, ok := facerecognition.SelectPrimaryFace(faces)
	if !ok {
		return nil, facerecognition.ErrNoFace
	}
	return primary.Embedding, nil
}
