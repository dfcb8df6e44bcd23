package provider

import (
	"fmt"

	"reunite-go/config"
	"reunite-go/internal/integrations/facerecognition"
	"reunite-go/internal/integrations/insightface"
	"reunite-go/internal/integrations/opencv"

	log "github.com/sirupsen/logrus"
)

// CreateManager erstellt einen ProviderManager mit dem konfigurierten Extraktor als aktivem Provider
func CreateManager(cfg *config.Config) (*facerecognition.ProviderManager, error) {
	manager := facerecognition.NewProviderManager()

	extractor, err := CreateExtractor(cfg)
	if err != nil {
		return nil, err
	}
	manager.RegisterProvider(extractor)

	if !manager.SetActiveProvider(extractor.Name()) {
		return nil, fmt.Errorf("provider %s could not be activated", extractor.Name())
	}
	log.Infof("Active embedding provider: %s", extractor.Name())
	return manager, nil
}

// CreateExtractor erstellt den Extraktor anhand von extractor.provider
func CreateExtractor(cfg *config.Config) (facerecognition.Extractor, error) {
	switch facerecognition.ProviderType(cfg.Extractor.Provider) {
	case facerecognition.ProviderInsightFace:
		log.Infof("Registering InsightFace at %s", cfg.Extractor.InsightFace.URL)
		return insightface.NewService(cfg.Extractor.InsightFace), nil
	case facerecognition.ProviderOpenCV:
		log.Info("Registering local OpenCV embedder")
		service, err := opencv.NewService(cfg.Extractor.OpenCV)
		if err != nil {
			return nil, err
		}
		return service, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Extractor.Provider)
	}
}
