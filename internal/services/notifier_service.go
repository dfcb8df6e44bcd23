package services

import (
	"time"

	"reunite-go/internal/core/models"
	"reunite-go/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// EventBroadcaster sendet Ereignisse an verbundene Browser (SSE)
type EventBroadcaster interface {
	BroadcastEvent(eventType string, data any)
}

// Publisher veröffentlicht Ereignisse an einen Broker
type Publisher interface {
	IsConnected() bool
	Publish(subtopic string, payload any) error
}

// SSE-Ereignistypen
const (
	EventMatch   = "match"
	EventReport  = "report"
	EventCleared = "cleared"
)

// MatchEvent beschreibt eine verknüpfte Meldung
type MatchEvent struct {
	MissingID    string    `json:"missing_id"`
	FoundID      string    `json:"found_id"`
	GuardianName string    `json:"guardian_name"`
	FinderName   string    `json:"finder_name"`
	Score        float64   `json:"score"`
	MatchedAt    time.Time `json:"matched_at"`
}

// ReportEvent beschreibt eine neue Meldung
type ReportEvent struct {
	Kind string `json:"kind"` // "missing" oder "found"
	ID   string `json:"id"`
}

// ClearedEvent beschreibt eine administrative Löschung
type ClearedEvent struct {
	Operation      string `json:"operation"`
	MissingRemoved int64  `json:"missing_removed"`
	FoundRemoved   int64  `json:"found_removed"`
}

// NotifierService verteilt Ereignisse an SSE-Clients und MQTT.
// Beide Kanäle sind optional.
type NotifierService struct {
	broadcaster EventBroadcaster
	publisher   Publisher
}

// NewNotifierService erstellt einen neuen NotifierService
func NewNotifierService(broadcaster EventBroadcaster, publisher Publisher) *NotifierService {
	log.Infof("Initializing NotifierService (sse=%t, mqtt=%t)", broadcaster != nil, publisher != nil)
	return &NotifierService{
		broadcaster: broadcaster,
		publisher:   publisher,
	}
}

// NotifyMatch meldet eine neu verknüpfte Vermisstenmeldung
func (s *NotifierService) NotifyMatch(result models.MatchResult) {
	if result.Found == nil {
		return
	}
	event := MatchEvent{
		MissingID:    result.Missing.ID,
		FoundID:      result.Found.ID,
		GuardianName: result.Missing.GuardianName,
		FinderName:   result.Found.FinderName,
		Score:        result.Score,
		MatchedAt:    time.Now(),
	}
	if result.Missing.MatchedAt != nil {
		event.MatchedAt = *result.Missing.MatchedAt
	}
	s.dispatch(EventMatch, mqtt.TopicMatches, event)
}

// NotifyReport meldet eine neue Meldung
func (s *NotifierService) NotifyReport(kind, id string) {
	s.dispatch(EventReport, mqtt.TopicReports, ReportEvent{Kind: kind, ID: id})
}

// NotifyCleared meldet eine Löschung durch clear-matched oder reset-all
func (s *NotifierService) NotifyCleared(operation string, counts models.ClearCounts) {
	s.dispatch(EventCleared, mqtt.TopicCleared, ClearedEvent{
		Operation:      operation,
		MissingRemoved: counts.MissingRemoved,
		FoundRemoved:   counts.FoundRemoved,
	})
}

func (s *NotifierService) dispatch(eventType, subtopic string, payload any) {
	if s == nil {
		return
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastEvent(eventType, payload)
	}
	if s.publisher != nil && s.publisher.IsConnected() {
		if err := s.publisher.Publish(subtopic, payload); err != nil {
			log.Warnf("Failed to publish %s event via MQTT: %v", eventType, err)
		}
	}
}
