package timezone

import (
	"os"
	"sync"
	"time"
	_ "time/tzdata" // Zeitzonen auch ohne System-tzdata

	log "github.com/sirupsen/logrus"
)

var (
	currentLocation *time.Location
	initOnce        sync.Once
)

// Initialize setzt die Anzeige-Zeitzone anhand der TZ-Umgebungsvariable, Standard ist UTC
func Initialize() {
	initOnce.Do(func() {
		currentLocation = Load(os.Getenv("TZ"))
	})
}

// Load lädt eine Zeitzone; unbekannte oder leere Namen ergeben UTC
func Load(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", name, err)
		return time.UTC
	}
	return loc
}

// Format formatiert einen Zeitpunkt in der konfigurierten Zeitzone.
// Gespeichert wird immer in UTC, nur die Ausgabe wird umgerechnet.
func Format(t time.Time, layout string) string {
	Initialize()
	return t.In(currentLocation).Format(layout)
}

// RFC3339 formatiert einen Zeitpunkt im RFC3339-Format
func RFC3339(t time.Time) string {
	return Format(t, time.RFC3339)
}
