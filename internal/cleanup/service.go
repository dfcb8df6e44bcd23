package cleanup

import (
	"context"
	"fmt"
	"time"

	"reunite-go/internal/metrics"
	"reunite-go/internal/storage"

	log "github.com/sirupsen/logrus"
)

// ImageReferences returns the image paths still referenced by a report.
type ImageReferences interface {
	ImagePaths(ctx context.Context) (map[string]struct{}, error)
}

// Service removes image files that no report references anymore.
// Such files remain when a process dies between writing the file and the
// database, or when removing images after a clear operation failed.
type Service struct {
	refs          ImageReferences
	images        *storage.ImageStore
	minAge        time.Duration
	checkInterval time.Duration
	now           func() time.Time
	stopChan      chan struct{}
}

// NewService creates a new cleanup service. It returns nil when the sweep is disabled.
func NewService(refs ImageReferences, images *storage.ImageStore, checkInterval, minAge time.Duration) *Service {
	if checkInterval <= 0 {
		log.Info("Orphan image cleanup disabled (interval <= 0).")
		return nil
	}
	if refs == nil || images == nil {
		log.Error("Cannot initialize cleanup service: repository or image store is nil")
		return nil
	}
	log.Infof("Initializing cleanup service: Interval=%s, MinAge=%s", checkInterval, minAge)
	return &Service{
		refs:          refs,
		images:        images,
		minAge:        minAge,
		checkInterval: checkInterval,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// StartBackgroundCleanup runs one sweep immediately and then one per interval.
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return
	}
	log.Info("Starting background cleanup routine...")

	go func() {
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		s.runLogged()
		for {
			select {
			case <-ticker.C:
				s.runLogged()
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup signals the background routine to stop.
func (s *Service) StopBackgroundCleanup() {
	if s == nil || s.stopChan == nil {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// RunCleanupCycle removes unreferenced files older than the minimum age.
// Younger files may belong to a report whose database write is still in flight.
func (s *Service) RunCleanupCycle(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}

	referenced, err := s.refs.ImagePaths(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load referenced images: %w", err)
	}

	cutoff := s.now().Add(-s.minAge)
	var orphans []string
	for _, kind := range []storage.Kind{storage.KindMissing, storage.KindFound} {
		files, err := s.images.List(kind)
		if err != nil {
			return 0, fmt.Errorf("failed to list %s images: %w", kind, err)
		}
		for _, f := range files {
			if _, ok := referenced[f.Path]; ok {
				continue
			}
			if f.ModTime.After(cutoff) {
				continue
			}
			orphans = append(orphans, f.Path)
		}
	}

	if len(orphans) == 0 {
		return 0, nil
	}

	removed := s.images.Remove(orphans...)
	metrics.OrphanImagesRemoved.Add(float64(removed))
	log.Infof("Cleanup: removed %d of %d orphaned image(s)", removed, len(orphans))
	return removed, nil
}

func (s *Service) runLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.RunCleanupCycle(ctx); err != nil {
		log.Errorf("Cleanup cycle failed: %v", err)
	}
}
