package processor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"reunite-go/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// WorkerPool verwaltet einen Pool von Worker-Goroutinen für die Vektorberechnung
type WorkerPool struct {
	extractor       facerecognition.Extractor
	jobs            chan *EmbedJob
	workerCount     int
	activeJobs      int
	activeJobsMutex sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	wg              sync.WaitGroup
}

// EmbedJob repräsentiert einen Auftrag zur Vektorberechnung
type EmbedJob struct {
	ctx       context.Context
	imageData []byte
	resultCh  chan *EmbedResult // Individueller Ergebniskanal pro Job
}

// EmbedResult enthält das Ergebnis der Vektorberechnung
type EmbedResult struct {
	Embedding []float32
	Err       error
}

// DefaultWorkerCount liefert 75% der verfügbaren CPUs, mindestens 2
func DefaultWorkerCount() int {
	return max(2, (runtime.NumCPU()*3)/4)
}

// NewWorkerPool erstellt einen neuen Worker-Pool. workerCount <= 0 wählt DefaultWorkerCount.
func NewWorkerPool(extractor facerecognition.Extractor, workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount()
	}

	log.Infof("Initializing embedding worker pool with %d workers", workerCount)

	pool := &WorkerPool{
		extractor:   extractor,
		jobs:        make(chan *EmbedJob, workerCount*2),
		workerCount: workerCount,
		shutdown:    make(chan struct{}),
	}

	pool.startWorkers()
	return pool
}

// startWorkers startet die Worker-Goroutinen
func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debugf("Worker %d started", workerID)

			for {
				select {
				case job := <-p.jobs:
					p.run(workerID, job)
				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

func (p *WorkerPool) run(workerID int, job *EmbedJob) {
	// Abgebrochene Aufträge nicht mehr rechnen
	if err := job.ctx.Err(); err != nil {
		job.resultCh <- &EmbedResult{Err: err}
		return
	}

	p.activeJobsMutex.Lock()
	p.activeJobs++
	jobCount := p.activeJobs
	p.activeJobsMutex.Unlock()

	log.Debugf("Worker %d extracting embedding (active jobs: %d)", workerID, jobCount)
	startTime := time.Now()

	embedding, err := p.extractor.ExtractEmbedding(job.ctx, job.imageData)

	p.activeJobsMutex.Lock()
	p.activeJobs--
	p.activeJobsMutex.Unlock()

	// resultCh ist gepuffert, der Versand blockiert nie
	job.resultCh <- &EmbedResult{Embedding: embedding, Err: err}

	log.Debugf("Worker %d completed extraction in %v", workerID, time.Since(startTime))
}

// Extract berechnet den Vektor über den Worker-Pool und wartet höchstens bis ctx abläuft
func (p *WorkerPool) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	resultCh := make(chan *EmbedResult, 1)
	job := &EmbedJob{
		ctx:       ctx,
		imageData: imageData,
		resultCh:  resultCh,
	}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.shutdown:
		return nil, context.Canceled
	}

	select {
	case result := <-resultCh:
		return result.Embedding, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveJobCount gibt die Anzahl der aktuell aktiven Jobs zurück
func (p *WorkerPool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// GetWorkerCount gibt die Anzahl der Worker im Pool zurück
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// GetQueueCapacity gibt die Kapazität der Job-Queue zurück
func (p *WorkerPool) GetQueueCapacity() int {
	return cap(p.jobs)
}

// Shutdown fährt den Worker-Pool herunter und wartet auf laufende Jobs
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
}
