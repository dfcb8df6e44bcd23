package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reunite-go/config"
	"reunite-go/internal/core/matcher"
	"reunite-go/internal/core/models"
	"reunite-go/internal/db"
	"reunite-go/internal/db/repository"
	"reunite-go/internal/integrations/facerecognition"
	"reunite-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = color.RGBA{R: 220, G: 10, B: 10, A: 255}
	green = color.RGBA{R: 10, G: 220, B: 10, A: 255}
	blue  = color.RGBA{R: 10, G: 10, B: 220, A: 255}
)

type embedFunc func(ctx context.Context, data []byte) ([]float32, error)

func (f embedFunc) Extract(ctx context.Context, data []byte) ([]float32, error) {
	return f(ctx, data)
}

// colorEmbedding nutzt die Farbe in der Bildmitte als Vektor
func colorEmbedding(_ context.Context, data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	r, g, bl, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
	return []float32{float32(r >> 8), float32(g >> 8), float32(bl >> 8)}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	matches []models.MatchResult
	reports []string
	cleared []string
}

func (n *recordingNotifier) NotifyMatch(result models.MatchResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matches = append(n.matches, result)
}

func (n *recordingNotifier) NotifyReport(kind, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, kind)
}

func (n *recordingNotifier) NotifyCleared(operation string, _ models.ClearCounts) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, operation)
}

type fixture struct {
	manager  *Manager
	repo     repository.Repository
	images   *storage.ImageStore
	notifier *recordingNotifier
}

func newFixture(t *testing.T, store func(repository.Repository) repository.Repository, embed embedFunc, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()

	gormDB, err := db.Open(config.DBConfig{File: filepath.Join(dir, "reunite.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })

	var repo repository.Repository = repository.NewSQLiteRepository(gormDB)
	if store != nil {
		repo = store(repo)
	}

	images, err := storage.NewImageStore(filepath.Join(dir, "images"))
	require.NoError(t, err)

	if embed == nil {
		embed = colorEmbedding
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	notifier := &recordingNotifier{}
	engine := matcher.NewEngine(repo, 0.8, 0.001)

	return &fixture{
		manager:  NewManager(repo, engine, embed, images, notifier, opts),
		repo:     repo,
		images:   images,
		notifier: notifier,
	}
}

func photo(t *testing.T, size int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (f *fixture) reportMissing(t *testing.T, name string, data []byte) *models.MissingReport {
	t.Helper()
	report, already, err := f.manager.ReportMissing(context.Background(), MissingInput{
		Image:        data,
		GuardianName: name,
		Phone:        "0123",
		Email:        "guardian@example.com",
	})
	require.NoError(t, err)
	require.False(t, already)
	return report
}

func countFiles(t *testing.T, images *storage.ImageStore, kind storage.Kind) int {
	t.Helper()
	files, err := images.List(kind)
	require.NoError(t, err)
	return len(files)
}

func TestCompareIdenticalPhotoMatches(t *testing.T) {
	f := newFixture(t, nil, nil, Options{SurfaceAll: true})
	missing := f.reportMissing(t, "Ana", photo(t, 32, red))
	f.reportMissing(t, "Carla", photo(t, 32, green))

	finder := FinderInfo{
		Name:            "Ben",
		Phone:           "555",
		Email:           "ben@example.com",
		FoundLocation:   "Station",
		CollectLocation: "Police office",
	}
	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red), Finder: finder})
	require.NoError(t, err)

	assert.True(t, result.Match())
	assert.False(t, result.AlreadyReported())
	require.Len(t, result.Matches, 1)

	best := result.Matches[0]
	assert.True(t, best.Accepted)
	assert.Equal(t, missing.ID, best.Missing.ID)
	assert.InDelta(t, 1.0, best.Score, 1e-6)
	require.NotNil(t, best.Found)
	assert.Equal(t, "Ben", best.Found.FinderName)
	assert.Equal(t, "555", best.Found.Phone)
	assert.Equal(t, "ben@example.com", best.Found.Email)
	assert.Equal(t, "Station", best.Found.FoundLocation)
	assert.Equal(t, "Police office", best.Found.CollectLocation)

	stored, err := f.repo.GetMissing(context.Background(), missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, stored.Status)
	assert.Equal(t, result.Found.ID, stored.LinkedFoundID)

	linked, err := f.repo.GetFound(context.Background(), result.Found.ID)
	require.NoError(t, err)
	assert.Equal(t, missing.ID, linked.LinkedMissingID)
	assert.Equal(t, 1, countFiles(t, f.images, storage.KindFound))
	assert.Len(t, f.notifier.matches, 1)
}

func TestCompareDissimilarPhotoIsNovel(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	f.reportMissing(t, "Ana", photo(t, 32, red))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, green)})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNovel, result.Outcome)
	assert.False(t, result.Match())
	assert.False(t, result.AlreadyReported())
	assert.Empty(t, result.Matches)
	assert.Nil(t, result.Found)

	found, err := f.repo.ListFound(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, 0, countFiles(t, f.images, storage.KindFound))
}

func TestCompareResubmissionIsAlreadyReported(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	f.reportMissing(t, "Ana", photo(t, 32, red))

	finder := FinderInfo{Name: "Ben", Phone: "555"}
	first, err := f.manager.Compare(context.Background(), CompareRequest{
		Image:      photo(t, 32, blue),
		Finder:     finder,
		FileReport: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNovel, first.Outcome)
	require.NotNil(t, first.Found)
	assert.False(t, first.Found.IsLinked())

	second, err := f.manager.Compare(context.Background(), CompareRequest{
		Image:      photo(t, 32, blue),
		Finder:     finder,
		FileReport: true,
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyReported())
	assert.False(t, second.Match())
	assert.Equal(t, first.Found.ID, second.Found.ID)

	// Auch ein neu kodiertes Foto derselben Aufnahme zählt
	third, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 48, blue)})
	require.NoError(t, err)
	assert.True(t, third.AlreadyReported())

	found, err := f.repo.ListFound(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestCompareLinksPreviouslyFiledFoundReport(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})

	finder := FinderInfo{Name: "Ben", Phone: "555", FoundLocation: "Park"}
	filed, err := f.manager.Compare(context.Background(), CompareRequest{
		Image:      photo(t, 32, blue),
		Finder:     finder,
		FileReport: true,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeNovel, filed.Outcome)
	require.NotNil(t, filed.Found)

	missing := f.reportMissing(t, "Ana", photo(t, 32, blue))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, blue)})
	require.NoError(t, err)
	require.True(t, result.Match())
	assert.Equal(t, filed.Found.ID, result.Found.ID)
	assert.Equal(t, missing.ID, result.Matches[0].Missing.ID)

	found, err := f.repo.ListFound(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, filed.Found.ID, found[0].ID)
	assert.Equal(t, missing.ID, found[0].LinkedMissingID)
	assert.Equal(t, "Ben", found[0].FinderName)
	assert.Equal(t, "555", found[0].Phone)
	assert.Equal(t, "Park", found[0].FoundLocation)

	stored, err := f.repo.GetMissing(context.Background(), missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, stored.Status)
	assert.Equal(t, filed.Found.ID, stored.LinkedFoundID)
	assert.Equal(t, 1, countFiles(t, f.images, storage.KindFound))
}

func TestCompareFileReportRequiresFinder(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})

	_, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, blue), FileReport: true})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	_, err = f.manager.Compare(context.Background(), CompareRequest{
		Image:  photo(t, 32, blue),
		Finder: FinderInfo{Email: "not-an-email"},
	})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestCompareSurfacesAllQualifyingMatches(t *testing.T) {
	f := newFixture(t, nil, nil, Options{SurfaceAll: true})
	older := f.reportMissing(t, "Ana", photo(t, 32, red))
	newer := f.reportMissing(t, "Dora", photo(t, 32, color.RGBA{R: 220, G: 60, B: 10, A: 255}))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	require.NoError(t, err)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, older.ID, result.Matches[0].Missing.ID)
	assert.True(t, result.Matches[0].Accepted)
	assert.Equal(t, newer.ID, result.Matches[1].Missing.ID)
	assert.False(t, result.Matches[1].Accepted)

	pending, err := f.manager.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, newer.ID, pending[0].ID)
}

func TestCompareOnlyBestWhenSurfaceAllDisabled(t *testing.T) {
	f := newFixture(t, nil, nil, Options{SurfaceAll: false})
	f.reportMissing(t, "Ana", photo(t, 32, red))
	f.reportMissing(t, "Dora", photo(t, 32, color.RGBA{R: 220, G: 60, B: 10, A: 255}))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
}

func TestCompareNoFace(t *testing.T) {
	noFace := func(context.Context, []byte) ([]float32, error) {
		return nil, facerecognition.ErrNoFace
	}
	f := newFixture(t, nil, noFace, Options{})

	_, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	assert.True(t, errors.Is(err, models.ErrNoFaceDetected))
}

func TestCompareInvalidImage(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})

	_, err := f.manager.Compare(context.Background(), CompareRequest{Image: []byte("garbage")})
	assert.True(t, errors.Is(err, models.ErrInvalidImage))
}

func TestCompareTimeout(t *testing.T) {
	slow := func(ctx context.Context, _ []byte) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, nil, slow, Options{Timeout: 30 * time.Millisecond})

	_, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	assert.True(t, errors.Is(err, models.ErrTimeout))
	assert.Equal(t, "timeout", models.ErrorKind(err))
}

func TestCompareExtractorFailureIsNotNoMatch(t *testing.T) {
	broken := func(context.Context, []byte) ([]float32, error) {
		return nil, errors.New("service unavailable")
	}
	f := newFixture(t, nil, broken, Options{})

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, "internal", models.ErrorKind(err))
}

// stealingStore lässt den ersten AcceptMatch gegen eine parallele Anfrage verlieren
type stealingStore struct {
	repository.Repository
	once sync.Once
}

func (s *stealingStore) AcceptMatch(ctx context.Context, found *models.FoundReport, missingID string) error {
	s.once.Do(func() {
		thief := &models.FoundReport{FinderName: "someone else"}
		if err := s.Repository.AcceptMatch(ctx, thief, missingID); err != nil {
			panic(err)
		}
	})
	return s.Repository.AcceptMatch(ctx, found, missingID)
}

func TestCompareRetriesAfterLostRace(t *testing.T) {
	f := newFixture(t, func(r repository.Repository) repository.Repository {
		return &stealingStore{Repository: r}
	}, nil, Options{MaxAcceptRetries: 3})
	f.reportMissing(t, "Ana", photo(t, 32, red))
	second := f.reportMissing(t, "Dora", photo(t, 32, color.RGBA{R: 220, G: 60, B: 10, A: 255}))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	require.NoError(t, err)
	require.True(t, result.Match())
	assert.Equal(t, second.ID, result.Matches[0].Missing.ID)
	assert.Equal(t, 1, countFiles(t, f.images, storage.KindFound))
}

func TestCompareLostRaceWithoutRetryIsNovel(t *testing.T) {
	f := newFixture(t, func(r repository.Repository) repository.Repository {
		return &stealingStore{Repository: r}
	}, nil, Options{MaxAcceptRetries: 0})
	f.reportMissing(t, "Ana", photo(t, 32, red))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNovel, result.Outcome)
	assert.Equal(t, 0, countFiles(t, f.images, storage.KindFound))
}

type failingStore struct {
	repository.Repository
}

func (s failingStore) AcceptMatch(context.Context, *models.FoundReport, string) error {
	return models.NewStorageError("accept match", errors.New("disk full"))
}

func TestCompareStorageErrorPropagates(t *testing.T) {
	f := newFixture(t, func(r repository.Repository) repository.Repository {
		return failingStore{Repository: r}
	}, nil, Options{})
	f.reportMissing(t, "Ana", photo(t, 32, red))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	require.Error(t, err)
	assert.Nil(t, result)
	var storageErr *models.StorageError
	assert.True(t, errors.As(err, &storageErr))
	assert.Equal(t, 0, countFiles(t, f.images, storage.KindFound))
}

func TestConcurrentComparesMatchOnce(t *testing.T) {
	f := newFixture(t, nil, nil, Options{MaxAcceptRetries: 3})
	missing := f.reportMissing(t, "Ana", photo(t, 32, red))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
			if !assert.NoError(t, err) {
				return
			}
			if result.Match() {
				mu.Lock()
				matched++
				mu.Unlock()
			} else {
				assert.Equal(t, OutcomeNovel, result.Outcome)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, matched)

	stored, err := f.repo.GetMissing(context.Background(), missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, stored.Status)

	found, err := f.repo.ListFound(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, missing.ID, found[0].LinkedMissingID)
	assert.Equal(t, 1, countFiles(t, f.images, storage.KindFound))
}

func TestReportMissingDetectsDuplicates(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	first := f.reportMissing(t, "Ana", photo(t, 32, red))
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, "missing/"+first.ID+".jpg", first.ImagePath)

	// gleiche Datei
	again, already, err := f.manager.ReportMissing(context.Background(), MissingInput{
		Image: photo(t, 32, red), GuardianName: "Ana", Phone: "0123",
	})
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, first.ID, again.ID)

	// gleiche Aufnahme, andere Kodierung
	near, already, err := f.manager.ReportMissing(context.Background(), MissingInput{
		Image: photo(t, 40, red), GuardianName: "Ana", Phone: "0123",
	})
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, first.ID, near.ID)

	pending, err := f.manager.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, []string{"missing"}, f.notifier.reports)
}

func TestReportMissingValidation(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})

	_, _, err := f.manager.ReportMissing(context.Background(), MissingInput{Image: photo(t, 32, red), Phone: "1"})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	_, _, err = f.manager.ReportMissing(context.Background(), MissingInput{GuardianName: "Ana", Phone: "1"})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestReportFound(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	input := FoundInput{Image: photo(t, 32, green), Finder: FinderInfo{Name: "Ben", Phone: "555", FoundLocation: "Park"}}

	found, already, err := f.manager.ReportFound(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, already)
	assert.False(t, found.IsLinked())
	assert.Equal(t, 1, countFiles(t, f.images, storage.KindFound))

	again, already, err := f.manager.ReportFound(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, found.ID, again.ID)

	unlinked := false
	list, err := f.manager.ListFound(context.Background(), &unlinked)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, _, err = f.manager.ReportFound(context.Background(), FoundInput{Image: photo(t, 32, green)})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestConcurrentReportFoundFilesOnce(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		// gleiche Aufnahme, unterschiedliche Kodierung
		data := photo(t, 32+i, green)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, already, err := f.manager.ReportFound(context.Background(), FoundInput{
				Image:  data,
				Finder: FinderInfo{Name: "Ben", Phone: "555"},
			})
			if !assert.NoError(t, err) {
				return
			}
			if !already {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	found, err := f.repo.ListFound(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, 1, countFiles(t, f.images, storage.KindFound))
}

func TestConcurrentReportMissingFilesOnce(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		data := photo(t, 32+i, red)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.manager.ReportMissing(context.Background(), MissingInput{
				Image: data, GuardianName: "Ana", Phone: "0123",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := f.manager.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, 1, countFiles(t, f.images, storage.KindMissing))
}

func TestClearMatchedRemovesPairsAndImages(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	matched := f.reportMissing(t, "Ana", photo(t, 32, red))
	open := f.reportMissing(t, "Carla", photo(t, 32, green))

	result, err := f.manager.Compare(context.Background(), CompareRequest{Image: photo(t, 32, red)})
	require.NoError(t, err)
	require.True(t, result.Match())

	counts, err := f.manager.ClearMatched(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.MissingRemoved)
	assert.Equal(t, int64(1), counts.FoundRemoved)

	_, err = f.repo.GetMissing(context.Background(), matched.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = f.repo.GetMissing(context.Background(), open.ID)
	assert.NoError(t, err)

	assert.Equal(t, 1, countFiles(t, f.images, storage.KindMissing))
	assert.Equal(t, 0, countFiles(t, f.images, storage.KindFound))
	assert.Equal(t, []string{OperationClearMatched}, f.notifier.cleared)
}

func TestResetAllEmptiesEverything(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	f.reportMissing(t, "Ana", photo(t, 32, red))
	f.reportMissing(t, "Carla", photo(t, 32, green))
	_, err := f.manager.Compare(context.Background(), CompareRequest{
		Image:      photo(t, 32, blue),
		Finder:     FinderInfo{Name: "Ben", Phone: "555"},
		FileReport: true,
	})
	require.NoError(t, err)

	counts, err := f.manager.ResetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.MissingRemoved)
	assert.Equal(t, int64(1), counts.FoundRemoved)

	pending, err := f.manager.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	found, err := f.manager.ListFound(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	for _, kind := range []storage.Kind{storage.KindMissing, storage.KindFound} {
		entries, err := os.ReadDir(filepath.Join(f.images.Root(), string(kind)))
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}
