package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"reunite-go/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	reports []models.MissingReport
	err     error
}

func (s staticSource) ListMissing(_ context.Context, status models.ReportStatus) ([]models.MissingReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.MissingReport
	for _, r := range s.reports {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// allSource ignoriert den Statusfilter, um die Engine selbst zu prüfen
type allSource struct{ reports []models.MissingReport }

func (s allSource) ListMissing(context.Context, models.ReportStatus) ([]models.MissingReport, error) {
	return s.reports, nil
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.5},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, Score(tc.a, tc.b), 1e-9)
		})
	}
}

func TestScoreIsSymmetric(t *testing.T) {
	pairs := [][2][]float32{
		{{0.1, 0.7, -0.3}, {0.4, -0.2, 0.9}},
		{{1, 1, 1, 1}, {0.5, 0.25, 0.125, 2}},
		{{-3, 4}, {4, -3}},
	}
	for _, p := range pairs {
		assert.Equal(t, Score(p[0], p[1]), Score(p[1], p[0]))
	}
}

func TestFindMatchesRanksByScoreThenAge(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := staticSource{reports: []models.MissingReport{
		{ID: "late-exact", Status: models.StatusPending, Embedding: models.Embedding{1, 0}, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "early-exact", Status: models.StatusPending, Embedding: models.Embedding{2, 0}, CreatedAt: base},
		{ID: "close", Status: models.StatusPending, Embedding: models.Embedding{1, 0.3}, CreatedAt: base},
		{ID: "far", Status: models.StatusPending, Embedding: models.Embedding{0, 1}, CreatedAt: base},
		{ID: "matched", Status: models.StatusMatched, Embedding: models.Embedding{1, 0}, CreatedAt: base},
	}}
	engine := NewEngine(source, 0.8, 0.001)

	results, err := engine.FindMatches(context.Background(), []float32{1, 0})
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Missing.ID
	}
	assert.Equal(t, []string{"early-exact", "late-exact", "close"}, ids)
	assert.GreaterOrEqual(t, results[2].Score, 0.8)
}

func TestFindMatchesNeverReturnsMatchedReports(t *testing.T) {
	source := allSource{reports: []models.MissingReport{
		{ID: "a", Status: models.StatusMatched, Embedding: models.Embedding{1, 0}},
		{ID: "b", Status: models.StatusPending, Embedding: models.Embedding{1, 0}},
	}}
	engine := NewEngine(source, 0.5, 0.001)

	results, err := engine.FindMatches(context.Background(), []float32{1, 0})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Missing.ID)
}

func TestFindMatchesEmptyIsNotAnError(t *testing.T) {
	source := staticSource{reports: []models.MissingReport{
		{ID: "a", Status: models.StatusPending, Embedding: models.Embedding{0, 1}},
	}}
	engine := NewEngine(source, 0.8, 0.001)

	// Score 0.5 liegt unter dem Schwellenwert
	results, err := engine.FindMatches(context.Background(), []float32{1, 0})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindMatchesPropagatesSourceError(t *testing.T) {
	storageErr := models.NewStorageError("list missing", errors.New("disk gone"))
	engine := NewEngine(staticSource{err: storageErr}, 0.8, 0.001)

	_, err := engine.FindMatches(context.Background(), []float32{1})
	var target *models.StorageError
	assert.True(t, errors.As(err, &target))
}

func TestIsDuplicate(t *testing.T) {
	engine := NewEngine(staticSource{}, 0.8, 0.001)

	assert.True(t, engine.IsDuplicate([]float32{0.3, 0.4, 0.5}, []float32{0.3, 0.4, 0.5}))
	assert.True(t, engine.IsDuplicate([]float32{0.3, 0.4, 0.5}, []float32{0.6, 0.8, 1.0}))
	assert.False(t, engine.IsDuplicate([]float32{1, 0}, []float32{0.9, 0.3}))
	assert.False(t, engine.IsDuplicate(nil, nil))
}
