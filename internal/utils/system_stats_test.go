package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePool struct{}

func (fakePool) GetWorkerCount() int   { return 4 }
func (fakePool) ActiveJobCount() int   { return 1 }
func (fakePool) GetQueueCapacity() int { return 8 }

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 Bytes", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2<<20))
	assert.Equal(t, "1.00 GB", FormatBytes(1<<30))
}

func TestGetSystemStatsIncludesPool(t *testing.T) {
	stats := GetSystemStats(fakePool{})

	assert.Equal(t, 4, stats.WorkerCount)
	assert.Equal(t, 1, stats.ActiveJobs)
	assert.Equal(t, 8, stats.QueueCapacity)
	assert.Positive(t, stats.NumCPU)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestGetSystemStatsWithoutPool(t *testing.T) {
	stats := GetSystemStats(nil)

	assert.Zero(t, stats.WorkerCount)
	assert.Positive(t, stats.GoRoutines)
}
