package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpensAtThreshold(t *testing.T) {
	b := New("reddit", 3, time.Minute)

	b.RecordFailure()
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, StateOpen, b.GetStatus().State)
}

func TestSuccessResets(t *testing.T) {
	b := New("reddit", 3, time.Minute)

	for range 3 {
		b.RecordFailure()
	}
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())

	status := b.GetStatus()
	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 0, status.FailureCount)
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	b := New("news", 3, 60*time.Second)
	b.now = func() time.Time { return now }

	for range 3 {
		b.RecordFailure()
	}
	assert.True(t, b.IsOpen())

	now = now.Add(59 * time.Second)
	assert.True(t, b.IsOpen())

	now = now.Add(1 * time.Second)
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.GetStatus().State)

	// Failed trial call re-opens immediately.
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	b := New("news", 2, 30*time.Second)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	now = now.Add(30 * time.Second)
	assert.False(t, b.IsOpen())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetStatus().State)
	assert.False(t, b.IsOpen())
}

func TestConcurrentAccess(t *testing.T) {
	b := New("shared", 100, time.Minute)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				b.RecordFailure()
				b.IsOpen()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, b.GetStatus().FailureCount)
	assert.Equal(t, StateOpen, b.GetStatus().State)
}
