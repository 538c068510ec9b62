package jobs

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockEvictor struct {
	calls   atomic.Int64
	evicted int64
}

func (m *mockEvictor) EvictIdle(maxIdle time.Duration) int64 {
	m.calls.Add(1)
	return m.evicted
}

func (m *mockEvictor) Len() int {
	return 0
}

func TestEvictionJob(t *testing.T) {
	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewEvictionJob(&mockEvictor{}, 5*time.Minute, time.Hour)

		assert.NotNil(t, job)
		assert.Equal(t, 5*time.Minute, job.interval)
		assert.Equal(t, time.Hour, job.maxIdle)
	})

	t.Run("starts and stops without panic", func(t *testing.T) {
		job := NewEvictionJob(&mockEvictor{evicted: 2}, 10*time.Millisecond, time.Hour)

		job.Start()
		time.Sleep(50 * time.Millisecond)
		job.Stop()
	})

	t.Run("ticks eviction", func(t *testing.T) {
		evictor := &mockEvictor{}
		job := NewEvictionJob(evictor, 10*time.Millisecond, time.Hour)

		job.Start()
		time.Sleep(60 * time.Millisecond)
		job.Stop()

		assert.Greater(t, evictor.calls.Load(), int64(0))
	})
}
