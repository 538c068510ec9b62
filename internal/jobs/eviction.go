package jobs

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Evictor is the slice of the session registry the job needs.
type Evictor interface {
	EvictIdle(maxIdle time.Duration) int64
	Len() int
}

// EvictionJob periodically drops idle session actors from memory. Evicted
// sessions are recovered from storage on the next command, so this only
// bounds the working set, never loses state.
type EvictionJob struct {
	registry Evictor
	interval time.Duration
	maxIdle  time.Duration
	done     chan struct{}
}

func NewEvictionJob(registry Evictor, interval, maxIdle time.Duration) *EvictionJob {
	return &EvictionJob{
		registry: registry,
		interval: interval,
		maxIdle:  maxIdle,
		done:     make(chan struct{}),
	}
}

func (j *EvictionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("maxIdle", j.maxIdle).Msg("eviction job started")
}

func (j *EvictionJob) Stop() {
	close(j.done)
	log.Info().Msg("eviction job stopped")
}

func (j *EvictionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.evict()
		}
	}
}

func (j *EvictionJob) evict() {
	count := j.registry.EvictIdle(j.maxIdle)
	if count > 0 {
		log.Info().Int64("count", count).Int("remaining", j.registry.Len()).Msg("evicted idle sessions")
	}
}
