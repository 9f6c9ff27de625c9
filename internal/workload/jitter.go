package workload

import (
	"math/rand"
	"time"
)

// JitterSource provides deterministic, per-process delays. Seeding by pid
// keeps a run reproducible while still staggering siblings so exits and
// waits interleave differently.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source with the given run seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the current time.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// ForProcess returns a random number generator seeded for pid, or nil for a
// nil source.
func (j *JitterSource) ForProcess(pid int) *rand.Rand {
	if j == nil {
		return nil
	}
	return rand.New(rand.NewSource(int64(pid) ^ j.seed))
}

// Delay returns a duration in [0, limit) for pid.
func (j *JitterSource) Delay(pid int, limit time.Duration) time.Duration {
	if j == nil || limit <= 0 {
		return 0
	}
	return time.Duration(j.ForProcess(pid).Int63n(int64(limit)))
}
