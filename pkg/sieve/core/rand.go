package core

import (
	"encoding/binary"
	"math/rand"

	crand "crypto/rand"

	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// randSource is a private, per-replica random source used for the
// execution-delay draw (spec.md §4.5.3) and random leader selection
// (spec.md §4.7). Each replica gets its own seed so concurrently
// running in-process replicas in tests don't share PRNG state.
type randSource struct {
	r *rand.Rand
}

func newRandSource() *randSource {
	var seed int64
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return &randSource{r: rand.New(rand.NewSource(seed))}
}

// drawExecutionTiming reports whether this draw should take the
// long-sleep path: a value in [lo, hi] at or below threshold.
func (s *randSource) drawExecutionTiming(timing types.ExecutionTiming) bool {
	lo, hi := timing.Low, timing.High
	if hi < lo {
		lo, hi = hi, lo
	}
	draw := lo + s.r.Intn(hi-lo+1)
	return draw <= timing.Threshold
}

// pickLeader chooses a replica id uniformly from candidates, excluding
// self.
func (s *randSource) pickLeader(self int, candidates []int) int {
	pool := make([]int, 0, len(candidates))
	for _, id := range candidates {
		if id != self {
			pool = append(pool, id)
		}
	}
	if len(pool) == 0 {
		return self
	}
	return pool[s.r.Intn(len(pool))]
}
