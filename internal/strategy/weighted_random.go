package strategy

import (
	"math/rand/v2"
	"sync"

	"github.com/samber/lo"

	"github.com/angeloszaimis/randdistri/internal/registry"
)

// weightedRandomStrategy carries no state between calls apart from the
// random source, which is not safe for concurrent use on its own.
type weightedRandomStrategy struct {
	mutex sync.Mutex
	rng   *rand.Rand
}

// NewWeightedRandomStrategy creates a strategy backed by a randomly seeded PCG source.
func NewWeightedRandomStrategy() Strategy {
	return NewWeightedRandomStrategyWithSource(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewWeightedRandomStrategyWithSource lets tests pin the draw sequence.
func NewWeightedRandomStrategyWithSource(src rand.Source) Strategy {
	return &weightedRandomStrategy{rng: rand.New(src)}
}

func (w *weightedRandomStrategy) SelectBackend(candidates []registry.Server) (registry.Server, bool) {
	if len(candidates) == 0 {
		return registry.Server{}, false
	}

	total := lo.SumBy(candidates, func(s registry.Server) uint64 { return uint64(s.EffectiveWeight()) })

	w.mutex.Lock()
	r := w.rng.Uint64N(total)
	w.mutex.Unlock()

	return Pick(candidates, r), true
}

// Pick returns the first candidate whose cumulative weight exceeds r.
// r must lie in [0, total effective weight).
func Pick(candidates []registry.Server, r uint64) registry.Server {
	var cumulative uint64
	for _, s := range candidates {
		cumulative += uint64(s.EffectiveWeight())
		if r < cumulative {
			return s
		}
	}
	return candidates[len(candidates)-1]
}
