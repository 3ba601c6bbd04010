// Package deck generates shuffled card layouts.
package deck

import (
	"github.com/lefinal/flipmatch/errors"
	"math/rand"
	"sync"
	"time"
)

const (
	// PairCount is the number of distinct values in a layout.
	PairCount = 15
	// Size is the number of cards in a layout.
	Size = 2 * PairCount
)

// DefaultValues is the default value pool.
var DefaultValues = []string{
	"shrek", "fiona", "donkey", "puss", "dragon", "farquaad", "gingy", "pinocchio",
	"three-pigs", "big-bad-wolf", "three-blind-mice", "magic-mirror", "fairy-godmother",
	"prince-charming", "doris", "artie", "rumpelstiltskin", "onions", "swamp", "waffles",
}

// Generator generates layouts of Size values with every one of PairCount
// values occurring exactly twice.
type Generator struct {
	values []string
	rand   *rand.Rand
	// randMutex locks rand as rand.Rand is not safe for concurrent use.
	randMutex sync.Mutex
}

// NewGenerator creates a new Generator for the given value pool. Duplicates in
// the pool are ignored. If the source is nil, a time-seeded one is used.
func NewGenerator(values []string, source rand.Source) (*Generator, error) {
	distinct := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value == "" {
			return nil, errors.Error{
				Code:    errors.ErrBadRequest,
				Kind:    errors.KindInvalidCardValues,
				Message: "empty card value",
			}
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		distinct = append(distinct, value)
	}
	if len(distinct) < PairCount {
		return nil, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidCardValues,
			Message: "not enough distinct card values",
			Details: errors.Details{"distinct": len(distinct), "required": PairCount},
		}
	}
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{
		values: distinct,
		rand:   rand.New(source),
	}, nil
}

// Generate returns a new uniformly shuffled layout.
func (g *Generator) Generate() []string {
	g.randMutex.Lock()
	defer g.randMutex.Unlock()
	// Pick the values for this layout.
	pool := make([]string, len(g.values))
	copy(pool, g.values)
	g.rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	layout := make([]string, 0, Size)
	for _, value := range pool[:PairCount] {
		layout = append(layout, value, value)
	}
	// Fisher-Yates over all slots.
	g.rand.Shuffle(len(layout), func(i, j int) {
		layout[i], layout[j] = layout[j], layout[i]
	})
	return layout
}
