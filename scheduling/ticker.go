// Package scheduling provides delayed turn ticks for matches.
package scheduling

import (
	"context"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
	"sync"
	"time"
)

// DefaultTickDelay is the default delay between a mismatched flip and the tick.
const DefaultTickDelay = time.Second

// TickFunc is called when a scheduled tick fires. The turn is the one the tick
// was scheduled for, so that stale ticks can be detected.
type TickFunc func(ctx context.Context, matchID store.MatchID, turn int)

type tickKey struct {
	matchID store.MatchID
	turn    int
}

// TurnTicker schedules one delayed tick per match and turn. Scheduled ticks
// are not cancelled when players leave. The TickFunc is expected to
// re-validate the match state. Start the TurnTicker with Run.
type TurnTicker struct {
	logger *zap.Logger
	delay  time.Duration
	tick   TickFunc
	// lifetime is passed to TickFunc. It is set in Run.
	lifetime context.Context
	// pending holds all scheduled ticks that did not fire yet.
	pending map[tickKey]*time.Timer
	// closed is set when Run returns. No more ticks are scheduled after that.
	closed bool
	// m locks lifetime, pending and closed.
	m sync.Mutex
	// firing waits for all running TickFunc calls.
	firing sync.WaitGroup
}

// NewTurnTicker creates a new TurnTicker. If the delay is not positive,
// DefaultTickDelay is used.
func NewTurnTicker(logger *zap.Logger, delay time.Duration, tick TickFunc) *TurnTicker {
	if delay <= 0 {
		delay = DefaultTickDelay
	}
	return &TurnTicker{
		logger:   logger,
		delay:    delay,
		tick:     tick,
		lifetime: context.Background(),
		pending:  make(map[tickKey]*time.Timer),
	}
}

// Schedule schedules a tick for the match with the given id and turn. If a
// tick for the same match and turn is already pending, false is returned.
func (t *TurnTicker) Schedule(matchID store.MatchID, turn int) bool {
	t.m.Lock()
	defer t.m.Unlock()
	if t.closed {
		t.logger.Debug("ignoring tick schedule after shutdown", zap.Any("match_id", matchID))
		return false
	}
	key := tickKey{matchID: matchID, turn: turn}
	if _, ok := t.pending[key]; ok {
		return false
	}
	t.firing.Add(1)
	t.pending[key] = time.AfterFunc(t.delay, func() {
		defer t.firing.Done()
		t.m.Lock()
		delete(t.pending, key)
		lifetime := t.lifetime
		closed := t.closed
		t.m.Unlock()
		if closed {
			return
		}
		t.tick(lifetime, key.matchID, key.turn)
	})
	t.logger.Debug("tick scheduled",
		zap.Any("match_id", matchID),
		zap.Int("turn", turn),
		zap.Duration("delay", t.delay))
	return true
}

// Pending returns the number of scheduled ticks that did not fire yet.
func (t *TurnTicker) Pending() int {
	t.m.Lock()
	defer t.m.Unlock()
	return len(t.pending)
}

// Run sets the context passed to TickFunc and blocks until the given one is
// done. Pending ticks are dropped then and running ones are waited for.
func (t *TurnTicker) Run(ctx context.Context) error {
	t.m.Lock()
	t.lifetime = ctx
	t.m.Unlock()
	<-ctx.Done()
	t.m.Lock()
	t.closed = true
	for key, timer := range t.pending {
		if timer.Stop() {
			// The callback will not run anymore.
			t.firing.Done()
		}
		delete(t.pending, key)
	}
	t.m.Unlock()
	t.firing.Wait()
	return nil
}
