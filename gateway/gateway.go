// Package gateway maps authenticated connections to match operations and fans
// out the resulting match views to all connections in a match.
package gateway

import (
	"context"
	"github.com/lefinal/flipmatch/client"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/scheduling"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
	"sync"
	"time"
)

// cleanupTimeout is the timeout for leaving all matches after a disconnect.
const cleanupTimeout = 30 * time.Second

// Engine is the match engine the gateway forwards actions to.
type Engine interface {
	JoinMatch(ctx context.Context, user store.User, matchID store.MatchID) (messages.MessageMatch, error)
	LeaveMatch(ctx context.Context, user store.User, matchID store.MatchID) (*messages.MessageMatch, error)
	StartMatch(ctx context.Context, user store.User, matchID store.MatchID) (messages.MessageMatch, error)
	FlipCard(ctx context.Context, user store.User, matchID store.MatchID, position int) (messages.MessageMatch, error)
	TickTurnFor(ctx context.Context, matchID store.MatchID, turn int) (messages.MessageMatch, error)
	ListActiveMatchesFor(ctx context.Context, userID store.UserID) ([]store.MatchID, error)
	ListAwaitingTick(ctx context.Context) ([]messages.MessageMatch, error)
}

// Feed receives match lifecycle events. Implementations must not block.
type Feed interface {
	PublishMatchEvent(event messages.MessageType, match messages.MessageMatch)
}

type nopFeed struct{}

func (nopFeed) PublishMatchEvent(_ messages.MessageType, _ messages.MessageMatch) {}

// Config is the configuration for the Gateway.
type Config struct {
	// TickDelay is the delay between a mismatched flip and hiding the pair
	// again.
	TickDelay time.Duration
}

// Stats are runtime statistics of the Gateway.
type Stats struct {
	Sessions     int
	Rooms        int
	PendingTicks int
}

// Gateway implements client.Listener. Start it with Run.
type Gateway struct {
	logger *zap.Logger
	engine Engine
	feed   Feed
	ticker *scheduling.TurnTicker
	// sessions holds all active sessions by client id.
	sessions map[string]*session
	// rooms holds all sessions that joined a match.
	rooms map[store.MatchID]map[*session]struct{}
	// departed holds ids of clients that were said goodbye before being
	// accepted.
	departed map[string]struct{}
	// m locks sessions, rooms and departed.
	m sync.RWMutex
	// cleanups waits for running disconnect cleanups.
	cleanups sync.WaitGroup
}

// NewGateway creates a new Gateway. The feed is optional.
func NewGateway(logger *zap.Logger, engine Engine, feed Feed, config Config) *Gateway {
	if feed == nil {
		feed = nopFeed{}
	}
	g := &Gateway{
		logger:   logger,
		engine:   engine,
		feed:     feed,
		sessions: make(map[string]*session),
		rooms:    make(map[store.MatchID]map[*session]struct{}),
		departed: make(map[string]struct{}),
	}
	g.ticker = scheduling.NewTurnTicker(logger.Named("ticker"), config.TickDelay, g.handleTick)
	return g
}

// Run reschedules ticks for matches that still show a mismatched pair and
// runs the turn ticker until the given context is done. Afterwards, it waits
// for running disconnect cleanups.
func (g *Gateway) Run(ctx context.Context) error {
	err := g.RecoverTicks(ctx)
	if err != nil {
		errors.Log(g.logger, errors.Wrap(err, "recover ticks", nil))
	}
	_ = g.ticker.Run(ctx)
	g.cleanups.Wait()
	return nil
}

// RecoverTicks schedules ticks for all ongoing matches with a visible
// mismatched pair.
func (g *Gateway) RecoverTicks(ctx context.Context) error {
	awaiting, err := g.engine.ListAwaitingTick(ctx)
	if err != nil {
		return errors.Wrap(err, "list matches awaiting tick", nil)
	}
	for _, match := range awaiting {
		g.ticker.Schedule(store.MatchID(match.ID), match.CurrentTurn)
	}
	if len(awaiting) > 0 {
		g.logger.Info("recovered ticks", zap.Int("count", len(awaiting)))
	}
	return nil
}

// Stats returns the current Stats.
func (g *Gateway) Stats() Stats {
	g.m.RLock()
	defer g.m.RUnlock()
	return Stats{
		Sessions:     len(g.sessions),
		Rooms:        len(g.rooms),
		PendingTicks: g.ticker.Pending(),
	}
}

// AcceptClient handles all incoming messages of the given client.Client until
// its receive channel is closed, it was said goodbye or the context is done.
// Clients that were already said goodbye are not accepted anymore.
func (g *Gateway) AcceptClient(ctx context.Context, c *client.Client) {
	g.m.Lock()
	if _, ok := g.departed[c.ID]; ok {
		delete(g.departed, c.ID)
		g.m.Unlock()
		g.logger.Debug("client left before being accepted", zap.String("client_id", c.ID))
		return
	}
	s := newSession(g.logger, c)
	g.sessions[c.ID] = s
	g.m.Unlock()
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.gone:
			return
		case raw, more := <-c.Receive:
			if !more || s.isClosed() {
				return
			}
			g.handleMessage(ctx, s, raw)
		}
	}
}

// SayGoodbyeToClient removes the session of the given client.Client from all
// rooms and leaves all active matches of its user in the background. Leaving
// starts after the session finished handling its current message. If the
// client was not accepted yet, it is marked as departed, so that AcceptClient
// ignores it.
func (g *Gateway) SayGoodbyeToClient(_ context.Context, c *client.Client) {
	g.m.Lock()
	s, ok := g.sessions[c.ID]
	if ok {
		delete(g.sessions, c.ID)
		for matchID, room := range g.rooms {
			delete(room, s)
			if len(room) == 0 {
				delete(g.rooms, matchID)
			}
		}
	} else {
		g.departed[c.ID] = struct{}{}
	}
	g.m.Unlock()
	var handlingDone <-chan struct{}
	if ok {
		s.close()
		handlingDone = s.done
	}
	g.cleanups.Add(1)
	go func() {
		defer g.cleanups.Done()
		if handlingDone != nil {
			<-handlingDone
		}
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		g.leaveAll(ctx, c.User)
	}()
}

// leaveAll leaves all active matches of the given user. Failures are logged
// and do not stop leaving the remaining ones.
func (g *Gateway) leaveAll(ctx context.Context, user store.User) {
	matchIDs, err := g.engine.ListActiveMatchesFor(ctx, user.ID)
	if err != nil {
		errors.Log(g.logger, errors.Wrap(err, "list active matches for disconnect cleanup",
			errors.Details{"user_id": user.ID}))
		return
	}
	for _, matchID := range matchIDs {
		view, err := g.engine.LeaveMatch(ctx, user, matchID)
		if err != nil {
			errors.Log(g.logger, errors.Wrap(err, "leave match for disconnect cleanup",
				errors.Details{"user_id": user.ID, "match_id": matchID}))
			continue
		}
		g.afterLeave(matchID, view)
	}
}

// afterLeave notifies the room about a player that left or removes the room if
// the match was deleted.
func (g *Gateway) afterLeave(matchID store.MatchID, view *messages.MessageMatch) {
	if view == nil {
		g.m.Lock()
		delete(g.rooms, matchID)
		g.m.Unlock()
		return
	}
	g.broadcast(matchID, nil, messages.MessageTypePlayerLeft, *view)
	g.feed.PublishMatchEvent(messages.MessageTypePlayerLeft, *view)
	g.scheduleTickIfNeeded(*view)
}

// subscribe adds the given session to the room of the match with the given id.
func (g *Gateway) subscribe(matchID store.MatchID, s *session) {
	g.m.Lock()
	defer g.m.Unlock()
	if _, ok := g.sessions[s.client.ID]; !ok {
		// Already gone.
		return
	}
	room, ok := g.rooms[matchID]
	if !ok {
		room = make(map[*session]struct{})
		g.rooms[matchID] = room
	}
	room[s] = struct{}{}
}

// unsubscribe removes the given session from the room of the match with the
// given id.
func (g *Gateway) unsubscribe(matchID store.MatchID, s *session) {
	g.m.Lock()
	defer g.m.Unlock()
	room, ok := g.rooms[matchID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(g.rooms, matchID)
	}
}

// broadcast sends a message to all sessions in the room of the match with the
// given id except the given one.
func (g *Gateway) broadcast(matchID store.MatchID, except *session, messageType messages.MessageType, content interface{}) {
	raw, err := messages.Encode(messageType, content)
	if err != nil {
		errors.Log(g.logger, errors.Wrap(err, "encode broadcast", errors.Details{"match_id": matchID}))
		return
	}
	g.m.RLock()
	recipients := make([]*session, 0, len(g.rooms[matchID]))
	for s := range g.rooms[matchID] {
		if s != except {
			recipients = append(recipients, s)
		}
	}
	g.m.RUnlock()
	for _, s := range recipients {
		s.sendRaw(raw)
	}
}

// scheduleTickIfNeeded schedules a tick if the given match shows a mismatched
// pair.
func (g *Gateway) scheduleTickIfNeeded(view messages.MessageMatch) {
	if view.Status != messages.MatchStatus(store.MatchStatusOngoing) || !view.BothFlipsSet() {
		return
	}
	g.ticker.Schedule(store.MatchID(view.ID), view.CurrentTurn)
}

// handleTick is called by the turn ticker. Ticks for deleted or meanwhile
// advanced matches are dropped.
func (g *Gateway) handleTick(ctx context.Context, matchID store.MatchID, turn int) {
	view, err := g.engine.TickTurnFor(ctx, matchID, turn)
	if err != nil {
		if errors.HasCode(err, errors.ErrInvalidState) || errors.HasCode(err, errors.ErrNotFound) {
			g.logger.Debug("dropping stale tick",
				zap.Any("match_id", matchID),
				zap.Int("turn", turn),
				zap.Error(err))
			return
		}
		errors.Log(g.logger, errors.Wrap(err, "tick turn", errors.Details{"match_id": matchID, "turn": turn}))
		return
	}
	g.broadcast(matchID, nil, messages.MessageTypeTurnTicked, view)
}
