package gateway

import (
	"context"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
)

// handleMessage handles a raw incoming message for the given session. Errors
// are only reported to the session.
func (g *Gateway) handleMessage(ctx context.Context, s *session, raw []byte) {
	container, err := messages.Decode(raw)
	if err != nil {
		g.reportError(s, errors.Wrap(err, "decode message", nil))
		return
	}
	var handle func(ctx context.Context, s *session, action messages.MessageMatchAction) error
	switch container.MessageType {
	case messages.MessageTypeJoin:
		handle = g.handleJoin
	case messages.MessageTypeLeave:
		handle = g.handleLeave
	case messages.MessageTypeStart:
		handle = g.handleStart
	case messages.MessageTypeFlip:
		handle = g.handleFlip
	default:
		g.reportError(s, errors.Error{
			Code:    errors.ErrProtocolViolation,
			Kind:    errors.KindUnknownMessageType,
			Message: "unknown message type",
			Details: errors.Details{"message_type": container.MessageType},
		})
		return
	}
	var action messages.MessageMatchAction
	err = messages.DecodeContent(container, &action)
	if err != nil {
		g.reportError(s, err)
		return
	}
	if action.MatchID == "" {
		g.reportError(s, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindMalformedID,
			Message: "missing match id",
			Details: errors.Details{"message_type": container.MessageType},
		})
		return
	}
	err = handle(ctx, s, action)
	if err != nil {
		g.reportError(s, errors.Wrap(err, string(container.MessageType), errors.Details{"match_id": action.MatchID}))
		return
	}
}

// reportError logs the given error and sends it to the session only.
func (g *Gateway) reportError(s *session, err error) {
	errors.Log(s.logger, err)
	s.sendError(err)
}

func (g *Gateway) handleJoin(ctx context.Context, s *session, action messages.MessageMatchAction) error {
	matchID := store.MatchID(action.MatchID)
	view, err := g.engine.JoinMatch(ctx, s.user(), matchID)
	if err != nil {
		return err
	}
	g.subscribe(matchID, s)
	g.broadcast(matchID, s, messages.MessageTypePlayerJoined, view)
	s.send(messages.MessageTypeJoinedMatch, view)
	g.feed.PublishMatchEvent(messages.MessageTypePlayerJoined, view)
	return nil
}

func (g *Gateway) handleLeave(ctx context.Context, s *session, action messages.MessageMatchAction) error {
	matchID := store.MatchID(action.MatchID)
	view, err := g.engine.LeaveMatch(ctx, s.user(), matchID)
	if err != nil {
		return err
	}
	g.unsubscribe(matchID, s)
	s.send(messages.MessageTypeLeftMatch, nil)
	g.afterLeave(matchID, view)
	return nil
}

func (g *Gateway) handleStart(ctx context.Context, s *session, action messages.MessageMatchAction) error {
	matchID := store.MatchID(action.MatchID)
	view, err := g.engine.StartMatch(ctx, s.user(), matchID)
	if err != nil {
		return err
	}
	g.subscribe(matchID, s)
	g.broadcast(matchID, nil, messages.MessageTypeMatchStarted, view)
	g.feed.PublishMatchEvent(messages.MessageTypeMatchStarted, view)
	return nil
}

func (g *Gateway) handleFlip(ctx context.Context, s *session, action messages.MessageMatchAction) error {
	if action.Position == nil {
		return errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidPosition,
			Message: "missing position",
		}
	}
	matchID := store.MatchID(action.MatchID)
	view, err := g.engine.FlipCard(ctx, s.user(), matchID, *action.Position)
	if err != nil {
		return err
	}
	g.subscribe(matchID, s)
	g.broadcast(matchID, nil, messages.MessageTypeCardFlipped, view)
	g.scheduleTickIfNeeded(view)
	if view.Status == messages.MatchStatus(store.MatchStatusCompleted) {
		s.logger.Debug("match completed", zap.Any("match_id", matchID))
		g.feed.PublishMatchEvent(messages.MessageTypeMatchCompleted, view)
	}
	return nil
}
