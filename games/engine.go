package games

import (
	"context"
	"fmt"
	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
	"time"
)

// DefaultStoreTimeout is the default timeout for every call to the Store.
const DefaultStoreTimeout = 5 * time.Second

// Store is the persistence collaborator for matches. UpdateMatch must apply
// the store.MatchMutation atomically and discard it if it fails.
type Store interface {
	// MatchByID retrieves the store.Match with the given id.
	MatchByID(ctx context.Context, matchID store.MatchID) (store.Match, error)
	// CreateMatch creates a pending store.Match with the given initial players.
	CreateMatch(ctx context.Context, initialPlayers []store.User) (store.Match, error)
	// UpdateMatch applies the given store.MatchMutation to the match with the
	// given id and returns the result.
	UpdateMatch(ctx context.Context, matchID store.MatchID, mutate store.MatchMutation) (store.Match, error)
	// DeleteMatch deletes the match with the given id.
	DeleteMatch(ctx context.Context, matchID store.MatchID) error
	// Matches lists all matches accepted by the given store.MatchFilter.
	Matches(ctx context.Context, filter store.MatchFilter) ([]store.Match, error)
}

// Dealer provides card layouts for started matches. Every value must occur
// exactly twice.
type Dealer interface {
	Generate() []string
}

// Config is the configuration for the Engine.
type Config struct {
	// StoreTimeout is the timeout for each call to the Store. If not positive,
	// DefaultStoreTimeout is used.
	StoreTimeout time.Duration
	// CreateEmpty creates matches without adding the creator as initial player.
	CreateEmpty bool
}

// Engine is the authoritative state machine for matches. All mutating
// operations on the same match are serialized.
type Engine struct {
	logger *zap.Logger
	store  Store
	dealer Dealer
	config Config
	// matchLocks serializes mutating operations per match.
	matchLocks *keyedLock
	// userLocks serializes creating and joining per user in order to enforce a
	// single active match. Always acquired before matchLocks.
	userLocks *keyedLock
}

// NewEngine creates a new Engine.
func NewEngine(logger *zap.Logger, store Store, dealer Dealer, config Config) *Engine {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	return &Engine{
		logger:     logger,
		store:      store,
		dealer:     dealer,
		config:     config,
		matchLocks: newKeyedLock(),
		userLocks:  newKeyedLock(),
	}
}

// callStore calls the given function with a context bound to the configured
// store timeout. Persistence faults are logged along with the match id and
// operation. Errors to blame the user for are returned as-is.
func (e *Engine) callStore(ctx context.Context, operation string, matchID store.MatchID, fn func(ctx context.Context) error) error {
	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	err := fn(storeCtx)
	if err == nil {
		return nil
	}
	if errors.BlameUser(err) {
		return err
	}
	if storeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindTimeout,
			Err:     err,
			Message: "store timeout",
			Details: errors.Details{"timeout": e.config.StoreTimeout.String()},
		}
	}
	err = errors.Wrap(err, operation, errors.Details{
		"match_id":  matchID,
		"operation": operation,
	})
	errors.Log(e.logger, err)
	return err
}

// lockMatch acquires the exclusive section for the match with the given id.
func (e *Engine) lockMatch(ctx context.Context, matchID store.MatchID) (func(), error) {
	unlock, err := e.matchLocks.lock(ctx, string(matchID))
	if err != nil {
		return nil, errors.Wrap(err, "lock match", errors.Details{"match_id": matchID})
	}
	return unlock, nil
}

// lockUser acquires the exclusive section for the user with the given id.
func (e *Engine) lockUser(ctx context.Context, userID store.UserID) (func(), error) {
	unlock, err := e.userLocks.lock(ctx, string(userID))
	if err != nil {
		return nil, errors.Wrap(err, "lock user", errors.Details{"user_id": userID})
	}
	return unlock, nil
}

// CreateMatch creates a new pending match with the given user as sole initial
// player. It fails with errors.ErrConflict if the user already participates in
// an active match.
func (e *Engine) CreateMatch(ctx context.Context, user store.User) (store.MatchID, error) {
	unlockUser, err := e.lockUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	defer unlockUser()
	err = e.assureNoActiveMatch(ctx, user.ID, "")
	if err != nil {
		return "", err
	}
	initialPlayers := []store.User{user}
	if e.config.CreateEmpty {
		initialPlayers = nil
	}
	var match store.Match
	err = e.callStore(ctx, "create match", "", func(ctx context.Context) error {
		var err error
		match, err = e.store.CreateMatch(ctx, initialPlayers)
		return err
	})
	if err != nil {
		return "", err
	}
	e.logger.Debug("match created",
		zap.Any("match_id", match.ID),
		zap.Any("user_id", user.ID))
	return match.ID, nil
}

// assureNoActiveMatch fails with errors.ErrConflict if the user with the given
// id participates in an active match other than the excluded one.
func (e *Engine) assureNoActiveMatch(ctx context.Context, userID store.UserID, exclude store.MatchID) error {
	active, err := e.activeMatchesFor(ctx, userID)
	if err != nil {
		return err
	}
	for _, match := range active {
		if match.ID == exclude {
			continue
		}
		return errors.Error{
			Code:    errors.ErrConflict,
			Kind:    errors.KindAlreadyInMatch,
			Message: "already participating in an active match",
			Details: errors.Details{"active_match_id": match.ID},
		}
	}
	return nil
}

func (e *Engine) activeMatchesFor(ctx context.Context, userID store.UserID) ([]store.Match, error) {
	var matches []store.Match
	err := e.callStore(ctx, "list active matches", "", func(ctx context.Context) error {
		var err error
		matches, err = e.store.Matches(ctx, store.MatchFilter{
			Statuses:    []store.MatchStatus{store.MatchStatusPending, store.MatchStatusOngoing},
			Participant: nulls.NewString(string(userID)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// ListPendingMatches lists all pending matches with their players.
func (e *Engine) ListPendingMatches(ctx context.Context) ([]messages.MatchListEntry, error) {
	var matches []store.Match
	err := e.callStore(ctx, "list pending matches", "", func(ctx context.Context) error {
		var err error
		matches, err = e.store.Matches(ctx, store.MatchFilter{
			Statuses: []store.MatchStatus{store.MatchStatusPending},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	entries := make([]messages.MatchListEntry, 0, len(matches))
	for _, match := range matches {
		entries = append(entries, ListEntry(match))
	}
	return entries, nil
}

// ListActiveMatchesFor lists the ids of all matches that are not completed and
// the user with the given id participates in.
func (e *Engine) ListActiveMatchesFor(ctx context.Context, userID store.UserID) ([]store.MatchID, error) {
	matches, err := e.activeMatchesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	matchIDs := make([]store.MatchID, 0, len(matches))
	for _, match := range matches {
		matchIDs = append(matchIDs, match.ID)
	}
	return matchIDs, nil
}

// ListAwaitingTick lists all ongoing matches with a visible mismatched pair.
func (e *Engine) ListAwaitingTick(ctx context.Context) ([]messages.MessageMatch, error) {
	var matches []store.Match
	err := e.callStore(ctx, "list ongoing matches", "", func(ctx context.Context) error {
		var err error
		matches, err = e.store.Matches(ctx, store.MatchFilter{
			Statuses: []store.MatchStatus{store.MatchStatusOngoing},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	awaiting := make([]messages.MessageMatch, 0)
	for _, match := range matches {
		if match.Card1Flip.Valid && match.Card2Flip.Valid {
			awaiting = append(awaiting, View(match))
		}
	}
	return awaiting, nil
}

// GetMatch retrieves the player-safe view of the match with the given id.
func (e *Engine) GetMatch(ctx context.Context, matchID store.MatchID) (messages.MessageMatch, error) {
	match, err := e.matchByID(ctx, matchID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	return View(match), nil
}

func (e *Engine) matchByID(ctx context.Context, matchID store.MatchID) (store.Match, error) {
	if _, err := uuid.Parse(string(matchID)); err != nil {
		return store.Match{}, matchNotFoundError(matchID)
	}
	var match store.Match
	err := e.callStore(ctx, "retrieve match", matchID, func(ctx context.Context) error {
		var err error
		match, err = e.store.MatchByID(ctx, matchID)
		return err
	})
	if err != nil {
		return store.Match{}, err
	}
	return match, nil
}

// updateMatch applies the given mutation. Malformed ids are reported as not
// found.
func (e *Engine) updateMatch(ctx context.Context, operation string, matchID store.MatchID, mutate store.MatchMutation) (store.Match, error) {
	if _, err := uuid.Parse(string(matchID)); err != nil {
		return store.Match{}, matchNotFoundError(matchID)
	}
	var match store.Match
	err := e.callStore(ctx, operation, matchID, func(ctx context.Context) error {
		var err error
		match, err = e.store.UpdateMatch(ctx, matchID, mutate)
		return err
	})
	if err != nil {
		return store.Match{}, err
	}
	return match, nil
}

// JoinMatch appends the given user to the players of the pending match with
// the given id. Joining a match the user already participates in is a no-op.
func (e *Engine) JoinMatch(ctx context.Context, user store.User, matchID store.MatchID) (messages.MessageMatch, error) {
	unlockUser, err := e.lockUser(ctx, user.ID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	defer unlockUser()
	unlockMatch, err := e.lockMatch(ctx, matchID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	defer unlockMatch()

	match, err := e.matchByID(ctx, matchID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	if match.Status != store.MatchStatusPending {
		return messages.MessageMatch{}, matchNotPendingError(match)
	}
	if match.HasPlayer(user.ID) {
		return View(match), nil
	}
	err = e.assureNoActiveMatch(ctx, user.ID, matchID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	match, err = e.updateMatch(ctx, "join match", matchID, func(match *store.Match) error {
		if match.Status != store.MatchStatusPending {
			return matchNotPendingError(*match)
		}
		if !match.HasPlayer(user.ID) {
			match.Players = append(match.Players, user)
		}
		return nil
	})
	if err != nil {
		return messages.MessageMatch{}, err
	}
	e.logger.Debug("player joined",
		zap.Any("match_id", matchID),
		zap.Any("user_id", user.ID),
		zap.Int("players", len(match.Players)))
	return View(match), nil
}

// LeaveMatch removes the given user from the match with the given id. If no
// players are left, the match is deleted and nil is returned. Leaving is legal
// in every status. Completed matches are final records: leaving them succeeds
// without changing roster, scores or winner.
func (e *Engine) LeaveMatch(ctx context.Context, user store.User, matchID store.MatchID) (*messages.MessageMatch, error) {
	unlockMatch, err := e.lockMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	defer unlockMatch()

	match, err := e.matchByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasPlayer(user.ID) {
		return nil, notParticipantError(match, user.ID)
	}
	if match.Status == store.MatchStatusCompleted {
		e.logger.Debug("keeping completed match on leave",
			zap.Any("match_id", matchID),
			zap.Any("user_id", user.ID))
		view := View(match)
		return &view, nil
	}
	if len(match.Players) == 1 {
		err = e.callStore(ctx, "delete match", matchID, func(ctx context.Context) error {
			return e.store.DeleteMatch(ctx, matchID)
		})
		if err != nil {
			return nil, err
		}
		e.logger.Debug("match deleted after last player left",
			zap.Any("match_id", matchID),
			zap.Any("user_id", user.ID))
		return nil, nil
	}
	match, err = e.updateMatch(ctx, "leave match", matchID, func(match *store.Match) error {
		playerIndex := match.PlayerIndex(user.ID)
		if playerIndex == -1 {
			return notParticipantError(*match, user.ID)
		}
		if len(match.Players) < 2 {
			return errors.NewInternalError("last player would leave in update", errors.Details{"match_id": match.ID})
		}
		removePlayer(match, playerIndex)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("player left",
		zap.Any("match_id", matchID),
		zap.Any("user_id", user.ID),
		zap.Int("players", len(match.Players)))
	view := View(match)
	return &view, nil
}

// removePlayer removes the player at the given index. For ongoing matches the
// active player is kept if it is not the leaving one. Otherwise, the turn
// passes to the next player and any flips are cleared. The turn counter only
// moves forward.
func removePlayer(match *store.Match, playerIndex int) {
	active := 0
	if len(match.Players) > 0 {
		active = match.CurrentTurn % len(match.Players)
	}
	match.Players = append(match.Players[:playerIndex:playerIndex], match.Players[playerIndex+1:]...)
	if len(match.Scores) > playerIndex {
		match.Scores = append(match.Scores[:playerIndex:playerIndex], match.Scores[playerIndex+1:]...)
	}
	if match.Status != store.MatchStatusOngoing {
		return
	}
	playerCount := len(match.Players)
	target := active
	nextTurn := match.CurrentTurn
	switch {
	case playerIndex < active:
		target = active - 1
	case playerIndex == active:
		target = active % playerCount
		if match.Card1Flip.Valid && match.Card2Flip.Valid {
			// Invalidate the pending tick.
			nextTurn++
		}
		match.Card1Flip = nulls.Int{}
		match.Card2Flip = nulls.Int{}
	}
	for nextTurn%playerCount != target {
		nextTurn++
	}
	match.CurrentTurn = nextTurn
}

// StartMatch starts the pending match with the given id by dealing cards and
// initializing scores.
func (e *Engine) StartMatch(ctx context.Context, user store.User, matchID store.MatchID) (messages.MessageMatch, error) {
	unlockMatch, err := e.lockMatch(ctx, matchID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	defer unlockMatch()

	match, err := e.updateMatch(ctx, "start match", matchID, func(match *store.Match) error {
		if match.Status != store.MatchStatusPending {
			return matchNotPendingError(*match)
		}
		if !match.HasPlayer(user.ID) {
			return notParticipantError(*match, user.ID)
		}
		if len(match.Players) < 2 {
			return errors.Error{
				Code:    errors.ErrBadRequest,
				Kind:    errors.KindNotEnoughPlayers,
				Message: "at least two players are required",
				Details: errors.Details{"match_id": match.ID, "players": len(match.Players)},
			}
		}
		layout := e.dealer.Generate()
		match.Cards = make([]store.Card, 0, len(layout))
		for i, value := range layout {
			match.Cards = append(match.Cards, store.Card{
				Order: i,
				Value: value,
			})
		}
		match.Scores = make([]int, len(match.Players))
		match.Card1Flip = nulls.Int{}
		match.Card2Flip = nulls.Int{}
		match.Status = store.MatchStatusOngoing
		return nil
	})
	if err != nil {
		return messages.MessageMatch{}, err
	}
	e.logger.Debug("match started",
		zap.Any("match_id", matchID),
		zap.Int("players", len(match.Players)),
		zap.Int("cards", len(match.Cards)))
	return View(match), nil
}

// FlipCard flips the card at the given position for the active player. A
// matching second flip marks both cards as matched, increments the score and
// clears the flips immediately. A mismatching one stays visible until the turn
// is ticked.
func (e *Engine) FlipCard(ctx context.Context, user store.User, matchID store.MatchID, position int) (messages.MessageMatch, error) {
	if position < 0 || position >= MaxCards {
		return messages.MessageMatch{}, invalidPositionError(position)
	}
	unlockMatch, err := e.lockMatch(ctx, matchID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	defer unlockMatch()

	completed := false
	match, err := e.updateMatch(ctx, "flip card", matchID, func(match *store.Match) error {
		if match.Status != store.MatchStatusOngoing {
			return matchNotOngoingError(*match)
		}
		playerIndex := match.PlayerIndex(user.ID)
		if playerIndex == -1 {
			return notParticipantError(*match, user.ID)
		}
		if match.CurrentTurn%len(match.Players) != playerIndex {
			return errors.Error{
				Code:    errors.ErrForbidden,
				Kind:    errors.KindNotYourTurn,
				Message: "not your turn",
				Details: errors.Details{"match_id": match.ID, "current_turn": match.CurrentTurn},
			}
		}
		if position >= len(match.Cards) {
			return invalidPositionError(position)
		}
		if match.Card1Flip.Valid && match.Card2Flip.Valid {
			return errors.Error{
				Code:    errors.ErrConflict,
				Kind:    errors.KindTickPending,
				Message: "mismatched pair is still visible",
				Details: errors.Details{"match_id": match.ID},
			}
		}
		if match.Cards[position].Matched {
			return errors.Error{
				Code:    errors.ErrConflict,
				Kind:    errors.KindCardAlreadyMatched,
				Message: "card already matched",
				Details: errors.Details{"match_id": match.ID, "position": position},
			}
		}
		if !match.Card1Flip.Valid {
			match.Card1Flip = nulls.NewInt(position)
			return nil
		}
		if match.Card1Flip.Int == position {
			return errors.Error{
				Code:    errors.ErrConflict,
				Kind:    errors.KindCardAlreadyFlipped,
				Message: "card already flipped",
				Details: errors.Details{"match_id": match.ID, "position": position},
			}
		}
		first := match.Card1Flip.Int
		match.Card2Flip = nulls.NewInt(position)
		if match.Cards[first].Value != match.Cards[position].Value {
			// Stays visible until ticked.
			return nil
		}
		match.Cards[first].Matched = true
		match.Cards[position].Matched = true
		match.Scores[playerIndex]++
		match.Card1Flip = nulls.Int{}
		match.Card2Flip = nulls.Int{}
		if allMatched(match.Cards) {
			match.Status = store.MatchStatusCompleted
			match.WinnerID = nulls.NewString(string(match.Players[winnerIndex(match.Scores)].ID))
			completed = true
		}
		return nil
	})
	if err != nil {
		return messages.MessageMatch{}, err
	}
	if completed {
		e.logger.Debug("match completed",
			zap.Any("match_id", matchID),
			zap.String("winner_id", match.WinnerID.String),
			zap.Ints("scores", match.Scores))
	}
	return View(match), nil
}

// MaxCards is the maximum number of cards on a board.
const MaxCards = 30

func allMatched(cards []store.Card) bool {
	for _, card := range cards {
		if !card.Matched {
			return false
		}
	}
	return true
}

// winnerIndex returns the index of the first strictly maximal score.
func winnerIndex(scores []int) int {
	winner := 0
	for i, score := range scores {
		if score > scores[winner] {
			winner = i
		}
	}
	return winner
}

// TickTurn hides a visible mismatched pair and advances the turn.
func (e *Engine) TickTurn(ctx context.Context, matchID store.MatchID) (messages.MessageMatch, error) {
	return e.tickTurn(ctx, matchID, nulls.Int{})
}

// TickTurnFor is TickTurn but fails with errors.ErrInvalidState if the turn has
// already moved on from the given one. This makes delayed ticks idempotent.
func (e *Engine) TickTurnFor(ctx context.Context, matchID store.MatchID, turn int) (messages.MessageMatch, error) {
	return e.tickTurn(ctx, matchID, nulls.NewInt(turn))
}

func (e *Engine) tickTurn(ctx context.Context, matchID store.MatchID, expectedTurn nulls.Int) (messages.MessageMatch, error) {
	unlockMatch, err := e.lockMatch(ctx, matchID)
	if err != nil {
		return messages.MessageMatch{}, err
	}
	defer unlockMatch()

	match, err := e.updateMatch(ctx, "tick turn", matchID, func(match *store.Match) error {
		if match.Status != store.MatchStatusOngoing {
			return matchNotOngoingError(*match)
		}
		if !match.Card1Flip.Valid || !match.Card2Flip.Valid {
			return errors.Error{
				Code:    errors.ErrInvalidState,
				Kind:    errors.KindNothingToTick,
				Message: "no mismatched pair to tick",
				Details: errors.Details{"match_id": match.ID},
			}
		}
		if expectedTurn.Valid && expectedTurn.Int != match.CurrentTurn {
			return errors.Error{
				Code:    errors.ErrInvalidState,
				Kind:    errors.KindNothingToTick,
				Message: "turn already advanced",
				Details: errors.Details{
					"match_id":      match.ID,
					"expected_turn": expectedTurn.Int,
					"current_turn":  match.CurrentTurn,
				},
			}
		}
		match.Card1Flip = nulls.Int{}
		match.Card2Flip = nulls.Int{}
		match.CurrentTurn++
		return nil
	})
	if err != nil {
		return messages.MessageMatch{}, err
	}
	return View(match), nil
}

func matchNotFoundError(matchID store.MatchID) error {
	return errors.NewResourceNotFoundError("match not found", errors.Details{"match_id": matchID})
}

func matchNotPendingError(match store.Match) error {
	return errors.Error{
		Code:    errors.ErrInvalidState,
		Kind:    errors.KindMatchNotPending,
		Message: fmt.Sprintf("match is %s", match.Status),
		Details: errors.Details{"match_id": match.ID, "status": match.Status},
	}
}

func matchNotOngoingError(match store.Match) error {
	return errors.Error{
		Code:    errors.ErrInvalidState,
		Kind:    errors.KindMatchNotOngoing,
		Message: fmt.Sprintf("match is %s", match.Status),
		Details: errors.Details{"match_id": match.ID, "status": match.Status},
	}
}

func notParticipantError(match store.Match, userID store.UserID) error {
	return errors.Error{
		Code:    errors.ErrForbidden,
		Kind:    errors.KindNotParticipant,
		Message: "not a participant",
		Details: errors.Details{"match_id": match.ID, "user_id": userID},
	}
}

func invalidPositionError(position int) error {
	return errors.Error{
		Code:    errors.ErrBadRequest,
		Kind:    errors.KindInvalidPosition,
		Message: "invalid card position",
		Details: errors.Details{"position": position},
	}
}
