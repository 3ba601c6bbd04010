package games

import (
	"context"
	"fmt"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/flipmatch/deck"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"math/rand"
	"sync"
	"testing"
	"time"
)

const timeout = 3 * time.Second

// fixedDealer always deals the same layout.
type fixedDealer []string

func (d fixedDealer) Generate() []string {
	layout := make([]string, len(d))
	copy(layout, d)
	return layout
}

// layoutWithPair creates a full layout with the given value at the two given
// positions. All other pairs are placed next to each other.
func layoutWithPair(a, b int, value string) []string {
	layout := make([]string, deck.Size)
	layout[a] = value
	layout[b] = value
	pair := 0
	placed := 0
	for i := range layout {
		if i == a || i == b {
			continue
		}
		layout[i] = fmt.Sprintf("value-%d", pair)
		placed++
		if placed%2 == 0 {
			pair++
		}
	}
	return layout
}

// EngineTestSuite tests Engine with a Memory store.
type EngineTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	store  *store.Memory
	dealer fixedDealer
	engine *Engine
	p1     store.User
	p2     store.User
	p3     store.User
}

func (suite *EngineTestSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), timeout)
	suite.store = store.NewMemory()
	suite.dealer = fixedDealer{"A", "A", "B", "B"}
	suite.p1 = store.User{ID: "shrek", Username: "Shrek"}
	suite.p2 = store.User{ID: "donkey", Username: "Donkey"}
	suite.p3 = store.User{ID: "fiona", Username: "Fiona"}
	suite.newEngine()
}

func (suite *EngineTestSuite) newEngine() {
	suite.engine = NewEngine(zap.NewNop(), suite.store, suite.dealer, Config{})
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.cancel()
}

// pendingMatch creates a pending match with the given players.
func (suite *EngineTestSuite) pendingMatch(players ...store.User) store.MatchID {
	matchID, err := suite.engine.CreateMatch(suite.ctx, players[0])
	suite.Require().NoError(err, "create match should not fail")
	for _, player := range players[1:] {
		_, err = suite.engine.JoinMatch(suite.ctx, player, matchID)
		suite.Require().NoError(err, "join match should not fail")
	}
	return matchID
}

// ongoingMatch creates and starts a match with the given players.
func (suite *EngineTestSuite) ongoingMatch(players ...store.User) store.MatchID {
	matchID := suite.pendingMatch(players...)
	_, err := suite.engine.StartMatch(suite.ctx, players[0], matchID)
	suite.Require().NoError(err, "start match should not fail")
	return matchID
}

func (suite *EngineTestSuite) storedMatch(matchID store.MatchID) store.Match {
	match, err := suite.store.MatchByID(suite.ctx, matchID)
	suite.Require().NoError(err, "retrieve match should not fail")
	return match
}

func (suite *EngineTestSuite) TestCreateMatch() {
	matchID, err := suite.engine.CreateMatch(suite.ctx, suite.p1)
	suite.Require().NoError(err, "should not fail")
	match := suite.storedMatch(matchID)
	suite.Equal(store.MatchStatusPending, match.Status, "should be pending")
	suite.Equal([]store.User{suite.p1}, match.Players, "should have creator as sole player")
	suite.Empty(match.Cards, "should have no cards")
	suite.Empty(match.Scores, "should have no scores")
	suite.False(match.Card1Flip.Valid, "should have no first flip")
	suite.False(match.WinnerID.Valid, "should have no winner")
}

func (suite *EngineTestSuite) TestCreateMatchEmpty() {
	suite.engine = NewEngine(zap.NewNop(), suite.store, suite.dealer, Config{CreateEmpty: true})
	matchID, err := suite.engine.CreateMatch(suite.ctx, suite.p1)
	suite.Require().NoError(err, "should not fail")
	suite.Empty(suite.storedMatch(matchID).Players, "should have no players")
}

func (suite *EngineTestSuite) TestCreateMatchAlreadyActive() {
	suite.pendingMatch(suite.p1)
	_, err := suite.engine.CreateMatch(suite.ctx, suite.p1)
	suite.Require().Error(err, "should fail")
	suite.True(errors.HasCode(err, errors.ErrConflict), "should fail with correct code")
	suite.True(errors.HasKind(err, errors.KindAlreadyInMatch), "should fail with correct kind")
}

func (suite *EngineTestSuite) TestCreateMatchAfterCompleted() {
	matchID := suite.pendingMatch(suite.p1)
	_, err := suite.store.UpdateMatch(suite.ctx, matchID, func(match *store.Match) error {
		match.Status = store.MatchStatusCompleted
		return nil
	})
	suite.Require().NoError(err, "update should not fail")
	_, err = suite.engine.CreateMatch(suite.ctx, suite.p1)
	suite.NoError(err, "should allow new match when others are completed")
}

func (suite *EngineTestSuite) TestListPendingMatches() {
	m1 := suite.pendingMatch(suite.p1, suite.p2)
	suite.ongoingMatch(suite.p3, store.User{ID: "puss", Username: "Puss"})
	entries, err := suite.engine.ListPendingMatches(suite.ctx)
	suite.Require().NoError(err, "should not fail")
	suite.Require().Len(entries, 1, "should list only pending matches")
	suite.EqualValues(m1, entries[0].ID, "should list correct match")
	suite.Len(entries[0].Players, 2, "should include roster")
}

func (suite *EngineTestSuite) TestListActiveMatchesFor() {
	matchID := suite.pendingMatch(suite.p1, suite.p2)
	got, err := suite.engine.ListActiveMatchesFor(suite.ctx, suite.p2.ID)
	suite.Require().NoError(err, "should not fail")
	suite.Equal([]store.MatchID{matchID}, got, "should list active match")
	got, err = suite.engine.ListActiveMatchesFor(suite.ctx, suite.p3.ID)
	suite.Require().NoError(err, "should not fail")
	suite.Empty(got, "should list nothing for other users")
}

func (suite *EngineTestSuite) TestGetMatchNotFound() {
	_, err := suite.engine.GetMatch(suite.ctx, "swamp")
	suite.True(errors.HasCode(err, errors.ErrNotFound), "should fail for malformed id")
	_, err = suite.engine.GetMatch(suite.ctx, "8c5bbde2-8d3a-4c4b-9b5c-6a1a4f0c1e11")
	suite.True(errors.HasCode(err, errors.ErrNotFound), "should fail for unknown id")
}

func (suite *EngineTestSuite) TestJoinMatch() {
	matchID := suite.pendingMatch(suite.p1)
	view, err := suite.engine.JoinMatch(suite.ctx, suite.p2, matchID)
	suite.Require().NoError(err, "should not fail")
	suite.Require().Len(view.Players, 2, "should have both players")
	suite.Equal(string(suite.p1.ID), view.Players[0].ID, "should keep creator first")
	suite.Equal(string(suite.p2.ID), view.Players[1].ID, "should append joined player")
}

func (suite *EngineTestSuite) TestJoinMatchNotFound() {
	_, err := suite.engine.JoinMatch(suite.ctx, suite.p2, "8c5bbde2-8d3a-4c4b-9b5c-6a1a4f0c1e11")
	suite.True(errors.HasCode(err, errors.ErrNotFound), "should fail with correct code")
}

func (suite *EngineTestSuite) TestJoinMatchNotPending() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.JoinMatch(suite.ctx, suite.p3, matchID)
	suite.True(errors.HasCode(err, errors.ErrInvalidState), "should fail with correct code")
}

func (suite *EngineTestSuite) TestJoinMatchTwice() {
	matchID := suite.pendingMatch(suite.p1, suite.p2)
	view, err := suite.engine.JoinMatch(suite.ctx, suite.p2, matchID)
	suite.Require().NoError(err, "should be a no-op")
	suite.Len(view.Players, 2, "should not add player twice")
	suite.Len(suite.storedMatch(matchID).Players, 2, "should not persist duplicate")
}

func (suite *EngineTestSuite) TestJoinMatchAlreadyActiveElsewhere() {
	m1 := suite.pendingMatch(suite.p1)
	suite.pendingMatch(suite.p2)
	_, err := suite.engine.JoinMatch(suite.ctx, suite.p2, m1)
	suite.Require().Error(err, "should fail")
	suite.True(errors.HasCode(err, errors.ErrConflict), "should fail with correct code")
	suite.Len(suite.storedMatch(m1).Players, 1, "should not add player")
}

func (suite *EngineTestSuite) TestLeaveMatchNotParticipant() {
	matchID := suite.pendingMatch(suite.p1)
	_, err := suite.engine.LeaveMatch(suite.ctx, suite.p2, matchID)
	suite.True(errors.HasCode(err, errors.ErrForbidden), "should fail with correct code")
}

func (suite *EngineTestSuite) TestLeaveMatch() {
	matchID := suite.pendingMatch(suite.p1, suite.p2)
	view, err := suite.engine.LeaveMatch(suite.ctx, suite.p1, matchID)
	suite.Require().NoError(err, "should not fail")
	suite.Require().NotNil(view, "should return match")
	suite.Require().Len(view.Players, 1, "should remove player")
	suite.Equal(string(suite.p2.ID), view.Players[0].ID, "should keep other player")
}

func (suite *EngineTestSuite) TestLeaveMatchLastPlayerDeletes() {
	matchID := suite.pendingMatch(suite.p1)
	view, err := suite.engine.LeaveMatch(suite.ctx, suite.p1, matchID)
	suite.Require().NoError(err, "should not fail")
	suite.Nil(view, "should return no match")
	_, err = suite.engine.GetMatch(suite.ctx, matchID)
	suite.True(errors.HasCode(err, errors.ErrNotFound), "get should fail")
	_, err = suite.engine.JoinMatch(suite.ctx, suite.p2, matchID)
	suite.True(errors.HasCode(err, errors.ErrNotFound), "join should fail")
}

func (suite *EngineTestSuite) TestLeaveOngoingMatch() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2, suite.p3)
	// Shrek finds A.
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 1)
	suite.Require().NoError(err, "flip should not fail")
	view, err := suite.engine.LeaveMatch(suite.ctx, suite.p2, matchID)
	suite.Require().NoError(err, "leave should not fail")
	suite.Require().NotNil(view, "should return match")
	suite.EqualValues(store.MatchStatusOngoing, view.Status, "should keep status")
	suite.Equal([]int{1, 0}, view.Scores, "should remove score of leaving player")
	suite.Equal(string(suite.p1.ID), view.Players[view.CurrentTurn%len(view.Players)].ID,
		"should keep active player")
}

func (suite *EngineTestSuite) TestStartMatchNotEnoughPlayers() {
	matchID := suite.pendingMatch(suite.p1)
	_, err := suite.engine.StartMatch(suite.ctx, suite.p1, matchID)
	suite.Require().Error(err, "should fail")
	suite.True(errors.HasCode(err, errors.ErrBadRequest), "should fail with correct code")
	match := suite.storedMatch(matchID)
	suite.Equal(store.MatchStatusPending, match.Status, "should stay pending")
	suite.Equal([]store.User{suite.p1}, match.Players, "should keep roster")
	suite.Empty(match.Cards, "should not deal cards")
}

func (suite *EngineTestSuite) TestStartMatchNotParticipant() {
	matchID := suite.pendingMatch(suite.p1, suite.p2)
	_, err := suite.engine.StartMatch(suite.ctx, suite.p3, matchID)
	suite.True(errors.HasCode(err, errors.ErrForbidden), "should fail with correct code")
}

func (suite *EngineTestSuite) TestStartMatchNotPending() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.StartMatch(suite.ctx, suite.p1, matchID)
	suite.True(errors.HasCode(err, errors.ErrInvalidState), "should fail with correct code")
}

func (suite *EngineTestSuite) TestStartMatchNotFound() {
	_, err := suite.engine.StartMatch(suite.ctx, suite.p1, "8c5bbde2-8d3a-4c4b-9b5c-6a1a4f0c1e11")
	suite.True(errors.HasCode(err, errors.ErrNotFound), "should fail with correct code")
}

func (suite *EngineTestSuite) TestStartMatchDealsFullLayout() {
	g, err := deck.NewGenerator(deck.DefaultValues, rand.NewSource(7))
	suite.Require().NoError(err, "create generator should not fail")
	suite.engine = NewEngine(zap.NewNop(), suite.store, g, Config{})
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	match := suite.storedMatch(matchID)
	suite.Equal(store.MatchStatusOngoing, match.Status, "should be ongoing")
	suite.Require().Len(match.Cards, deck.Size, "should deal full layout")
	counts := make(map[string]int)
	for i, card := range match.Cards {
		suite.Equal(i, card.Order, "should assign order by position")
		suite.False(card.Matched, "should not be matched")
		counts[card.Value]++
	}
	suite.Len(counts, deck.PairCount, "should have correct number of distinct values")
	for value, count := range counts {
		suite.Equalf(2, count, "value %q should occur twice", value)
	}
	suite.Equal([]int{0, 0}, match.Scores, "should initialize scores")
}

func (suite *EngineTestSuite) TestFlipMatchingPair() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	view, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "first flip should not fail")
	suite.Require().NotNil(view.Card1Flip, "should record first flip")
	suite.Equal(0, *view.Card1Flip, "should record correct position")
	view, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 1)
	suite.Require().NoError(err, "second flip should not fail")
	suite.Equal([]int{1, 0}, view.Scores, "should increment score")
	suite.Equal(0, view.CurrentTurn, "should not advance turn")
	suite.Nil(view.Card1Flip, "should clear first flip")
	suite.Nil(view.Card2Flip, "should clear second flip")
	suite.True(view.Map[0].Matched, "should mark first card")
	suite.True(view.Map[1].Matched, "should mark second card")
}

func (suite *EngineTestSuite) TestFlipMismatchAndTick() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "first flip should not fail")
	view, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 2)
	suite.Require().NoError(err, "second flip should not fail")
	suite.True(view.BothFlipsSet(), "should leave both flips visible")
	suite.Equal("A", view.Map[0].Value, "should reveal first card")
	suite.Equal("B", view.Map[2].Value, "should reveal second card")
	suite.Equal(0, view.CurrentTurn, "should not advance turn before tick")

	view, err = suite.engine.TickTurn(suite.ctx, matchID)
	suite.Require().NoError(err, "tick should not fail")
	suite.Equal(1, view.CurrentTurn, "should advance turn")
	suite.Nil(view.Card1Flip, "should clear first flip")
	suite.Nil(view.Card2Flip, "should clear second flip")
	suite.Empty(view.Map[0].Value, "should hide first card again")
}

// TestFlipOnions flips a pair at positions five and nine in a full layout.
func (suite *EngineTestSuite) TestFlipOnions() {
	suite.dealer = layoutWithPair(5, 9, "onions")
	suite.newEngine()
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 5)
	suite.Require().NoError(err, "first flip should not fail")
	view, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 9)
	suite.Require().NoError(err, "second flip should not fail")
	suite.True(view.Map[5].Matched, "should mark card 5")
	suite.True(view.Map[9].Matched, "should mark card 9")
	suite.Equal([]int{1, 0}, view.Scores, "should increment score")
	suite.Equal(0, view.CurrentTurn, "should keep turn")
	suite.Nil(view.Card1Flip, "should clear first flip")
	suite.Nil(view.Card2Flip, "should clear second flip")
	suite.EqualValues(store.MatchStatusOngoing, view.Status, "should still be ongoing")
}

func (suite *EngineTestSuite) TestFlipNotYourTurn() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	before := suite.storedMatch(matchID)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p2, matchID, 0)
	suite.Require().Error(err, "should fail")
	suite.True(errors.HasCode(err, errors.ErrForbidden), "should fail with correct code")
	suite.True(errors.HasKind(err, errors.KindNotYourTurn), "should fail with correct kind")
	suite.Equal(before, suite.storedMatch(matchID), "should leave state unchanged")
}

func (suite *EngineTestSuite) TestFlipNotParticipant() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p3, matchID, 0)
	suite.True(errors.HasKind(err, errors.KindNotParticipant), "should fail with correct kind")
}

func (suite *EngineTestSuite) TestFlipNotOngoing() {
	matchID := suite.pendingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.True(errors.HasCode(err, errors.ErrInvalidState), "should fail with correct code")
}

func (suite *EngineTestSuite) TestFlipInvalidPosition() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	for _, position := range []int{-1, 30, 4} {
		_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, position)
		suite.Truef(errors.HasCode(err, errors.ErrBadRequest), "position %d should fail with correct code", position)
	}
}

func (suite *EngineTestSuite) TestFlipInvalidPositionBeforeLookup() {
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, "8c5bbde2-8d3a-4c4b-9b5c-6a1a4f0c1e11", 30)
	suite.True(errors.HasCode(err, errors.ErrBadRequest), "should validate position first")
}

func (suite *EngineTestSuite) TestFlipSamePositionTwice() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "first flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.True(errors.HasKind(err, errors.KindCardAlreadyFlipped), "should fail with correct kind")
}

func (suite *EngineTestSuite) TestFlipMatchedCard() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 1)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 1)
	suite.True(errors.HasCode(err, errors.ErrConflict), "should fail with correct code")
	suite.True(errors.HasKind(err, errors.KindCardAlreadyMatched), "should fail with correct kind")
}

func (suite *EngineTestSuite) TestFlipWhileTickPending() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 2)
	suite.Require().NoError(err, "flip should not fail")
	before := suite.storedMatch(matchID)
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 3)
	suite.True(errors.HasKind(err, errors.KindTickPending), "should fail with correct kind")
	suite.Equal(before, suite.storedMatch(matchID), "should leave state unchanged")
}

func (suite *EngineTestSuite) TestFlipCompletesMatch() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	for _, position := range []int{0, 1, 2} {
		_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, position)
		suite.Require().NoError(err, "flip should not fail")
	}
	view, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 3)
	suite.Require().NoError(err, "final flip should not fail")
	suite.EqualValues(store.MatchStatusCompleted, view.Status, "should complete")
	suite.Require().NotNil(view.WinnerID, "should set winner")
	suite.Equal(string(suite.p1.ID), *view.WinnerID, "should set correct winner")
	for _, card := range view.Map {
		suite.True(card.Matched, "all cards should be matched")
	}
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.True(errors.HasCode(err, errors.ErrInvalidState), "flip after completion should fail")
	_, err = suite.engine.CreateMatch(suite.ctx, suite.p1)
	suite.NoError(err, "should allow new match after completion")
}

func (suite *EngineTestSuite) TestSecondPlayerWins() {
	suite.dealer = fixedDealer{"A", "B", "A", "B"}
	suite.newEngine()
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 1)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.TickTurnFor(suite.ctx, matchID, 0)
	suite.Require().NoError(err, "tick should not fail")
	for _, position := range []int{0, 2, 1, 3} {
		_, err = suite.engine.FlipCard(suite.ctx, suite.p2, matchID, position)
		suite.Require().NoError(err, "flip should not fail")
	}
	match := suite.storedMatch(matchID)
	suite.Equal(store.MatchStatusCompleted, match.Status, "should complete")
	suite.Equal([]int{0, 2}, match.Scores, "should have correct scores")
	suite.Equal(nulls.NewString(string(suite.p2.ID)), match.WinnerID, "should set correct winner")
}

func (suite *EngineTestSuite) TestLeaveCompletedMatchKeepsRecord() {
	suite.dealer = fixedDealer{"A", "B", "A", "B"}
	suite.newEngine()
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 1)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.TickTurnFor(suite.ctx, matchID, 0)
	suite.Require().NoError(err, "tick should not fail")
	for _, position := range []int{0, 2, 1, 3} {
		_, err = suite.engine.FlipCard(suite.ctx, suite.p2, matchID, position)
		suite.Require().NoError(err, "flip should not fail")
	}
	before := suite.storedMatch(matchID)
	suite.Require().Equal(store.MatchStatusCompleted, before.Status, "should complete")

	view, err := suite.engine.LeaveMatch(suite.ctx, suite.p2, matchID)
	suite.Require().NoError(err, "leave should not fail")
	suite.Require().NotNil(view, "should return match")
	suite.Require().NotNil(view.WinnerID, "should keep winner in view")
	suite.Equal(string(suite.p2.ID), *view.WinnerID, "should keep winner in view")
	after := suite.storedMatch(matchID)
	suite.Equal(before.Players, after.Players, "should keep roster")
	suite.Equal(before.Scores, after.Scores, "should keep scores")
	suite.Equal(before.WinnerID, after.WinnerID, "should keep winner")
	suite.True(after.HasPlayer(store.UserID(after.WinnerID.String)), "winner should still be a participant")
}

func (suite *EngineTestSuite) TestTickNothingToTick() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.TickTurn(suite.ctx, matchID)
	suite.True(errors.HasCode(err, errors.ErrInvalidState), "should fail with correct code")
}

func (suite *EngineTestSuite) TestTickNotOngoing() {
	matchID := suite.pendingMatch(suite.p1, suite.p2)
	_, err := suite.engine.TickTurn(suite.ctx, matchID)
	suite.True(errors.HasCode(err, errors.ErrInvalidState), "should fail with correct code")
}

func (suite *EngineTestSuite) TestTickStaleTurn() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 2)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.TickTurnFor(suite.ctx, matchID, 3)
	suite.True(errors.HasCode(err, errors.ErrInvalidState), "should fail with correct code")
	suite.True(suite.storedMatch(matchID).Card2Flip.Valid, "should leave flips untouched")
}

func (suite *EngineTestSuite) TestTickDeletedMatch() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	_, err := suite.engine.LeaveMatch(suite.ctx, suite.p1, matchID)
	suite.Require().NoError(err, "leave should not fail")
	_, err = suite.engine.LeaveMatch(suite.ctx, suite.p2, matchID)
	suite.Require().NoError(err, "leave should not fail")
	_, err = suite.engine.TickTurnFor(suite.ctx, matchID, 0)
	suite.True(errors.HasCode(err, errors.ErrNotFound), "should fail with correct code")
}

func (suite *EngineTestSuite) TestListAwaitingTick() {
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	suite.ongoingMatch(suite.p3, store.User{ID: "puss", Username: "Puss"})
	_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 0)
	suite.Require().NoError(err, "flip should not fail")
	_, err = suite.engine.FlipCard(suite.ctx, suite.p1, matchID, 2)
	suite.Require().NoError(err, "flip should not fail")
	awaiting, err := suite.engine.ListAwaitingTick(suite.ctx)
	suite.Require().NoError(err, "should not fail")
	suite.Require().Len(awaiting, 1, "should list only matches with visible pair")
	suite.EqualValues(matchID, awaiting[0].ID, "should list correct match")
}

func (suite *EngineTestSuite) TestConcurrentFlips() {
	suite.dealer = layoutWithPair(0, 29, "onions")
	suite.newEngine()
	matchID := suite.ongoingMatch(suite.p1, suite.p2)
	// Even positions 2..26 all carry distinct values.
	var succeeded atomic.Int32
	var conflicts atomic.Int32
	var wg sync.WaitGroup
	for position := 2; position <= 26; position += 2 {
		position := position
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.engine.FlipCard(suite.ctx, suite.p1, matchID, position)
			if err == nil {
				succeeded.Inc()
			} else if errors.HasKind(err, errors.KindTickPending) {
				conflicts.Inc()
			}
		}()
	}
	wg.Wait()
	suite.EqualValues(2, succeeded.Load(), "exactly two flips should succeed")
	suite.EqualValues(11, conflicts.Load(), "all other flips should conflict")
	match := suite.storedMatch(matchID)
	suite.True(match.Card1Flip.Valid && match.Card2Flip.Valid, "should have both flips set")
	suite.NotEqual(match.Card1Flip.Int, match.Card2Flip.Int, "flips should differ")
}

func (suite *EngineTestSuite) TestConcurrentJoinsSameUser() {
	matchIDs := make([]store.MatchID, 0)
	for i := 0; i < 8; i++ {
		matchIDs = append(matchIDs, suite.pendingMatch(store.User{
			ID:       store.UserID(fmt.Sprintf("creator-%d", i)),
			Username: "creator",
		}))
	}
	var succeeded atomic.Int32
	var wg sync.WaitGroup
	for _, matchID := range matchIDs {
		matchID := matchID
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.engine.JoinMatch(suite.ctx, suite.p1, matchID)
			if err == nil {
				succeeded.Inc()
			}
		}()
	}
	wg.Wait()
	suite.EqualValues(1, succeeded.Load(), "exactly one join should succeed")
	active, err := suite.engine.ListActiveMatchesFor(suite.ctx, suite.p1.ID)
	suite.Require().NoError(err, "list should not fail")
	suite.Len(active, 1, "should be active in only one match")
}

func (suite *EngineTestSuite) TestConcurrentCreatesSameUser() {
	var succeeded atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.engine.CreateMatch(suite.ctx, suite.p1)
			if err == nil {
				succeeded.Inc()
			}
		}()
	}
	wg.Wait()
	suite.EqualValues(1, succeeded.Load(), "exactly one create should succeed")
}

func (suite *EngineTestSuite) TestConcurrentJoinsSameMatch() {
	matchID := suite.pendingMatch(suite.p1)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := store.User{ID: store.UserID(fmt.Sprintf("ogre-%d", i)), Username: "Ogre"}
			_, err := suite.engine.JoinMatch(suite.ctx, user, matchID)
			assert.NoError(suite.T(), err, "join should not fail")
		}()
	}
	wg.Wait()
	suite.Len(suite.storedMatch(matchID).Players, 17, "should contain all players")
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestRemovePlayer(t *testing.T) {
	users := func(n int) []store.User {
		u := make([]store.User, 0, n)
		for i := 0; i < n; i++ {
			u = append(u, store.User{ID: store.UserID(fmt.Sprintf("p%d", i))})
		}
		return u
	}
	tests := []struct {
		name        string
		currentTurn int
		card1       nulls.Int
		card2       nulls.Int
		leave       int
		wantTurn    int
		wantActive  store.UserID
		wantFlips   bool
		wantScores  []int
	}{
		{
			name:        "before active",
			currentTurn: 4,
			leave:       0,
			wantTurn:    4,
			wantActive:  "p1",
			wantScores:  []int{1, 2},
		},
		{
			name:        "after active",
			currentTurn: 3,
			card1:       nulls.NewInt(2),
			leave:       2,
			wantTurn:    4,
			wantActive:  "p0",
			wantFlips:   true,
			wantScores:  []int{0, 1},
		},
		{
			name:        "active with pending tick",
			currentTurn: 1,
			card1:       nulls.NewInt(2),
			card2:       nulls.NewInt(3),
			leave:       1,
			wantTurn:    3,
			wantActive:  "p2",
			wantScores:  []int{0, 2},
		},
		{
			name:        "last active wraps",
			currentTurn: 2,
			card1:       nulls.NewInt(2),
			leave:       2,
			wantTurn:    2,
			wantActive:  "p0",
			wantScores:  []int{0, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := store.Match{
				Status:      store.MatchStatusOngoing,
				Players:     users(3),
				Scores:      []int{0, 1, 2},
				CurrentTurn: tt.currentTurn,
				Card1Flip:   tt.card1,
				Card2Flip:   tt.card2,
			}
			removePlayer(&match, tt.leave)
			assert.Len(t, match.Players, 2, "should remove player")
			assert.Equal(t, tt.wantScores, match.Scores, "should remove score")
			assert.Equal(t, tt.wantTurn, match.CurrentTurn, "should set correct turn")
			assert.Equal(t, tt.wantActive, match.Players[match.CurrentTurn%2].ID, "should set correct active player")
			assert.Equal(t, tt.wantFlips, match.Card1Flip.Valid, "should handle flips correctly")
			assert.False(t, match.Card2Flip.Valid, "should not keep second flip")
		})
	}
}

func TestWinnerIndex(t *testing.T) {
	assert.Equal(t, 0, winnerIndex([]int{3, 3, 1}), "should pick first on tie")
	assert.Equal(t, 2, winnerIndex([]int{1, 3, 4}), "should pick maximum")
	assert.Equal(t, 1, winnerIndex([]int{1, 5, 5}), "should pick first maximum")
}
