package store

import (
	"github.com/gobuffalo/nulls"
	"time"
)

// UserID identifies a User. It is assigned by the identity provider.
type UserID string

// MatchID identifies a Match. It is a UUID in string representation.
type MatchID string

// User is a verified user identity. It is referenced by matches but not owned.
type User struct {
	ID       UserID
	Username string
}

// MatchStatus is the lifecycle status of a Match. Transitions only move
// forward: MatchStatusPending -> MatchStatusOngoing -> MatchStatusCompleted.
type MatchStatus string

const (
	// MatchStatusPending is used while players may join or leave.
	MatchStatusPending MatchStatus = "pending"
	// MatchStatusOngoing is used while cards are being flipped.
	MatchStatusOngoing MatchStatus = "ongoing"
	// MatchStatusCompleted is used when all cards are matched.
	MatchStatusCompleted MatchStatus = "completed"
)

// Card is one card on the board of a Match.
type Card struct {
	// Order is the stable display position.
	Order int
	// Value is the symbol of the card.
	Value string
	// Matched is set when the pair of this card was found.
	Matched bool
}

// Match is the persisted record of a game instance.
type Match struct {
	ID     MatchID
	Status MatchStatus
	// Players in join order which defines turn rotation.
	Players []User
	// Cards ordered by Card.Order. Empty while pending.
	Cards []Card
	// Scores is index-aligned with Players. Empty while pending.
	Scores []int
	// CurrentTurn is the never-reset turn counter. The active player is
	// Players[CurrentTurn % len(Players)].
	CurrentTurn int
	// Card1Flip is the first flipped position in the current turn.
	Card1Flip nulls.Int
	// Card2Flip is the second flipped position in the current turn.
	Card2Flip nulls.Int
	// WinnerID is set when the match is completed.
	WinnerID nulls.String
	// Created is when the match was created.
	Created time.Time
}

// Copy returns a deep copy of the Match.
func (m Match) Copy() Match {
	c := m
	if m.Players != nil {
		c.Players = make([]User, len(m.Players))
		copy(c.Players, m.Players)
	}
	if m.Cards != nil {
		c.Cards = make([]Card, len(m.Cards))
		copy(c.Cards, m.Cards)
	}
	if m.Scores != nil {
		c.Scores = make([]int, len(m.Scores))
		copy(c.Scores, m.Scores)
	}
	return c
}

// PlayerIndex returns the index of the player with the given id in
// Match.Players or -1 if not participating.
func (m Match) PlayerIndex(userID UserID) int {
	for i, player := range m.Players {
		if player.ID == userID {
			return i
		}
	}
	return -1
}

// HasPlayer checks whether the user with the given id participates.
func (m Match) HasPlayer(userID UserID) bool {
	return m.PlayerIndex(userID) != -1
}

// MatchFilter is the predicate for listing matches. Unset fields match
// everything.
type MatchFilter struct {
	// Statuses restricts to matches with one of the given statuses.
	Statuses []MatchStatus
	// Participant restricts to matches the user with this id participates in.
	Participant nulls.String
}

// Accepts checks whether the given Match satisfies the filter.
func (f MatchFilter) Accepts(m Match) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if m.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Participant.Valid && !m.HasPlayer(UserID(f.Participant.String)) {
		return false
	}
	return true
}

// MatchMutation mutates the given Match in place. If it returns an error, the
// mutation is discarded.
type MatchMutation func(match *Match) error
