package store

import (
	"context"
	"github.com/google/uuid"
	"github.com/lefinal/flipmatch/errors"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory store for matches and users. It is used when no
// database is configured. All returned values are copies.
type Memory struct {
	matches map[MatchID]Match
	users   map[UserID]User
	// m locks matches and users.
	m sync.Mutex
}

// NewMemory creates a new empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		matches: make(map[MatchID]Match),
		users:   make(map[UserID]User),
	}
}

// PutUser adds or replaces the given User.
func (mem *Memory) PutUser(user User) {
	mem.m.Lock()
	defer mem.m.Unlock()
	mem.users[user.ID] = user
}

// UserByID retrieves the User with the given id.
func (mem *Memory) UserByID(ctx context.Context, userID UserID) (User, error) {
	if ctx.Err() != nil {
		return User{}, errors.NewContextAbortedError("retrieve user")
	}
	mem.m.Lock()
	defer mem.m.Unlock()
	user, ok := mem.users[userID]
	if !ok {
		return User{}, errors.NewResourceNotFoundError("user not found", errors.Details{"user_id": userID})
	}
	return user, nil
}

// MatchByID retrieves the Match with the given id.
func (mem *Memory) MatchByID(ctx context.Context, matchID MatchID) (Match, error) {
	if ctx.Err() != nil {
		return Match{}, errors.NewContextAbortedError("retrieve match")
	}
	mem.m.Lock()
	defer mem.m.Unlock()
	match, ok := mem.matches[matchID]
	if !ok {
		return Match{}, matchNotFoundError(matchID)
	}
	return match.Copy(), nil
}

// CreateMatch creates a new pending Match with the given initial players.
func (mem *Memory) CreateMatch(ctx context.Context, initialPlayers []User) (Match, error) {
	if ctx.Err() != nil {
		return Match{}, errors.NewContextAbortedError("create match")
	}
	match := Match{
		ID:      MatchID(uuid.New().String()),
		Status:  MatchStatusPending,
		Players: make([]User, len(initialPlayers)),
		Created: time.Now(),
	}
	copy(match.Players, initialPlayers)
	mem.m.Lock()
	defer mem.m.Unlock()
	mem.matches[match.ID] = match
	return match.Copy(), nil
}

// UpdateMatch applies the given MatchMutation to the Match with the given id.
// The mutation works on a copy, so a failed mutation leaves the stored Match
// untouched.
func (mem *Memory) UpdateMatch(ctx context.Context, matchID MatchID, mutate MatchMutation) (Match, error) {
	if ctx.Err() != nil {
		return Match{}, errors.NewContextAbortedError("update match")
	}
	mem.m.Lock()
	defer mem.m.Unlock()
	match, ok := mem.matches[matchID]
	if !ok {
		return Match{}, matchNotFoundError(matchID)
	}
	updated := match.Copy()
	err := mutate(&updated)
	if err != nil {
		return Match{}, err
	}
	updated.ID = matchID
	mem.matches[matchID] = updated
	return updated.Copy(), nil
}

// DeleteMatch deletes the Match with the given id.
func (mem *Memory) DeleteMatch(ctx context.Context, matchID MatchID) error {
	if ctx.Err() != nil {
		return errors.NewContextAbortedError("delete match")
	}
	mem.m.Lock()
	defer mem.m.Unlock()
	if _, ok := mem.matches[matchID]; !ok {
		return matchNotFoundError(matchID)
	}
	delete(mem.matches, matchID)
	return nil
}

// Matches lists all matches accepted by the given MatchFilter ordered by
// creation time.
func (mem *Memory) Matches(ctx context.Context, filter MatchFilter) ([]Match, error) {
	if ctx.Err() != nil {
		return nil, errors.NewContextAbortedError("list matches")
	}
	mem.m.Lock()
	defer mem.m.Unlock()
	matches := make([]Match, 0)
	for _, match := range mem.matches {
		if filter.Accepts(match) {
			matches = append(matches, match.Copy())
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Created.Equal(matches[j].Created) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Created.Before(matches[j].Created)
	})
	return matches, nil
}

func matchNotFoundError(matchID MatchID) error {
	return errors.NewResourceNotFoundError("match not found", errors.Details{"match_id": matchID})
}
