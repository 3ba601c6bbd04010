package games

import (
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/store"
)

// View converts the given store.Match into its player-safe representation.
// Values of cards that are neither matched nor currently flipped are hidden.
func View(match store.Match) messages.MessageMatch {
	view := messages.MessageMatch{
		ID:          messages.MatchID(match.ID),
		Players:     players(match.Players),
		Status:      messages.MatchStatus(match.Status),
		Map:         make([]messages.Card, 0, len(match.Cards)),
		Scores:      make([]int, len(match.Scores)),
		CurrentTurn: match.CurrentTurn,
	}
	copy(view.Scores, match.Scores)
	if match.WinnerID.Valid {
		winnerID := match.WinnerID.String
		view.WinnerID = &winnerID
	}
	if match.Card1Flip.Valid {
		pos := match.Card1Flip.Int
		view.Card1Flip = &pos
	}
	if match.Card2Flip.Valid {
		pos := match.Card2Flip.Int
		view.Card2Flip = &pos
	}
	for i, card := range match.Cards {
		c := messages.Card{
			Order:   card.Order,
			Matched: card.Matched,
		}
		if card.Matched || isFlipped(match, i) {
			c.Value = card.Value
		}
		view.Map = append(view.Map, c)
	}
	return view
}

// ListEntry converts the given store.Match into a messages.MatchListEntry.
func ListEntry(match store.Match) messages.MatchListEntry {
	return messages.MatchListEntry{
		ID:      messages.MatchID(match.ID),
		Players: players(match.Players),
	}
}

func players(users []store.User) []messages.Player {
	players := make([]messages.Player, 0, len(users))
	for _, user := range users {
		players = append(players, messages.Player{
			ID:       string(user.ID),
			Username: user.Username,
		})
	}
	return players
}

func isFlipped(match store.Match, pos int) bool {
	return (match.Card1Flip.Valid && match.Card1Flip.Int == pos) ||
		(match.Card2Flip.Valid && match.Card2Flip.Int == pos)
}
