package messages

// Inbound message types sent by clients.
const (
	// MessageTypeJoin is received with MessageMatchAction for joining a pending
	// match.
	MessageTypeJoin MessageType = "join"
	// MessageTypeLeave is received with MessageMatchAction for leaving a match.
	MessageTypeLeave MessageType = "leave"
	// MessageTypeStart is received with MessageMatchAction for starting a pending
	// match.
	MessageTypeStart MessageType = "start"
	// MessageTypeFlip is received with MessageMatchAction and a set position for
	// flipping a card.
	MessageTypeFlip MessageType = "flip"
)

// Outbound message types sent to clients.
const (
	// MessageTypeJoinedMatch is sent with MessageMatch to the client that joined a
	// match.
	MessageTypeJoinedMatch MessageType = "joinedMatch"
	// MessageTypePlayerJoined is sent with MessageMatch to the other clients in
	// the room when a player joined.
	MessageTypePlayerJoined MessageType = "playerJoined"
	// MessageTypeLeftMatch is sent without content to the client that left a
	// match.
	MessageTypeLeftMatch MessageType = "leftMatch"
	// MessageTypePlayerLeft is sent with MessageMatch to the room when a player
	// left.
	MessageTypePlayerLeft MessageType = "playerLeft"
	// MessageTypeMatchStarted is sent with MessageMatch to the room when the
	// match was started.
	MessageTypeMatchStarted MessageType = "matchStarted"
	// MessageTypeCardFlipped is sent with MessageMatch to the room after each
	// successful flip.
	MessageTypeCardFlipped MessageType = "cardFlipped"
	// MessageTypeTurnTicked is sent with MessageMatch to the room after a
	// mismatched pair was hidden again and the turn advanced.
	MessageTypeTurnTicked MessageType = "turnTicked"
	// MessageTypeMatchCompleted is published to the match feed with MessageMatch
	// when all cards were matched.
	MessageTypeMatchCompleted MessageType = "matchCompleted"
)

// MatchID identifies a match.
type MatchID string

// MatchStatus is the lifecycle status of a match.
type MatchStatus string

// MessageMatchAction is used with MessageTypeJoin, MessageTypeLeave,
// MessageTypeStart and MessageTypeFlip.
type MessageMatchAction struct {
	// MatchID is the id of the targeted match.
	MatchID MatchID `json:"match_id"`
	// Position is the card position for MessageTypeFlip.
	Position *int `json:"position,omitempty"`
}

// Player is the player-safe representation of a user.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Card is one card on the board. Value is omitted for cards that are neither
// matched nor currently flipped.
type Card struct {
	Order   int    `json:"order"`
	Value   string `json:"value,omitempty"`
	Matched bool   `json:"matched"`
}

// MessageMatch is the player-safe view of a match. It is used with all
// outbound match messages except MessageTypeLeftMatch.
type MessageMatch struct {
	ID          MatchID     `json:"id"`
	Players     []Player    `json:"players"`
	WinnerID    *string     `json:"winnerId"`
	Status      MatchStatus `json:"status"`
	Map         []Card      `json:"map"`
	Scores      []int       `json:"scores"`
	CurrentTurn int         `json:"currentTurn"`
	Card1Flip   *int        `json:"card1Flip"`
	Card2Flip   *int        `json:"card2Flip"`
}

// BothFlipsSet checks whether a mismatched pair is currently visible.
func (m MessageMatch) BothFlipsSet() bool {
	return m.Card1Flip != nil && m.Card2Flip != nil
}

// MatchListEntry is an entry for listing pending matches.
type MatchListEntry struct {
	ID      MatchID  `json:"id"`
	Players []Player `json:"players"`
}
