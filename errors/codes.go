package errors

type Code string

const (
	// ErrBadRequest is used for malformed input like an out-of-range card
	// position.
	ErrBadRequest Code = "bad-request"
	// ErrCommunication is used for transport faults.
	ErrCommunication Code = "communication"
	// ErrConflict is used for uniqueness violations like an already active match
	// or an already matched card.
	ErrConflict Code = "conflict"
	ErrFatal    Code = "fatal"
	// ErrForbidden is used when the caller is not allowed to perform an action,
	// for example when it is not their turn.
	ErrForbidden Code = "forbidden"
	// ErrInternal is used for persistence and other internal failures.
	ErrInternal Code = "internal"
	// ErrInvalidState is used for operations that are not legal in the current
	// match status.
	ErrInvalidState      Code = "invalid-state"
	ErrNotFound          Code = "not-found"
	ErrProtocolViolation Code = "protocol-violation"
	// ErrUnauthorized is used when identity verification failed.
	ErrUnauthorized Code = "unauthorized"
	ErrUnexpected   Code = "unexpected"
)

type Kind string

const (
	// KindAlreadyInMatch is used when a user wants to create or join a match
	// although already participating in another active one.
	KindAlreadyInMatch Kind = "already-in-match"
	// KindCardAlreadyMatched is used when a matched card is flipped.
	KindCardAlreadyMatched Kind = "card-already-matched"
	// KindCardAlreadyFlipped is used when the same position is flipped twice
	// within one turn.
	KindCardAlreadyFlipped Kind = "card-already-flipped"
	KindContextAborted     Kind = "context-aborted"
	KindDB                 Kind = "db"
	KindDBRollback         Kind = "db-rollback"
	KindDecodeJSON         Kind = "decode-json"
	KindEncodeJSON         Kind = "encode-json"
	// KindInvalidCardValues is used for a card value pool that cannot produce a
	// layout.
	KindInvalidCardValues Kind = "invalid-card-values"
	// KindInvalidPosition is used for card positions outside the board.
	KindInvalidPosition Kind = "invalid-position"
	// KindInvalidToken is used when an identity token could not be verified.
	KindInvalidToken Kind = "invalid-token"
	// KindMalformedID is used when a passed ID is not in uuid.UUID format.
	KindMalformedID Kind = "malformed-id"
	// KindMatchNotOngoing is used for gameplay operations on matches that are not
	// running.
	KindMatchNotOngoing Kind = "match-not-ongoing"
	// KindMatchNotPending is used for roster and start operations on matches that
	// already started.
	KindMatchNotPending Kind = "match-not-pending"
	// KindMissingToken is used when a connection presents no identity token.
	KindMissingToken Kind = "missing-token"
	// KindNotEnoughPlayers is used when a match is started with fewer than two
	// players.
	KindNotEnoughPlayers Kind = "not-enough-players"
	// KindNotParticipant is used when a user acts on a match they have not joined.
	KindNotParticipant Kind = "not-participant"
	// KindNotYourTurn is used when a participant flips outside their turn.
	KindNotYourTurn Kind = "not-your-turn"
	// KindNothingToTick is used when a tick fires although no mismatched pair is
	// visible.
	KindNothingToTick    Kind = "nothing-to-tick"
	KindResourceNotFound Kind = "resource-not-found"
	KindShouldNotHappen  Kind = "should-not-happen"
	// KindTickPending is used when a third card is flipped while a mismatched pair
	// still waits for its tick.
	KindTickPending Kind = "tick-pending"
	// KindTimeout is used when the persistence layer did not answer in time.
	KindTimeout Kind = "timeout"
	// KindUnknown is used for different unknown type values that are too special
	// for creating separate error kinds.
	KindUnknown Kind = "unknown"
	// KindUnknownMessageType is used when a message with an unknown type is
	// received.
	KindUnknownMessageType Kind = "unknown-message-type"
)
