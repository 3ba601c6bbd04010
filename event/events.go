// Package event provides the payloads of events that are published to or
// received from the MQTT broker.
package event

import (
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/flipmatch/messages"
	"time"
)

// Event is a received MQTT message with its parsed payload.
type Event[T any] struct {
	Publish *paho.Publish
	Payload T
}

// EmptyEvent is used for events without payload like report requests.
type EmptyEvent struct{}

// MatchEvent is published for match lifecycle changes like a started or
// completed match.
type MatchEvent struct {
	// Event is the message type that caused the event.
	Event messages.MessageType `json:"event"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Match is the player-safe view after the change.
	Match messages.MessageMatch `json:"match"`
}

// PendingMatchesEvent is published as answer to a report request and lists all
// joinable matches.
type PendingMatchesEvent struct {
	Matches []messages.MatchListEntry `json:"matches"`
}

// NextLogEntryEvent is used to publish log entries.
type NextLogEntryEvent struct {
	// Time is the timestamp the log entry was created.
	Time time.Time `json:"time"`
	// Message is the log entry message.
	Message string `json:"message"`
	// Level is the log level of the entry.
	Level string `json:"level"`
	// LoggerName is the name of the logger.
	LoggerName string `json:"logger_name"`
	// Fields are the set fields for the log entry.
	Fields map[string]interface{} `json:"fields"`
}
