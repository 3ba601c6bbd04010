package client

import (
	"context"
	"github.com/lefinal/flipmatch/store"
)

// Client holds the connection of an authenticated user and is used by ws.Hub.
type Client struct {
	// ID is a temporary id assigned to the Client.
	ID string
	// User is the verified identity bound to the Client for its whole lifetime.
	User store.User
	// Send is the channel for outgoing messages. It is closed by the hub after
	// Listener.SayGoodbyeToClient returned.
	Send chan []byte
	// Receive is the channel for incoming messages. It is closed when the
	// connection is closed.
	Receive chan []byte
}

// Listener provides methods for accepting new clients and unregister events.
type Listener interface {
	// AcceptClient is called when a new Client connects.
	AcceptClient(ctx context.Context, client *Client)
	// SayGoodbyeToClient is called when a Client's connection has been closed.
	// It may be called before AcceptClient started for the same Client. After
	// it returns, Client.Send is closed, so no more messages must be sent.
	SayGoodbyeToClient(ctx context.Context, client *Client)
}
