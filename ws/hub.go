package ws

import (
	"context"
	"github.com/lefinal/flipmatch/client"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Hub holds all active clients and manages centralized receiving and sending.
type Hub struct {
	logger *zap.Logger
	// clientListener is used for notifying of new clients or unregistered ones.
	clientListener client.Listener
	// clients holds all online clients.
	clients map[*Client]struct{}
	// clientCount mirrors the length of clients for reading outside of Run.
	clientCount atomic.Int32
	// register receives when a Client wants to register itself.
	register chan *Client
	// unregister receives when a Client wants to unregister itself.
	unregister chan *Client
}

// NewHub creates a new Hub. Start it with Hub.Run.
func NewHub(logger *zap.Logger, clientListener client.Listener) *Hub {
	return &Hub{
		logger:         logger,
		clientListener: clientListener,
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		clients:        make(map[*Client]struct{}),
	}
}

// Run starts the Hub. It blocks until the given context is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-h.register:
			// Register client.
			h.clients[c] = struct{}{}
			h.clientCount.Store(int32(len(h.clients)))
			h.logger.Info("client connected",
				zap.String("client_id", c.ID),
				zap.Any("user_id", c.User.ID))
			go h.clientListener.AcceptClient(ctx, c.Client)
		case c := <-h.unregister:
			// Unregister client.
			if _, ok := h.clients[c]; ok {
				h.clientListener.SayGoodbyeToClient(ctx, c.Client)
				delete(h.clients, c)
				h.clientCount.Store(int32(len(h.clients)))
				h.logger.Info("client disconnected",
					zap.String("client_id", c.ID),
					zap.Any("user_id", c.User.ID))
				// Close the send-channel which leads to stopping the write-pump.
				close(c.Send)
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}
