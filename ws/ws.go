package ws

import (
	"context"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lefinal/flipmatch/client"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
	"net/http"
)

// Authenticator verifies the identity of a connecting user.
type Authenticator interface {
	// Authenticate returns the verified store.User for the given request or
	// fails with errors.ErrUnauthorized.
	Authenticate(r *http.Request) (store.User, error)
}

// HandleWS handles websocket requests. Requests that do not carry a valid
// identity are rejected with http.StatusUnauthorized before upgrading. The
// passed context is used in order to stop all remaining read-pumps.
func HandleWS(ctx context.Context, logger *zap.Logger, hub *Hub, authenticator Authenticator) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := authenticator.Authenticate(r)
		if err != nil {
			errors.Log(logger, errors.Wrap(err, "authenticate websocket connection",
				errors.Details{"remote_addr": r.RemoteAddr}))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader already replied with an error.
			logger.Debug("upgrade connection", zap.Error(err))
			return
		}
		clientID := uuid.New().String()
		c := &Client{
			Client: &client.Client{
				ID:      clientID,
				User:    user,
				Send:    make(chan []byte, 256),
				Receive: make(chan []byte, 256),
			},
			logger:     logger.With(zap.String("client_id", clientID)),
			hub:        hub,
			connection: conn,
		}
		// Use the client's hub so that the reference from the handler can be dropped.
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case c.hub.register <- c:
		}
		// Power the pumps.
		go c.writePump()
		go c.readPump(ctx)
	}
}
