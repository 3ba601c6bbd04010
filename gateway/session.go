package gateway

import (
	"github.com/lefinal/flipmatch/client"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
	"sync"
)

// session binds a client.Client to its verified user for the lifetime of the
// connection. It is passed to every handler for this connection.
type session struct {
	logger *zap.Logger
	client *client.Client
	// closed is set when the connection is gone. client.Client.Send must not be
	// used afterwards.
	closed bool
	// gone is closed together with setting closed.
	gone chan struct{}
	// done is closed when the session stopped handling messages.
	done chan struct{}
	// m locks closed and sending.
	m sync.Mutex
}

func newSession(logger *zap.Logger, c *client.Client) *session {
	return &session{
		logger: logger.With(zap.String("client_id", c.ID), zap.Any("user_id", c.User.ID)),
		client: c,
		gone:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *session) user() store.User {
	return s.client.User
}

// sendRaw queues the given raw message without blocking. Messages for closed
// sessions or full send buffers are dropped.
func (s *session) sendRaw(raw []byte) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return
	}
	select {
	case s.client.Send <- raw:
	default:
		s.logger.Warn("dropping outgoing message due to full send buffer")
	}
}

// send encodes and queues a message with the given type and content.
func (s *session) send(messageType messages.MessageType, content interface{}) {
	raw, err := messages.Encode(messageType, content)
	if err != nil {
		s.logger.Error("encode outgoing message", zap.Error(err),
			zap.Any("message_type", messageType))
		return
	}
	s.sendRaw(raw)
}

// sendError reports the given error to this session only.
func (s *session) sendError(err error) {
	s.send(messages.MessageTypeError, messages.MessageErrorFromError(err))
}

// close marks the session as closed.
func (s *session) close() {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.gone)
}

func (s *session) isClosed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closed
}
