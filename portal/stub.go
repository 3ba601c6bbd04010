package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/flipmatch/event"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// Stub is a Portal for tests. Subscribe and Publish call mock.Mock.
type Stub struct {
	mock.Mock
	// Log is returned by Logger. A nop logger is used if not set.
	Log *zap.Logger
}

func (s *Stub) Subscribe(ctx context.Context, topic Topic) *Newsletter[any] {
	return s.Called(ctx, topic).Get(0).(*Newsletter[any])
}

func (s *Stub) Publish(ctx context.Context, topic Topic, payload interface{}) {
	s.Called(ctx, topic, payload)
}

func (s *Stub) Logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// StubNewsletter returns a Newsletter without messages that closes its receive
// channel when the context is done or it is unsubscribed.
func StubNewsletter(ctx context.Context) *Newsletter[any] {
	return ForwardingStubNewsletter(ctx, nil)
}

// ForwardingStubNewsletter returns a Newsletter that delivers the events from
// forward like the broker would: each payload is marshalled into the raw
// publish payload. The receive channel is closed when the context is done, the
// Newsletter is unsubscribed or forward is closed.
func ForwardingStubNewsletter(ctx context.Context, forward <-chan event.Event[any]) *Newsletter[any] {
	lifetime, cancel := context.WithCancel(ctx)
	receive := make(chan event.Event[any])
	go func() {
		defer close(receive)
		for {
			var e event.Event[any]
			var more bool
			select {
			case <-lifetime.Done():
				return
			case e, more = <-forward:
			}
			if !more {
				return
			}
			raw, err := json.Marshal(e.Payload)
			if err != nil {
				panic(fmt.Sprintf("marshal stub payload: %v", err))
			}
			delivered := event.Event[any]{Publish: &paho.Publish{Payload: raw}}
			if e.Publish != nil {
				delivered.Publish.Topic = e.Publish.Topic
			}
			select {
			case <-lifetime.Done():
				return
			case receive <- delivered:
			}
		}
	}()
	return &Newsletter[any]{
		unregisterFn: cancel,
		Receive:      receive,
	}
}
