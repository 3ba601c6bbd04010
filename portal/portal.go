// Package portal provides topic based publish and subscribe via an MQTT broker.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/event"
	"go.uber.org/zap"
	"net/url"
	"sync"
	"time"
)

// DefaultClientID is the MQTT client id to use if none is configured.
const DefaultClientID = "flipmatch-server"

const mqttKeepAlive = 8

const mqttQOS = 0

// kioskTimeout is the timeout for subscribe and unsubscribe requests to the
// broker.
const kioskTimeout = 3 * time.Second

// Topic is an MQTT topic.
type Topic string

// Config is the config for the Base.
type Config struct {
	// MQTTAddr is the address where the MQTT-server is found.
	MQTTAddr string
	// ClientID is the id to connect with. If not set, DefaultClientID is used.
	ClientID string
}

// Newsletter is used with Portal.Subscribe in order to subscribe to topics.
type Newsletter[payloadT any] struct {
	unregisterFn func()
	// Receive receives when a new message for the subscribed topic was received.
	// When the Newsletter is unsubscribed, the Receive-channel will be closed.
	Receive <-chan event.Event[payloadT]
}

func (sub *Newsletter[payload]) Unsubscribe() {
	sub.unregisterFn()
}

// publisher is used for publishing MQTT events.
type publisher interface {
	Publish(ctx context.Context, publish *paho.Publish) (*paho.PublishResponse, error)
}

// Base is a wrapper for all connection related stuff for a Portal. Using the
// Base, you only need to Open the Base and then use portals via NewPortal.
type Base interface {
	// Open the connection. Stays opened until the given context.Context is done.
	Open(ctx context.Context) error
	// NewPortal creates a new Portal that uses the connection from the Base.
	NewPortal(name string) Portal
}

type basePortal struct {
	logger *zap.Logger
	config Config
	// brokerURL is the URL of the MQTT broker.
	brokerURL *url.URL
	// mqttRouter is the paho.Router used for the connection.
	mqttRouter *paho.StandardRouter
	// router is responsible for registering subscription requests as well as
	// multiplexing and forwarding messages.
	router *router
	// conn is the current connection. It is nil until the connection to the
	// broker was established.
	conn *autopaho.ConnectionManager
	// connMutex locks conn.
	connMutex sync.RWMutex
}

type Portal interface {
	// Subscribe returns a Newsletter for the given Topic.
	Subscribe(ctx context.Context, topic Topic) *Newsletter[any]
	// Publish the given payload to the Topic. It will catch any errors during
	// publishing and log them using the Logger.
	Publish(ctx context.Context, topic Topic, payload interface{})
	// Logger is needed in order to provide error logging for Subscribe as generic
	// methods are not supported.
	Logger() *zap.Logger
}

// NewBase creates a Base with the given Config. Open it with Base.Open.
// Portals may be created before opening.
func NewBase(logger *zap.Logger, config Config) (Base, error) {
	// Parse URL.
	brokerURL, err := url.Parse(config.MQTTAddr)
	if err != nil {
		return nil, errors.NewInternalErrorFromErr(err, "invalid mqtt addr", errors.Details{"was": config.MQTTAddr})
	}
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}
	mqttRouter := paho.NewStandardRouter()
	return &basePortal{
		logger:     logger,
		config:     config,
		brokerURL:  brokerURL,
		mqttRouter: mqttRouter,
		router:     newRouter(logger.Named("router"), mqttRouter),
	}, nil
}

// Open the base portal and keep the connection to the MQTT server until the
// given context.Context is done.
func (p *basePortal) Open(ctx context.Context) error {
	// Establish MQTT connection.
	conn, err := autopaho.NewConnection(ctx, p.genClientConfig(ctx))
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "create mqtt server connection failed", nil)
	}
	p.connMutex.Lock()
	p.conn = conn
	p.connMutex.Unlock()
	// Wait until we are done.
	<-ctx.Done()
	p.router.setKiosk(ctx, nil)
	// Shutdown MQTT connection.
	disconnectTimeout, cancelDisconnectTimeout := context.WithTimeout(context.Background(), 3*time.Second)
	err = conn.Disconnect(disconnectTimeout)
	cancelDisconnectTimeout()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "disconnect from mqtt server failed", nil)
	}
	return nil
}

// Publish the given paho.Publish using the current connection.
func (p *basePortal) Publish(ctx context.Context, publish *paho.Publish) (*paho.PublishResponse, error) {
	p.connMutex.RLock()
	conn := p.conn
	p.connMutex.RUnlock()
	if conn == nil {
		return nil, errors.Error{
			Code:    errors.ErrCommunication,
			Kind:    errors.KindUnknown,
			Message: "mqtt server connection not established",
		}
	}
	return conn.Publish(ctx, publish)
}

// genClientConfig generates the autopaho.ClientConfig that is ready to launch.
// Subscriptions are renewed each time the connection is up.
func (p *basePortal) genClientConfig(ctx context.Context) autopaho.ClientConfig {
	return autopaho.ClientConfig{
		BrokerUrls: []*url.URL{p.brokerURL},
		KeepAlive:  mqttKeepAlive,
		OnConnectionUp: func(conn *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt server connection established")
			p.router.setKiosk(ctx, conn)
		},
		OnConnectError: func(err error) {
			errors.Log(p.logger, errors.Error{
				Code:    errors.ErrCommunication,
				Err:     err,
				Message: "mqtt server connection failed",
			})
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.config.ClientID,
			Router:   p.mqttRouter,
			OnServerDisconnect: func(disconnect *paho.Disconnect) {
				reason := fmt.Sprintf("%d", disconnect.ReasonCode)
				if disconnect.Properties != nil {
					reason = disconnect.Properties.ReasonString
				}
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Message: fmt.Sprintf("mqtt server requested disconnect: %s", reason),
				})
			},
			OnClientError: func(err error) {
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Err:     err,
					Message: "mqtt server connection client error",
				})
			},
		},
	}
}

// NewPortal creates a new Portal that can be used to subscribe to topics and
// events.
func (p *basePortal) NewPortal(name string) Portal {
	return &portal{
		logger:    p.logger.Named(name),
		router:    p.router,
		publisher: p,
	}
}

// portal is the Portal implementation returned by basePortal.NewPortal.
type portal struct {
	logger    *zap.Logger
	router    *router
	publisher publisher
}

// Subscribe to the given Topic. The returned Newsletter forwards all received
// messages until it is unsubscribed or the given context.Context is done.
func (p *portal) Subscribe(ctx context.Context, topic Topic) *Newsletter[any] {
	lifetime, cancel := context.WithCancel(ctx)
	forward := make(chan event.Event[any])
	receive := make(chan event.Event[any])
	p.router.subscribe(lifetime, topic, forward)
	go func() {
		defer close(receive)
		for {
			select {
			case <-lifetime.Done():
				return
			case e := <-forward:
				select {
				case <-lifetime.Done():
					return
				case receive <- e:
				}
			}
		}
	}()
	return &Newsletter[any]{
		unregisterFn: cancel,
		Receive:      receive,
	}
}

// Publish the given payload as JSON to the Topic. Failures are logged.
func (p *portal) Publish(ctx context.Context, topic Topic, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		errors.Log(p.logger, errors.NewJSONError(err, "marshal payload", false))
		return
	}
	_, err = p.publisher.Publish(ctx, &paho.Publish{
		QoS:     mqttQOS,
		Topic:   string(topic),
		Payload: raw,
	})
	if err != nil {
		errors.Log(p.logger, errors.Wrap(err, "publish", errors.Details{"topic": topic}))
		return
	}
}

// Logger returns the logger of the portal.
func (p *portal) Logger() *zap.Logger {
	return p.logger
}

// Subscribe to the given Portal for the Topic. The returned Newsletter contains
// an already unmarshalled payload. Messages that fail to unmarshal, are
// dropped. However, the error is logged to Portal.Logger.
func Subscribe[payloadT any](ctx context.Context, portal Portal, topic Topic) *Newsletter[payloadT] {
	rawSub := portal.Subscribe(ctx, topic)
	receiveParsed := make(chan event.Event[payloadT])
	go func() {
		defer close(receiveParsed)
		for e := range rawSub.Receive {
			// Parse payload.
			var payload payloadT
			if len(e.Publish.Payload) > 0 {
				err := json.Unmarshal(e.Publish.Payload, &payload)
				if err != nil {
					errors.Log(portal.Logger(), errors.NewInternalErrorFromErr(err, "parse payload failed", errors.Details{
						"topic":   e.Publish.Topic,
						"payload": string(e.Publish.Payload),
					}))
					continue
				}
			}
			// Forward
			select {
			case <-ctx.Done():
				return
			case receiveParsed <- event.Event[payloadT]{
				Publish: e.Publish,
				Payload: payload,
			}:
			}
		}
	}()
	return &Newsletter[payloadT]{
		unregisterFn: rawSub.unregisterFn,
		Receive:      receiveParsed,
	}
}
