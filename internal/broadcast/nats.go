package broadcast

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "roomchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATSGateway implements Gateway on top of a NATS connection. Payloads are
// serialized as JSON; topic names map directly onto NATS subjects.
type NATSGateway struct {
	conn *nats.Conn
}

// NewNATSGateway connects to NATS with the given config and returns a ready
// gateway. It returns an error if the initial connection fails.
func NewNATSGateway(config NATSConfig) (*NATSGateway, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[broadcast] disconnected: %v", err)
			} else {
				log.Printf("[broadcast] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[broadcast] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[broadcast] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("broadcast: nats connect: %w", err)
	}

	log.Printf("[broadcast] connected to %s", nc.ConnectedUrl())
	return &NATSGateway{conn: nc}, nil
}

// Broadcast publishes payload to every subscriber of topic.
func (g *NATSGateway) Broadcast(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broadcast: marshal for %s: %w", topic, err)
	}
	if err := g.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("broadcast: publish to %s: %w", topic, err)
	}
	return nil
}

// DeliverToUser publishes payload to the user's private error queue.
func (g *NATSGateway) DeliverToUser(username string, payload interface{}) error {
	return g.Broadcast(UserErrorQueue(username), payload)
}

// Subscribe registers a handler for an inbound subject. The action edge in
// cmd/chatd uses this to consume client actions published by the transport
// collaborator.
func (g *NATSGateway) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	sub, err := g.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains the connection, flushing pending publishes.
func (g *NATSGateway) Close() {
	if err := g.conn.Drain(); err != nil {
		log.Printf("[broadcast] connection drain: %v", err)
	}
	log.Printf("[broadcast] gateway closed")
}
