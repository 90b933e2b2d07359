package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Bus is the transport a Channel publishes and subscribes through. Delivery
// is best-effort with no acknowledgment; subscribers on the publishing
// connection receive their own publishes.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
}

// Subscription is one active subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// NATSConfig holds connection settings for the NATS bus.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the default NATS bus configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBus is a Bus over a core NATS connection. Core NATS (not JetStream) is
// deliberate: no persistence and no acks, favoring latency; the persistent
// store remains the eventual arbiter. Echo is left on so the publisher's own
// subscription observes its publishes.
type NATSBus struct {
	nc *nats.Conn
}

// NewNATSBus connects to NATS with reconnect handling.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains the underlying connection.
func (b *NATSBus) Close() {
	b.nc.Close()
}

// MemoryBus is an in-process Bus for tests and single-process deployments.
// It mirrors the delivery semantics of the NATS bus: fan-out to every
// subscriber on the subject, self-delivery included, no ordering guarantee
// across subjects.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]struct{}
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	handler func(data []byte)
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.subject], s)
	if len(s.bus.subs[s.subject]) == 0 {
		delete(s.bus.subs, s.subject)
	}
	return nil
}

func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	targets := make([]*memorySub, 0, len(b.subs[subject]))
	for s := range b.subs[subject] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.handler(data)
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	s := &memorySub{bus: b, subject: subject, handler: handler}
	b.mu.Lock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}
