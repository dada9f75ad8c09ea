package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the NATS notice bridge.
type NATSConfig struct {
	URL           string
	SubjectPrefix string // e.g. "joyopi.notices"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns defaults matching a local nats-server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "joyopi.notices",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every notice as JSON on <prefix>.<feature>.<kind>, so a
// desktop bridge or another device can surface it.
type NATSSink struct {
	pub    Publisher
	prefix string
	closer func()
}

// NewNATSSink connects to NATS.
func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("joyopi-session"),
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

	sink := NewPublisherSink(nc, cfg.SubjectPrefix)
	sink.closer = nc.Close
	return sink, nil
}

// NewPublisherSink wraps an existing publisher.
func NewPublisherSink(pub Publisher, prefix string) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix}
}

// Subject returns the subject a notice is published on.
func (s *NATSSink) Subject(n Notice) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, n.Feature, n.Kind)
}

// Notify implements Sink. Publish failures are logged and dropped.
func (s *NATSSink) Notify(n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal notice")
		return
	}
	if err := s.pub.Publish(s.Subject(n), data); err != nil {
		log.Warn().
			Err(err).
			Str("kind", string(n.Kind)).
			Msg("failed to publish notice")
	}
}

// Close releases the NATS connection, if the sink owns one.
func (s *NATSSink) Close() {
	if s.closer != nil {
		s.closer()
	}
}
