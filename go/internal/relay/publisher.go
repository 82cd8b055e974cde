package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/tabletop/go/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher receives every message the hub broadcasts, for observers
// outside the websocket session (recorders, audit logs)
type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

// NopPublisher discards everything
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, protocol.Message) error { return nil }

// NATSPublisherConfig holds configuration for the NATS publisher
type NATSPublisherConfig struct {
	URL           string
	SubjectPrefix string // e.g. "tabletop.session"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSPublisherConfig returns default NATS publisher configuration
func DefaultNATSPublisherConfig() NATSPublisherConfig {
	return NATSPublisherConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "tabletop.session",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes each broadcast frame to <prefix>.<type>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(config NATSPublisherConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("tabletop-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
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

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject_prefix", config.SubjectPrefix).
		Msg("session events will be published to NATS")

	return &NATSPublisher{nc: nc, prefix: config.SubjectPrefix}, nil
}

// Subject returns the subject a message of type t is published on
func (p *NATSPublisher) Subject(t protocol.Type) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(msg.MessageType()), data); err != nil {
		return fmt.Errorf("publish %s: %w", msg.MessageType(), err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is currently up
func (p *NATSPublisher) IsConnected() bool {
	return p.nc.IsConnected()
}
