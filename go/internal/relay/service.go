package relay

import (
	"context"
	"net/http"

	"github.com/mcdev12/tabletop/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Service is the relay service: the hub plus its websocket transport
type Service struct {
	hub       *Hub
	wsHandler *WebSocketHandler
}

// Config holds configuration for the relay service
type Config struct {
	ConnectionConfig ConnectionConfig
	SendBufferSize   int
}

// DefaultConfig returns default configuration for the relay
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		SendBufferSize:   256,
	}
}

// NewService creates a relay service with a fresh default session. grids
// may be nil, in which case grid settings are never persisted.
func NewService(config Config, grids GridStore, publisher Publisher) *Service {
	hub := NewHub(HubConfig{
		Store:          session.NewStore(),
		Grids:          grids,
		Publisher:      publisher,
		SendBufferSize: config.SendBufferSize,
	})

	return &Service{
		hub:       hub,
		wsHandler: NewWebSocketHandler(hub, config.ConnectionConfig),
	}
}

// Hub returns the service's hub
func (s *Service) Hub() *Hub {
	return s.hub
}

// Start runs the hub's dispatch loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting relay service")
	s.hub.Run(ctx)
	log.Info().Msg("relay service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("relay routes registered")
}
