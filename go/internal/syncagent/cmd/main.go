package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcdev12/tabletop/go/internal/config"
	"github.com/mcdev12/tabletop/go/internal/protocol"
	"github.com/mcdev12/tabletop/go/internal/session"
	"github.com/mcdev12/tabletop/go/internal/syncagent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// A headless client: joins the session with the configured role and logs
// what it mirrors. Useful for watching a live session from a terminal.
func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	role := session.Role(cfg.Role)
	if !role.Valid() {
		log.Fatal().Str("role", cfg.Role).Msg("TABLETOP_ROLE must be dm or table")
	}

	url, err := syncagent.ResolveEndpoint(cfg.URL, cfg.Origin, cfg.Port)
	if err != nil && !errors.Is(err, syncagent.ErrNoEndpoint) {
		log.Fatal().Err(err).Msg("invalid relay endpoint")
	}

	agent := syncagent.New(syncagent.Config{
		URL:  url,
		Role: role,
		OnSession: func(s session.State) {
			log.Info().
				Str("map", s.Map.Filename).
				Float64("grid_size", s.Grid.Size).
				Bool("locked", s.Locked).
				Bool("artwork", s.Artwork != nil).
				Msg("session updated")
		},
		OnLost: func(lost bool) {
			if lost {
				log.Warn().Msg("connection lost")
			} else {
				log.Info().Msg("connection restored")
			}
		},
		OnPeer: func(m protocol.Message) {
			if cc, ok := m.(protocol.ClientConnected); ok {
				log.Info().Str("role", string(cc.Role)).Msg("peer connected")
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		log.Error().Err(err).Str("status", string(agent.Status())).Msg("sync agent stopped")
		os.Exit(1)
	}
}
