package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcdev12/tabletop/go/internal/catalog"
	"github.com/mcdev12/tabletop/go/internal/config"
	"github.com/mcdev12/tabletop/go/internal/gridmeta"
	"github.com/mcdev12/tabletop/go/internal/relay"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	catalogs, err := config.LoadCatalogs(cfg.CatalogConfig, cfg.MapsDir, cfg.ArtworkDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load catalogs")
	}

	// Grid metadata lives next to the grid-mapped catalog's images
	gridDir := cfg.MapsDir
	for _, c := range catalogs {
		if c.GridMetadata {
			gridDir = c.Dir
		}
	}
	grids := gridmeta.NewStoreInDir(gridDir)

	var (
		publisher relay.Publisher = relay.NopPublisher{}
		broker    relay.BrokerConn
	)
	if cfg.NATSURL != "" {
		natsConfig := relay.DefaultNATSPublisherConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.SubjectPrefix = cfg.NATSSubjectPrefix

		natsPublisher, err := relay.NewNATSPublisher(natsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect session publisher")
		}
		defer func() {
			if err := natsPublisher.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close session publisher")
			}
		}()
		publisher = natsPublisher
		broker = natsPublisher
	}

	relayConfig := relay.DefaultConfig()
	relayConfig.ConnectionConfig.MaxMessageSize = cfg.MaxMessageBytes
	service := relay.NewService(relayConfig, grids, publisher)

	log.Info().
		Int("port", cfg.Port).
		Str("grid_metadata", grids.Path()).
		Bool("nats", cfg.NATSURL != "").
		Bool("debug", cfg.Debug).
		Msg("starting tabletop relay")

	health := relay.NewHealthChecker(service.Hub(), grids, broker)
	server := setupServer(cfg.Port, service, catalogs, grids, health)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return service.Start(gctx)
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("relay stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("tabletop relay shutdown complete")
}

func setupServer(port int, service *relay.Service, catalogs []config.Catalog, grids *gridmeta.Store, health http.Handler) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Register websocket and session routes
	service.RegisterRoutes(mux)

	// Register asset catalogs
	for _, cat := range catalogs {
		catalog.NewHandler(cat, grids).RegisterRoutes(mux)
	}

	mux.Handle("GET /health", health)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
