package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/tabletop/go/internal/gridmeta"
	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy              bool     `json:"healthy"`
	HubRunning           bool     `json:"hub_running"`
	Clients              Stats    `json:"clients"`
	GridMetadataReadable bool     `json:"grid_metadata_readable"`
	NATSConnected        *bool    `json:"nats_connected,omitempty"`
	Errors               []string `json:"errors"`
}

// GridReader is satisfied by the grid metadata store
type GridReader interface {
	ReadAll(ctx context.Context) (gridmeta.Metadata, error)
}

// BrokerConn reports broker connectivity, see NATSPublisher
type BrokerConn interface {
	IsConnected() bool
}

// HealthChecker reports whether the relay can serve clients
type HealthChecker struct {
	hub    *Hub
	grids  GridReader
	broker BrokerConn
}

// NewHealthChecker creates a checker. grids and broker may be nil.
func NewHealthChecker(hub *Hub, grids GridReader, broker BrokerConn) *HealthChecker {
	return &HealthChecker{hub: hub, grids: grids, broker: broker}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:    true,
		HubRunning: h.hub.Running(),
		Clients:    h.hub.Stats(),
		Errors:     []string{},
	}

	if !status.HubRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "hub not running")
	}

	// A missing metadata file is fine; an unreadable one is not
	if h.grids != nil {
		if _, err := h.grids.ReadAll(ctx); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("grid metadata unreadable: %v", err))
		} else {
			status.GridMetadataReadable = true
		}
	}

	// Losing the broker degrades the event feed, not the relay itself
	if h.broker != nil {
		connected := h.broker.IsConnected()
		status.NATSConnected = &connected
		if !connected {
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
