package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ambiware-labs/verba/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps a NATS server instance so a single verbad process can
// run without any external broker.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

const startupWait = 5 * time.Second

// Start creates and starts an embedded NATS server when embedded mode is on.
// Returns nil without error when an external broker is configured instead.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}

	ns, err := server.NewServer(&server.Options{
		Host: "0.0.0.0",
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(startupWait) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", startupWait)
	}

	log.Info("embedded NATS server started", slog.Int("port", cfg.Port))
	return &EmbeddedServer{ns: ns, log: log}, nil
}

// Shutdown gracefully shuts down the embedded NATS server.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
