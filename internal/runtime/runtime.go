package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ambiware-labs/verba/internal/bus"
	"github.com/ambiware-labs/verba/internal/config"
	"github.com/ambiware-labs/verba/internal/eventstore"
	"github.com/ambiware-labs/verba/internal/natsserver"
	"github.com/ambiware-labs/verba/internal/tts"
	"github.com/ambiware-labs/verba/internal/tts/worker"
)

// Runtime assembles the daemon: embedded bus, event store, speech service
// and the HTTP health/metrics surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.Shutdown

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	var speechService *tts.Service
	var pool *worker.Pool
	if r.cfg.Speech.Enabled {
		var synth tts.Synthesizer
		switch r.cfg.Speech.Mode {
		case "worker":
			pool = worker.NewPool(r.cfg.Speech.Worker, r.logger)
			defer pool.Shutdown()
			synth = tts.NewWorkerSynth(r.cfg.Speech, pool, r.logger)
		default:
			synth = tts.NewMockSynth(r.cfg.Speech)
		}
		speechService = tts.NewService(ctx, r.cfg.Speech, busClient, synth, store, r.logger)
		if err := speechService.Start(); err != nil {
			return fmt.Errorf("failed to start speech service: %w", err)
		}
		defer speechService.Close()

		if r.cfg.Speech.WarmupOnStart {
			if err := speechService.Warmup(ctx, r.cfg.Speech.WarmupText != ""); err != nil {
				r.logger.Warn("speech warmup failed", slog.String("error", err.Error()))
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if tel.metricsHandler != nil {
		mux.Handle("/metrics", tel.metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
