// Package main implements minerd, the promine mining node.
// It runs the mining manager and autonomous producers behind the HTTP API.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/promine/internal/api"
	"github.com/bardlex/promine/internal/config"
	"github.com/bardlex/promine/internal/database"
	"github.com/bardlex/promine/internal/database/memory"
	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/hybrid"
	"github.com/bardlex/promine/internal/messaging"
	"github.com/bardlex/promine/internal/mining"
	"github.com/bardlex/promine/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting minerd",
		"version", cfg.Version,
		"storage", cfg.StorageBackend,
		"hybrid", cfg.UseHybrid,
		"autonomous", cfg.AutonomousMining,
	)

	n, err := newNode(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize node")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- n.start(ctx)
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("node failed")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := n.shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("minerd stopped")
}

// chainStore is everything the node needs from a store
type chainStore interface {
	mining.Store
	api.Store
}

// node owns every long-lived component of a mining node
type node struct {
	cfg    *config.Config
	logger *log.Logger

	store   chainStore
	db      *database.Manager // nil for the memory backend
	kafka   *messaging.KafkaClient
	zmq     *messaging.ZMQPublisher
	hub     *api.Hub
	router  *hybrid.Router
	miner   *mining.Manager
	roster  *config.RosterLoader
	limiter api.Limiter
	server  *http.Server
}

// newNode opens the store and publishers and assembles the mining stack
func newNode(cfg *config.Config, logger *log.Logger) (*node, error) {
	enc, err := messaging.ParseEncoding(cfg.EventEncoding)
	if err != nil {
		return nil, err
	}

	n := &node{
		cfg:    cfg,
		logger: logger,
		hub:    api.NewHub(logger),
		roster: config.NewRosterLoader(cfg.RosterFile),
	}

	if err := n.openStore(); err != nil {
		return nil, err
	}

	publishers := messaging.Fanout{n.hub}
	if len(cfg.KafkaBrokers) > 0 {
		n.kafka = messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
		publishers = append(publishers, messaging.NewKafkaPublisher(n.kafka, enc))
	}
	if cfg.ZMQPubAddr != "" {
		n.zmq, err = messaging.NewZMQPublisher(cfg.ZMQPubAddr, enc, logger)
		if err != nil {
			_ = n.closeAll()
			return nil, err
		}
		publishers = append(publishers, n.zmq)
	}

	sim := engine.NewSimulated(cfg.SimMaxLatency, cfg.SimSeed)
	n.router = hybrid.NewRouter(engine.NewReal(), sim, logger)

	var computer engine.Computer = sim
	if cfg.UseHybrid {
		computer = n.router
	}
	var verifier mining.Verifier
	if cfg.PeerVerify {
		verifier = n.router
	}

	mcfg := mining.DefaultConfig()
	mcfg.PeerVerify = cfg.PeerVerify
	mcfg.MetricsInterval = cfg.MetricsInterval
	mcfg.HealthInterval = cfg.HealthInterval
	mcfg.HealthMinActive = cfg.HealthMinActive
	mcfg.Seed = cfg.SimSeed
	n.miner = mining.NewManager(mcfg, n.store, computer, verifier, publishers, logger)

	if n.db != nil && n.db.Redis != nil {
		n.limiter = n.db
	} else {
		n.limiter = api.NewWindowLimiter(time.Minute)
	}

	srv := api.NewServer(api.Config{
		SubmitRateLimit: int64(cfg.SubmitRateLimit),
		Version:         cfg.Version,
	}, n.store, n.miner, n.router, n.hub, n.limiter, logger)

	n.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return n, nil
}

func (n *node) openStore() error {
	if n.cfg.StorageBackend == config.StorageMemory {
		n.store = memory.New()
		n.logger.Warn("using in-memory store, the chain will not survive a restart")
		return nil
	}

	db, err := database.NewManager(database.ConfigFromService(n.cfg), n.logger)
	if err != nil {
		return err
	}
	n.db = db
	n.store = db
	n.logger.Info("connected to store", "store", db.String())
	return nil
}

// start runs the node until ctx is done or the HTTP server fails
func (n *node) start(ctx context.Context) error {
	if n.db != nil {
		n.db.StartPeriodicTasks(ctx)
	}
	if wl, ok := n.limiter.(*api.WindowLimiter); ok {
		wl.StartCleanup(ctx, time.Minute)
	}

	if n.cfg.AutonomousMining {
		roster, err := n.roster.Load()
		if err != nil {
			return err
		}
		n.roster.OnChange(func(r *config.Roster) {
			n.logger.Info("roster changed, restarting producers", "producers", len(r.Producers))
			if err := n.miner.ReloadRoster(ctx, r); err != nil {
				n.logger.WithError(err).Error("failed to reload roster")
			}
		})
		if err := n.roster.Watch(); err != nil {
			return err
		}
		go n.watchRosterErrors(ctx)

		if err := n.miner.StartAutonomous(ctx, roster); err != nil {
			return err
		}
		n.logger.Info("autonomous mining started", "producers", len(roster.Producers))
	} else {
		n.miner.StartMonitors(ctx)
	}

	ln, err := net.Listen("tcp", n.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.server.Addr, err)
	}
	n.logger.Info("http server listening", "addr", ln.Addr().String())

	if err := n.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (n *node) watchRosterErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-n.roster.Errors():
			n.logger.WithError(err).Warn("roster watch error, keeping current producers")
		}
	}
}

// shutdown stops accepting requests, drains in-flight mining and closes
// every connection
func (n *node) shutdown(ctx context.Context) error {
	n.logger.Info("shutting down node")

	var errs []error
	n.hub.Close()
	if err := n.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := n.miner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mining manager: %w", err))
	}
	if err := n.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

func (n *node) closeAll() error {
	var errs []error
	if err := n.roster.Close(); err != nil {
		errs = append(errs, fmt.Errorf("roster watcher: %w", err))
	}
	if n.zmq != nil {
		if err := n.zmq.Close(); err != nil {
			errs = append(errs, fmt.Errorf("zmq publisher: %w", err))
		}
	}
	if n.kafka != nil {
		if err := n.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka client: %w", err))
		}
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return stderrors.Join(errs...)
}
