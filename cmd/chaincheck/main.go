// Package main implements chaincheck, which audits the stored knowledge chain.
// It walks every block from genesis and reports the first broken link.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/bardlex/promine/internal/chain"
	"github.com/bardlex/promine/internal/config"
	"github.com/bardlex/promine/internal/database"
	"github.com/bardlex/promine/pkg/log"
)

func main() {
	os.Exit(run())
}

// run returns 0 for a valid chain, 1 for a broken one and 2 when the audit
// could not complete
func run() int {
	pageSize := flag.Int("page-size", 500, "blocks read per query")
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the audit after this long")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}
	if cfg.StorageBackend == config.StorageMemory {
		fmt.Fprintln(os.Stderr, "chaincheck needs a durable STORAGE_BACKEND (postgres or sqlite)")
		return 2
	}

	logger := log.New("chaincheck", cfg.Version, cfg.LogLevel, cfg.LogFormat)

	// Only the SQL store is needed to read the chain
	dbCfg := database.ConfigFromService(cfg)
	dbCfg.Redis = nil
	dbCfg.Influx = nil
	db, err := database.NewManager(dbCfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open store")
		return 2
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	r, err := audit(ctx, db, *pageSize, logger)
	if err != nil {
		logger.WithError(err).Error("chain audit failed")
		return 2
	}
	if err := writeReport(os.Stdout, r); err != nil {
		logger.WithError(err).Error("failed to write report")
		return 2
	}
	if !r.Valid {
		return 1
	}
	return 0
}

// report is the audit outcome printed to stdout
type report struct {
	Valid    bool    `json:"valid"`
	Length   int64   `json:"length"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"durationSeconds"`
}

// audit verifies the chain. A broken link yields an invalid report; a
// failure to read the chain is returned as an error.
func audit(ctx context.Context, src chain.BlockSource, pageSize int, logger *log.Logger) (*report, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	start := time.Now()
	length, err := chain.Audit(ctx, src, pageSize)
	elapsed := time.Since(start)
	logger.LogDuration("chain_audit", elapsed)

	r := &report{Valid: err == nil, Length: length, Duration: elapsed.Seconds()}
	if err != nil {
		if !chain.IsBrokenLink(err) {
			return nil, err
		}
		r.Error = err.Error()
		logger.WithError(err).Warn("chain is broken", "valid_length", length)
	}
	return r, nil
}

func writeReport(w io.Writer, r *report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
