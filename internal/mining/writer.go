package mining

import (
	"context"
	"time"

	"github.com/bardlex/promine/internal/chain"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
)

// appendRequest asks the chain writer to link one discovery
type appendRequest struct {
	ctx        context.Context
	discovery  *models.Discovery
	minerID    string
	difficulty int
	at         time.Time
	reply      chan appendResult
}

type appendResult struct {
	block *models.Block
	err   error
}

// chainWriter is the only goroutine that reads the chain tip and appends to
// it, so concurrent completions always link to distinct parents.
type chainWriter struct {
	store   Store
	logger  *log.Logger
	queue   chan *appendRequest
	done    chan struct{}
	stopped chan struct{}
}

func newChainWriter(store Store, logger *log.Logger) *chainWriter {
	return &chainWriter{
		store:   store,
		logger:  logger.WithComponent("chain_writer"),
		queue:   make(chan *appendRequest, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (w *chainWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case req := <-w.queue:
			b, err := w.link(req)
			req.reply <- appendResult{block: b, err: err}
		}
	}
}

func (w *chainWriter) link(req *appendRequest) (*models.Block, error) {
	prev, err := w.store.GetLatestBlock(req.ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChain, "append_block", "failed to read chain tip")
	}

	b := chain.Next(prev, []*models.Discovery{req.discovery}, req.minerID, req.difficulty, req.at)
	if err := w.store.CreateBlock(req.ctx, b); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChain, "append_block", "failed to store block").
			WithContext("block_index", b.Index)
	}
	return b, nil
}

// append links d as the next block and returns it
func (w *chainWriter) append(ctx context.Context, d *models.Discovery, minerID string, difficulty int, at time.Time) (*models.Block, error) {
	req := &appendRequest{
		ctx:        ctx,
		discovery:  d,
		minerID:    minerID,
		difficulty: difficulty,
		at:         at,
		reply:      make(chan appendResult, 1),
	}

	select {
	case w.queue <- req:
	case <-w.done:
		return nil, errors.New(errors.ErrorTypeLifecycle, "append_block", "chain writer stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.block, res.err
	case <-w.stopped:
		select {
		case res := <-req.reply:
			return res.block, res.err
		default:
			return nil, errors.New(errors.ErrorTypeLifecycle, "append_block", "chain writer stopped")
		}
	}
}

func (w *chainWriter) stop() {
	close(w.done)
	<-w.stopped
}
