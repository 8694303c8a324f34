// Package memory provides an in-process chain store. It backs the default
// single-node configuration and the manager tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bardlex/promine/internal/models"
)

// Store keeps operations, discoveries, blocks and metrics snapshots in memory.
// It is safe for concurrent use; returned records are copies.
type Store struct {
	mu sync.RWMutex

	operations  map[int64]*models.Operation
	discoveries []*models.Discovery
	blocks      []*models.Block
	byIndex     map[int64]*models.Block
	metrics     []*models.NetworkMetrics

	nextOperationID int64
	nextBlockID     int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		operations: make(map[int64]*models.Operation),
		byIndex:    make(map[int64]*models.Block),
	}
}

// CreateOperation stores op and assigns its ID
func (s *Store) CreateOperation(_ context.Context, op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOperationID++
	op.ID = s.nextOperationID
	s.operations[op.ID] = op.Clone()
	return nil
}

// UpdateOperation records progress and state for an active operation
func (s *Store) UpdateOperation(_ context.Context, id int64, progress float64, state models.OperationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[id]
	if !ok {
		return models.ErrNotFound
	}
	op.Progress = progress
	op.CurrentResult = state.Clone()
	return nil
}

// CompleteOperation marks an operation completed
func (s *Store) CompleteOperation(_ context.Context, id int64, state models.OperationState) error {
	return s.finish(id, models.StatusCompleted, state)
}

// FailOperation marks an operation failed
func (s *Store) FailOperation(_ context.Context, id int64, state models.OperationState) error {
	return s.finish(id, models.StatusFailed, state)
}

func (s *Store) finish(id int64, status models.OperationStatus, state models.OperationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[id]
	if !ok {
		return models.ErrNotFound
	}
	op.Status = status
	op.Progress = models.ProgressDone
	op.CurrentResult = state.Clone()
	return nil
}

// GetOperation returns one operation by id
func (s *Store) GetOperation(_ context.Context, id int64) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return op.Clone(), nil
}

// GetActiveOperations returns active operations ordered by id
func (s *Store) GetActiveOperations(_ context.Context) ([]*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Operation
	for id := int64(1); id <= s.nextOperationID; id++ {
		op, ok := s.operations[id]
		if ok && op.Status == models.StatusActive {
			out = append(out, op.Clone())
		}
	}
	return out, nil
}

// CreateDiscovery stores d and assigns its ID
func (s *Store) CreateDiscovery(_ context.Context, d *models.Discovery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = int64(len(s.discoveries) + 1)
	s.discoveries = append(s.discoveries, d.Clone())
	return nil
}

// GetDiscovery returns one discovery by id
func (s *Store) GetDiscovery(_ context.Context, id int64) (*models.Discovery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > int64(len(s.discoveries)) {
		return nil, models.ErrNotFound
	}
	return s.discoveries[id-1].Clone(), nil
}

// GetDiscoveries returns up to limit discoveries, newest first
func (s *Store) GetDiscoveries(_ context.Context, limit int) ([]*models.Discovery, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Discovery, 0, min(limit, len(s.discoveries)))
	for i := len(s.discoveries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.discoveries[i].Clone())
	}
	return out, nil
}

// CreateBlock stores b and assigns its ID. A second block at an existing
// index is rejected with models.ErrBlockExists.
func (s *Store) CreateBlock(_ context.Context, b *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byIndex[b.Index]; exists {
		return fmt.Errorf("%w: index %d", models.ErrBlockExists, b.Index)
	}

	s.nextBlockID++
	b.ID = s.nextBlockID
	stored := *b
	s.blocks = append(s.blocks, &stored)
	s.byIndex[b.Index] = &stored
	return nil
}

// GetLatestBlock returns the block with the highest index, or nil
func (s *Store) GetLatestBlock(_ context.Context) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Block
	for _, b := range s.blocks {
		if latest == nil || b.Index > latest.Index {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// GetBlock returns one block by id
func (s *Store) GetBlock(_ context.Context, id int64) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.blocks {
		if b.ID == id {
			cp := *b
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// GetBlocks returns up to limit blocks, highest index first
func (s *Store) GetBlocks(_ context.Context, limit int) ([]*models.Block, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.ordered()
	out := make([]*models.Block, 0, min(limit, len(ordered)))
	for i := len(ordered) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ordered[i])
	}
	return out, nil
}

// GetBlocksFrom returns up to limit blocks with index >= from, in chain order
func (s *Store) GetBlocksFrom(_ context.Context, from int64, limit int) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Block
	for _, b := range s.ordered() {
		if len(out) == limit {
			break
		}
		if b.Index >= from {
			out = append(out, b)
		}
	}
	return out, nil
}

// ordered returns copies of all blocks sorted by index. Caller holds mu.
func (s *Store) ordered() []*models.Block {
	out := make([]*models.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		cp := *b
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.Block) int { return cmp.Compare(a.Index, b.Index) })
	return out
}

// CreateMetricsSnapshot appends a network metrics snapshot
func (s *Store) CreateMetricsSnapshot(_ context.Context, m *models.NetworkMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = int64(len(s.metrics) + 1)
	stored := *m
	s.metrics = append(s.metrics, &stored)
	return nil
}

// GetLatestMetricsSnapshot returns the newest snapshot, or nil
func (s *Store) GetLatestMetricsSnapshot(_ context.Context) (*models.NetworkMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.metrics) == 0 {
		return nil, nil
	}
	cp := *s.metrics[len(s.metrics)-1]
	return &cp, nil
}

// Stats summarises the stored chain
func (s *Store) Stats(_ context.Context) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &models.Stats{
		TotalBlocks:      int64(len(s.blocks)),
		TotalDiscoveries: int64(len(s.discoveries)),
		TotalOperations:  int64(len(s.operations)),
	}
	for _, op := range s.operations {
		if op.Status == models.StatusActive {
			st.ActiveOperations++
		}
	}
	for _, b := range s.blocks {
		st.TotalScientificValue += b.TotalScientificValue
	}
	return st, nil
}
