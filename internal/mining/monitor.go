package mining

import (
	"context"
	"time"

	"github.com/bardlex/promine/internal/messaging"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/retry"
)

// Aggregation windows
const (
	metricsWindow         = 100
	efficiencyWindow      = 10
	healthBlockWindow     = 10
	healthBlockMaxAge     = 5 * time.Minute
	hashratePerDifficulty = 1000.0
)

// HealthReport is the result of one health check
type HealthReport struct {
	ActiveOperations int       `json:"activeOperations"`
	LastBlockAt      time.Time `json:"lastBlockAt"`
	Warnings         []string  `json:"warnings,omitempty"`
}

// Healthy reports whether the check raised no warnings
func (r *HealthReport) Healthy() bool {
	return len(r.Warnings) == 0
}

// CheckHealth warns when too few operations are active or no block among
// the most recent ones is younger than five minutes
func (m *Manager) CheckHealth(ctx context.Context) (*HealthReport, error) {
	active, err := m.store.GetActiveOperations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLifecycle, "health_check", "failed to list active operations")
	}
	blocks, err := m.store.GetBlocks(ctx, healthBlockWindow)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLifecycle, "health_check", "failed to list recent blocks")
	}

	report := &HealthReport{ActiveOperations: len(active)}
	if len(active) < m.cfg.HealthMinActive {
		report.Warnings = append(report.Warnings, "low mining activity")
	}

	cutoff := m.now().Add(-healthBlockMaxAge)
	recent := false
	for _, b := range blocks {
		if b.Timestamp.After(report.LastBlockAt) {
			report.LastBlockAt = b.Timestamp
		}
		if b.Timestamp.After(cutoff) {
			recent = true
		}
	}
	if !recent {
		report.Warnings = append(report.Warnings, "no recent blocks")
	}
	return report, nil
}

// CollectMetrics computes a network metrics snapshot from recent activity
func (m *Manager) CollectMetrics(ctx context.Context) (*models.NetworkMetrics, error) {
	blocks, err := m.store.GetBlocks(ctx, metricsWindow)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLifecycle, "collect_metrics", "failed to list blocks")
	}
	discoveries, err := m.store.GetDiscoveries(ctx, metricsWindow)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLifecycle, "collect_metrics", "failed to list discoveries")
	}
	active, err := m.store.GetActiveOperations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLifecycle, "collect_metrics", "failed to list active operations")
	}

	now := m.now().UTC()
	hourAgo := now.Add(-time.Hour)

	blocksPerHour := 0
	for _, b := range blocks {
		if b.Timestamp.After(hourAgo) {
			blocksPerHour++
		}
	}
	avgBlockTime := 0.0
	if len(blocks) > 0 {
		avgBlockTime = 3600 / float64(max(blocksPerHour, 1))
	}

	energy := 0.0
	for _, d := range discoveries[:min(efficiencyWindow, len(discoveries))] {
		energy += d.EnergyConsumed()
	}

	value := 0.0
	for _, d := range discoveries {
		if d.Timestamp.After(hourAgo) {
			value += d.ScientificValue
		}
	}

	hashrate := 0.0
	for _, op := range active {
		hashrate += float64(op.Difficulty) * hashratePerDifficulty
	}

	return &models.NetworkMetrics{
		Timestamp:                now,
		ActiveMiners:             len(active) + m.Producers(),
		BlocksPerHour:            float64(blocksPerHour),
		EnergyEfficiency:         -energy * 100,
		ScientificValueGenerated: value,
		AverageBlockTime:         avgBlockTime,
		NetworkHashrate:          hashrate,
		TotalKnowledgeCreated:    len(discoveries),
	}, nil
}

// NetworkMetrics returns the latest stored snapshot, or the defaults before
// the first one is taken
func (m *Manager) NetworkMetrics(ctx context.Context) (*models.NetworkMetrics, error) {
	latest, err := m.store.GetLatestMetricsSnapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLifecycle, "network_metrics", "failed to read metrics snapshot")
	}
	if latest == nil {
		d := models.DefaultNetworkMetrics(m.now().UTC())
		return &d, nil
	}
	return latest, nil
}

// snapshot collects, stores and announces one metrics snapshot
func (m *Manager) snapshot(ctx context.Context) error {
	metrics, err := m.CollectMetrics(ctx)
	if err != nil {
		return err
	}
	if err := m.store.CreateMetricsSnapshot(ctx, metrics); err != nil {
		return errors.Wrap(err, errors.ErrorTypeLifecycle, "collect_metrics", "failed to store metrics snapshot")
	}
	m.publish(ctx, messaging.NewMetricsUpdateEvent(metrics))
	return nil
}

// StartMonitors runs the health monitor and metrics aggregator until
// Shutdown. Calling it again has no effect.
func (m *Manager) StartMonitors(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.startMonitorsLocked(ctx)
	}
}

func (m *Manager) startMonitorsLocked(ctx context.Context) {
	if m.monitors != nil {
		return
	}
	mctx, cancel := context.WithCancel(ctx)
	m.monitors = cancel

	m.monWG.Add(2)
	go func() {
		defer m.monWG.Done()
		m.metricsLoop(mctx)
	}()
	go func() {
		defer m.monWG.Done()
		m.healthLoop(mctx)
	}()
}

func (m *Manager) stopMonitors() {
	m.mu.Lock()
	cancel := m.monitors
	m.monitors = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.monWG.Wait()
	}
}

func (m *Manager) metricsLoop(ctx context.Context) {
	logger := m.logger.WithComponent("metrics_aggregator")
	ticker := time.NewTicker(m.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.snapshot(ctx); err != nil {
				logger.WithError(err).Error("metrics snapshot failed")
			}
		}
	}
}

// healthLoop checks every HealthInterval, and twice as often after a failed
// check
func (m *Manager) healthLoop(ctx context.Context) {
	logger := m.logger.WithComponent("health_monitor")
	wait := m.cfg.HealthInterval

	for {
		if retry.Sleep(ctx, wait) != nil {
			return
		}

		report, err := m.CheckHealth(ctx)
		if err != nil {
			logger.WithError(err).Error("health check failed")
			wait = m.cfg.HealthInterval / 2
			continue
		}
		wait = m.cfg.HealthInterval

		for _, w := range report.Warnings {
			logger.Warn(w, "active_operations", report.ActiveOperations, "last_block_at", report.LastBlockAt)
		}
	}
}
