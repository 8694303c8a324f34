package messaging

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bardlex/promine/internal/models"
)

// Kind identifies an event
type Kind string

const (
	// KindMiningCompleted is published when an operation yields a discovery
	KindMiningCompleted Kind = "mining_completed"
	// KindNewBlock is published after a block is appended
	KindNewBlock Kind = "new_block"
	// KindMetricsUpdate is published with every network metrics snapshot
	KindMetricsUpdate Kind = "metrics_update"
	// KindMiningUpdate is published when an operation changes phase
	KindMiningUpdate Kind = "mining_update"
)

// Event is the envelope for everything the mining core announces
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"data"`
}

// MiningCompleted is the payload of KindMiningCompleted
type MiningCompleted struct {
	OperationID     int64             `json:"operationId"`
	Discovery       *models.Discovery `json:"discovery"`
	ScientificValue float64           `json:"scientificValue"`
}

// NewBlock is the payload of KindNewBlock
type NewBlock struct {
	Block     *models.Block     `json:"block"`
	Discovery *models.Discovery `json:"discovery"`
}

// MetricsUpdate is the payload of KindMetricsUpdate
type MetricsUpdate struct {
	ActiveMiners     int     `json:"activeMiners"`
	BlocksPerHour    float64 `json:"blocksPerHour"`
	EnergyEfficiency float64 `json:"energyEfficiency"`
	ScientificValue  float64 `json:"scientificValue"`
}

// MiningUpdate is the payload of KindMiningUpdate
type MiningUpdate struct {
	OperationID int64        `json:"operationId"`
	Progress    float64      `json:"progress"`
	Status      models.Phase `json:"status"`
}

func newEvent(kind Kind, key string, payload any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Key:       key,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewMiningCompletedEvent announces a completed operation
func NewMiningCompletedEvent(operationID int64, d *models.Discovery, value float64) *Event {
	return newEvent(KindMiningCompleted, strconv.FormatInt(operationID, 10), MiningCompleted{
		OperationID:     operationID,
		Discovery:       d,
		ScientificValue: value,
	})
}

// NewBlockEvent announces an appended block
func NewBlockEvent(b *models.Block, d *models.Discovery) *Event {
	return newEvent(KindNewBlock, strconv.FormatInt(b.Index, 10), NewBlock{Block: b, Discovery: d})
}

// NewMetricsUpdateEvent announces a metrics snapshot
func NewMetricsUpdateEvent(m *models.NetworkMetrics) *Event {
	return newEvent(KindMetricsUpdate, "network", MetricsUpdate{
		ActiveMiners:     m.ActiveMiners,
		BlocksPerHour:    m.BlocksPerHour,
		EnergyEfficiency: m.EnergyEfficiency,
		ScientificValue:  m.ScientificValueGenerated,
	})
}

// NewMiningUpdateEvent announces an operation phase change
func NewMiningUpdateEvent(operationID int64, progress float64, phase models.Phase) *Event {
	return newEvent(KindMiningUpdate, strconv.FormatInt(operationID, 10), MiningUpdate{
		OperationID: operationID,
		Progress:    progress,
		Status:      phase,
	})
}
