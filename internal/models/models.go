// Package models defines the records that flow between the mining manager,
// the chain and the storage adapters.
package models

import (
	"time"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
)

// Store sentinels shared by every storage backend
var (
	ErrNotFound    = errors.New(errors.ErrorTypeDatabase, "lookup", "record not found")
	ErrBlockExists = errors.New(errors.ErrorTypeChain, "create_block", "a block already exists at this index")
)

// OperationStatus is the lifecycle status of a mining operation
type OperationStatus string

const (
	StatusActive    OperationStatus = "active"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
)

// Phase is the step a running operation has reached
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseComputing  Phase = "computing"
	PhaseValidating Phase = "validating"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Progress values recorded at each phase
const (
	ProgressQueued     = 0.0
	ProgressComputing  = 0.1
	ProgressValidating = 0.8
	ProgressDone       = 1.0
)

// OperationState is the current result attached to an operation
type OperationState struct {
	Phase           Phase          `json:"status"`
	Mode            engine.Mode    `json:"computationMode,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	ScientificValue float64        `json:"scientificValue,omitempty"`
	DiscoveryID     int64          `json:"discoveryId,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Operation is one submitted work item being mined
type Operation struct {
	ID                  int64           `json:"id" db:"id"`
	WorkType            work.Type       `json:"operationType" db:"operation_type"`
	MinerID             string          `json:"minerId" db:"miner_id"`
	StartTime           time.Time       `json:"startTime" db:"start_time"`
	EstimatedCompletion time.Time       `json:"estimatedCompletion" db:"estimated_completion"`
	Progress            float64         `json:"progress" db:"progress"`
	CurrentResult       OperationState  `json:"currentResult" db:"current_result"`
	Difficulty          int             `json:"difficulty" db:"difficulty"`
	Status              OperationStatus `json:"status" db:"status"`
}

// Discovery is the immutable record of a completed computation
type Discovery struct {
	ID                int64               `json:"id" db:"id"`
	WorkType          work.Type           `json:"workType" db:"work_type"`
	Difficulty        int                 `json:"difficulty" db:"difficulty"`
	Result            map[string]any      `json:"result" db:"result"`
	VerificationData  engine.Verification `json:"verificationData" db:"verification_data"`
	ComputationalCost float64             `json:"computationalCost" db:"computational_cost"`
	EnergyEfficiency  float64             `json:"energyEfficiency" db:"energy_efficiency"`
	ScientificValue   float64             `json:"scientificValue" db:"scientific_value"`
	ComputationMode   engine.Mode         `json:"computationMode" db:"computation_mode"`
	Verified          bool                `json:"verified" db:"verified"`
	// VerificationScore is set when the discovery was peer verified
	VerificationScore *float64  `json:"verificationScore,omitempty" db:"verification_score"`
	Signature         string    `json:"signature" db:"signature"`
	WorkerID          string    `json:"workerId" db:"worker_id"`
	Timestamp         time.Time `json:"timestamp" db:"timestamp"`
}

// EnergyConsumed converts the efficiency metric back to kWh
func (d *Discovery) EnergyConsumed() float64 {
	return d.EnergyEfficiency / 1000
}

// Block links one discovery into the chain
type Block struct {
	ID                   int64     `json:"id" db:"id"`
	Index                int64     `json:"index" db:"index"`
	Timestamp            time.Time `json:"timestamp" db:"timestamp"`
	PreviousHash         string    `json:"previousHash" db:"previous_hash"`
	MerkleRoot           string    `json:"merkleRoot" db:"merkle_root"`
	BlockHash            string    `json:"blockHash" db:"block_hash"`
	Difficulty           int       `json:"difficulty" db:"difficulty"`
	Nonce                int64     `json:"nonce" db:"nonce"`
	MinerID              string    `json:"minerId" db:"miner_id"`
	TotalScientificValue float64   `json:"totalScientificValue" db:"total_scientific_value"`
	EnergyConsumed       float64   `json:"energyConsumed" db:"energy_consumed"`
	KnowledgeCreated     int       `json:"knowledgeCreated" db:"knowledge_created"`
}

// NetworkMetrics is an append-only snapshot of network activity
type NetworkMetrics struct {
	ID                       int64     `json:"id" db:"id"`
	Timestamp                time.Time `json:"timestamp" db:"timestamp"`
	ActiveMiners             int       `json:"activeMiners" db:"active_miners"`
	BlocksPerHour            float64   `json:"blocksPerHour" db:"blocks_per_hour"`
	EnergyEfficiency         float64   `json:"energyEfficiency" db:"energy_efficiency"`
	ScientificValueGenerated float64   `json:"scientificValueGenerated" db:"scientific_value_generated"`
	AverageBlockTime         float64   `json:"averageBlockTime" db:"average_block_time"`
	NetworkHashrate          float64   `json:"networkHashrate" db:"network_hashrate"`
	TotalKnowledgeCreated    int       `json:"totalKnowledgeCreated" db:"total_knowledge_created"`
}

// DefaultNetworkMetrics is reported before the first snapshot exists
func DefaultNetworkMetrics(now time.Time) NetworkMetrics {
	return NetworkMetrics{
		Timestamp:        now,
		ActiveMiners:     5,
		BlocksPerHour:    8,
		EnergyEfficiency: -500,
		AverageBlockTime: 450,
		NetworkHashrate:  1000,
	}
}

// Stats summarises stored chain data
type Stats struct {
	TotalBlocks          int64   `json:"totalBlocks"`
	TotalDiscoveries     int64   `json:"totalDiscoveries"`
	TotalOperations      int64   `json:"totalOperations"`
	ActiveOperations     int64   `json:"activeOperations"`
	TotalScientificValue float64 `json:"totalScientificValue"`
}
