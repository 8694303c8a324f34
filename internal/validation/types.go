package validation

import (
	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/work"
)

// Submission is a client request to mine one work item
type Submission struct {
	WorkType   string `json:"workType"`
	Difficulty int    `json:"difficulty"`
}

// ComputeRequest asks the hybrid router for a direct computation
type ComputeRequest struct {
	WorkType   string `json:"workType"`
	Difficulty int    `json:"difficulty"`
}

// VerifyRequest asks for an independent recomputation of a result
type VerifyRequest struct {
	Result *engine.Result `json:"result"`
}

// WorkItem is a validated (work type, difficulty) pair
type WorkItem struct {
	WorkType   work.Type
	Difficulty int
}
