package valuation

import (
	"fmt"

	"github.com/bardlex/promine/internal/work"
)

// WorkTypeInfo describes how a single work type is priced
type WorkTypeInfo struct {
	WorkType       work.Type `json:"workType"`
	BaseValue      float64   `json:"baseValue"`
	ResearchImpact float64   `json:"researchImpact"`
	Description    string    `json:"description"`
	MinValue       float64   `json:"minValue"`
	MaxValue       float64   `json:"maxValue"`
}

// Describe returns pricing information for wt; unregistered types get defaults
func Describe(wt work.Type) WorkTypeInfo {
	info := WorkTypeInfo{
		WorkType:       wt,
		BaseValue:      work.DefaultBaseValue,
		ResearchImpact: work.DefaultImpact,
		Description:    fmt.Sprintf("Mathematical research in %s", wt),
		MinValue:       MinValue,
		MaxValue:       MaxValue,
	}
	if reg, ok := work.Lookup(wt); ok {
		info.BaseValue = reg.BaseValue
		info.ResearchImpact = reg.Impact
		info.Description = reg.Description
	}
	return info
}

// Statistics summarises the valuation model
type Statistics struct {
	MinValue                float64               `json:"minValue"`
	MaxValue                float64               `json:"maxValue"`
	BaseValues              map[work.Type]float64 `json:"baseValues"`
	ResearchImpacts         map[work.Type]float64 `json:"researchImpacts"`
	MaxDifficultyMultiplier float64               `json:"maxDifficultyMultiplier"`
	Methodology             string                `json:"methodology"`
}

// Stats returns the valuation model constants for the minable work types
func Stats() Statistics {
	s := Statistics{
		MinValue:                MinValue,
		MaxValue:                MaxValue,
		BaseValues:              make(map[work.Type]float64),
		ResearchImpacts:         make(map[work.Type]float64),
		MaxDifficultyMultiplier: MaxDifficultyMultiplier,
		Methodology:             "Research grant equivalents with realistic computational costs",
	}
	for _, wt := range work.Minable() {
		info, _ := work.Lookup(wt)
		s.BaseValues[wt] = info.BaseValue
		s.ResearchImpacts[wt] = info.Impact
	}
	return s
}
