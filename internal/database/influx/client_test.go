package influx

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/internal/work"
)

var at = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDiscoveryPoint(t *testing.T) {
	score := 0.91
	d := &models.Discovery{
		WorkType:          work.NavierStokes,
		Difficulty:        70,
		ComputationMode:   engine.ModeSimulation,
		ScientificValue:   2800,
		VerificationScore: &score,
		Timestamp:         at,
	}

	line := write.PointToLineProtocol(DiscoveryPoint(d), time.Second)
	assert.True(t, strings.HasPrefix(line, "discoveries,"), line)
	assert.Contains(t, line, "work_type=navier_stokes")
	assert.Contains(t, line, "mode=simulation")
	assert.Contains(t, line, "verified=false")
	assert.Contains(t, line, "verification_score=0.91")
	assert.Contains(t, line, "scientific_value=2800")
}

func TestBlockAndNetworkPoints(t *testing.T) {
	b := &models.Block{Index: 4, MinerID: "miner_ab12", Difficulty: 30, TotalScientificValue: 1900, Timestamp: at}
	line := write.PointToLineProtocol(BlockPoint(b), time.Second)
	assert.True(t, strings.HasPrefix(line, "blocks,miner_id=miner_ab12 "), line)
	assert.Contains(t, line, "index=4i")

	m := &models.NetworkMetrics{ActiveMiners: 6, BlocksPerHour: 12, Timestamp: at}
	p := NetworkPoint(m)
	assert.Equal(t, "network", p.Name())
	assert.Empty(t, p.TagList())
	assert.Equal(t, at, p.Time())

	fields := make(map[string]any, len(p.FieldList()))
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(6), fields["active_miners"])
	assert.Equal(t, 12.0, fields["blocks_per_hour"])
	assert.Len(t, fields, 7)

	line = write.PointToLineProtocol(p, time.Second)
	assert.True(t, strings.HasPrefix(line, "network"), line)
	assert.Contains(t, line, "active_miners=6i")
}
