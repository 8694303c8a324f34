// Package influx provides the InfluxDB time-series sink for promine.
// Discoveries, appended blocks and network metric snapshots are written as
// points; writes are asynchronous and never block the mining path.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/promine/internal/models"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}

	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return c, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return nil
}

// Errors exposes asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// DiscoveryPoint builds the point recorded for a stored discovery
func DiscoveryPoint(d *models.Discovery) *write.Point {
	tags := map[string]string{
		"work_type": string(d.WorkType),
		"mode":      string(d.ComputationMode),
		"verified":  strconv.FormatBool(d.Verified),
	}

	fields := map[string]any{
		"difficulty":         d.Difficulty,
		"scientific_value":   d.ScientificValue,
		"computational_cost": d.ComputationalCost,
		"energy_efficiency":  d.EnergyEfficiency,
		"count":              1,
	}
	if d.VerificationScore != nil {
		fields["verification_score"] = *d.VerificationScore
	}

	return write.NewPoint("discoveries", tags, fields, d.Timestamp)
}

// BlockPoint builds the point recorded for an appended block
func BlockPoint(b *models.Block) *write.Point {
	tags := map[string]string{
		"miner_id": b.MinerID,
	}

	fields := map[string]any{
		"index":             b.Index,
		"difficulty":        b.Difficulty,
		"scientific_value":  b.TotalScientificValue,
		"energy_consumed":   b.EnergyConsumed,
		"knowledge_created": b.KnowledgeCreated,
		"count":             1,
	}

	return write.NewPoint("blocks", tags, fields, b.Timestamp)
}

// NetworkPoint builds the point recorded for a metrics snapshot
func NetworkPoint(m *models.NetworkMetrics) *write.Point {
	fields := map[string]any{
		"active_miners":              m.ActiveMiners,
		"blocks_per_hour":            m.BlocksPerHour,
		"energy_efficiency":          m.EnergyEfficiency,
		"scientific_value_generated": m.ScientificValueGenerated,
		"average_block_time":         m.AverageBlockTime,
		"network_hashrate":           m.NetworkHashrate,
		"total_knowledge_created":    m.TotalKnowledgeCreated,
	}

	return write.NewPoint("network", map[string]string{}, fields, m.Timestamp)
}

// WriteDiscovery records a discovery point
func (c *Client) WriteDiscovery(d *models.Discovery) {
	c.writeAPI.WritePoint(DiscoveryPoint(d))
}

// WriteBlock records a block point
func (c *Client) WriteBlock(b *models.Block) {
	c.writeAPI.WritePoint(BlockPoint(b))
}

// WriteNetworkMetrics records a metrics snapshot point
func (c *Client) WriteNetworkMetrics(m *models.NetworkMetrics) {
	c.writeAPI.WritePoint(NetworkPoint(m))
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
