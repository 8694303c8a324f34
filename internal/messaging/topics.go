package messaging

// Topic constants for mining chain events
const (
	TopicMiningCompleted = "promine.mining.completed" // manager → indexers, dashboards
	TopicBlocks          = "promine.chain.blocks"     // chain writer → explorers
	TopicMetrics         = "promine.network.metrics"  // metrics aggregator → dashboards
	TopicMiningUpdates   = "promine.mining.updates"   // operation phase changes
	TopicUnknown         = "promine.events"
)

// TopicFor returns the topic events of kind are published on
func TopicFor(kind Kind) string {
	switch kind {
	case KindMiningCompleted:
		return TopicMiningCompleted
	case KindNewBlock:
		return TopicBlocks
	case KindMetricsUpdate:
		return TopicMetrics
	case KindMiningUpdate:
		return TopicMiningUpdates
	default:
		return TopicUnknown
	}
}

// Topics lists every topic the publishers write to
func Topics() []string {
	return []string{TopicMiningCompleted, TopicBlocks, TopicMetrics, TopicMiningUpdates}
}
