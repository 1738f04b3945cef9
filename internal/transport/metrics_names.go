package transport

// Metric family names shared by transport implementations.
const (
	MetricP2PMessagesTotal = "p2p_messages_total"
	MetricP2PBytesTotal    = "p2p_bytes_total"
)
