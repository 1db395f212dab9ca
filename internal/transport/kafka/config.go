package kafka

import (
	"strings"
	"time"
)

// Topic and group names
const (
	TopicBookTicker = "book-ticker"
	GroupLatency    = "latency-measurement-group"
)

// Config holds Kafka configuration
type Config struct {
	Brokers  []string
	ClientID string
	Topic    string
	Group    string

	// MaxInFlight bounds records handed to the client but not yet
	// acknowledged; beyond it Offer reports backpressure.
	MaxInFlight int

	// PollTimeout bounds a single fetch so the poller can observe
	// cancellation.
	PollTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Brokers:     []string{"127.0.0.1:9092"},
		ClientID:    "transport-latency-bench",
		Topic:       TopicBookTicker,
		Group:       GroupLatency,
		MaxInFlight: 10000,
		PollTimeout: 100 * time.Millisecond,
	}
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	list := make([]string, 0)
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}
