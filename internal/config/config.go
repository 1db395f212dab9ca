// Package config loads service configuration from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/feed"
	"github.com/ismaiel54/transport-latency-bench/internal/idle"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/pipeline"
	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/kafka"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/transports"
	"github.com/spf13/viper"
)

// Config holds configuration for all services
type Config struct {
	ServiceName string

	// Log level: debug, info, warn, error
	LogLevel string

	// HTTP health, admin and gRPC health ports
	HTTPPort  int
	AdminPort int
	GRPCPort  int

	Transport transports.Config
	Feed      feed.Config

	FragmentLimit   int
	IdleStrategy    string
	PublishMaxRetry time.Duration
	StopTimeout     time.Duration

	// ResultsDB is the sqlite path; empty disables persistence.
	ResultsDB      string
	ReportInterval time.Duration
	WindowSize     int
}

func setDefaults(v *viper.Viper, serviceName string) {
	td := transports.DefaultConfig()
	fd := feed.DefaultConfig()
	pd := pipeline.DefaultConfig()

	v.SetDefault("SERVICE_NAME", serviceName)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT_HTTP", 8080)
	v.SetDefault("PORT_ADMIN", 8081)
	v.SetDefault("PORT_GRPC", 50051)

	v.SetDefault("TRANSPORT", td.Kind)
	v.SetDefault("KAFKA_BROKERS", strings.Join(td.Kafka.Brokers, ","))
	v.SetDefault("KAFKA_TOPIC", td.Kafka.Topic)
	v.SetDefault("KAFKA_GROUP", td.Kafka.Group)
	v.SetDefault("KAFKA_MAX_IN_FLIGHT", td.Kafka.MaxInFlight)
	v.SetDefault("NATS_URL", td.NATS.URL)
	v.SetDefault("REDIS_ADDR", td.Redis.Addr)
	v.SetDefault("SUBJECT", td.NATS.Subject)
	v.SetDefault("PER_SYMBOL_SUBJECTS", td.NATS.PerSymbol)
	v.SetDefault("RING_CHANNEL", td.Ring.Channel)
	v.SetDefault("RING_STREAM_ID", td.Ring.StreamID)
	v.SetDefault("RING_CAPACITY", td.Ring.Capacity)

	v.SetDefault("FEED_URL", fd.URL)
	v.SetDefault("FEED_PAIRS", strings.Join(fd.Pairs, ","))

	v.SetDefault("FRAGMENT_LIMIT", pd.FragmentLimit)
	v.SetDefault("IDLE_STRATEGY", "yield")
	v.SetDefault("PUBLISH_MAX_RETRY", time.Duration(0))
	v.SetDefault("STOP_TIMEOUT", pd.StopTimeout)
	v.SetDefault("RESULTS_DB", "./data/results.db")
	v.SetDefault("REPORT_INTERVAL", 10*time.Second)
	v.SetDefault("WINDOW_SIZE", metrics.DefaultWindow)
}

// Load loads configuration from environment variables, an optional file
// named by CONFIG_FILE, and defaults, in that order of precedence.
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	setDefaults(v, serviceName)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	tc := transports.DefaultConfig()
	tc.Kind = strings.ToLower(v.GetString("TRANSPORT"))
	tc.Kafka.Brokers = kafka.ParseBrokers(v.GetString("KAFKA_BROKERS"))
	tc.Kafka.Topic = v.GetString("KAFKA_TOPIC")
	tc.Kafka.Group = v.GetString("KAFKA_GROUP")
	tc.Kafka.MaxInFlight = v.GetInt("KAFKA_MAX_IN_FLIGHT")
	tc.Kafka.ClientID = v.GetString("SERVICE_NAME")
	tc.NATS.URL = v.GetString("NATS_URL")
	tc.NATS.Name = v.GetString("SERVICE_NAME")
	tc.NATS.Subject = v.GetString("SUBJECT")
	tc.NATS.PerSymbol = v.GetBool("PER_SYMBOL_SUBJECTS")
	tc.Redis.Addr = v.GetString("REDIS_ADDR")
	tc.Redis.Channel = v.GetString("SUBJECT")
	tc.Redis.PerSymbol = v.GetBool("PER_SYMBOL_SUBJECTS")
	tc.Ring.Channel = v.GetString("RING_CHANNEL")
	tc.Ring.StreamID = v.GetInt32("RING_STREAM_ID")
	tc.Ring.Capacity = v.GetInt("RING_CAPACITY")

	fc := feed.DefaultConfig()
	fc.URL = v.GetString("FEED_URL")
	fc.Pairs = splitList(v.GetString("FEED_PAIRS"))

	cfg := &Config{
		ServiceName:     v.GetString("SERVICE_NAME"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		HTTPPort:        v.GetInt("PORT_HTTP"),
		AdminPort:       v.GetInt("PORT_ADMIN"),
		GRPCPort:        v.GetInt("PORT_GRPC"),
		Transport:       tc,
		Feed:            fc,
		FragmentLimit:   v.GetInt("FRAGMENT_LIMIT"),
		IdleStrategy:    v.GetString("IDLE_STRATEGY"),
		PublishMaxRetry: v.GetDuration("PUBLISH_MAX_RETRY"),
		StopTimeout:     v.GetDuration("STOP_TIMEOUT"),
		ResultsDB:       v.GetString("RESULTS_DB"),
		ReportInterval:  v.GetDuration("REPORT_INTERVAL"),
		WindowSize:      v.GetInt("WINDOW_SIZE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values a service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport.Kind {
	case transport.KindRing, transport.KindKafka, transport.KindNATS, transport.KindRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport.Kind))
	}
	if c.Transport.Kind == transport.KindKafka && len(c.Transport.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}
	if c.Transport.Ring.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("RING_CAPACITY must be positive, got %d", c.Transport.Ring.Capacity))
	}
	if c.FragmentLimit <= 0 {
		errs = append(errs, fmt.Errorf("FRAGMENT_LIMIT must be positive, got %d", c.FragmentLimit))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("WINDOW_SIZE must be positive, got %d", c.WindowSize))
	}
	if c.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("REPORT_INTERVAL must be positive, got %s", c.ReportInterval))
	}
	if _, err := idle.Parse(c.IdleStrategy); err != nil {
		errs = append(errs, fmt.Errorf("IDLE_STRATEGY: %w", err))
	}

	return errors.Join(errs...)
}

// PipelineConfig builds the pipeline configuration. Publisher and poller
// each get their own idle strategy instance.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	publishIdle, err := idle.Parse(c.IdleStrategy)
	if err != nil {
		return pipeline.Config{}, err
	}
	pollIdle, err := idle.Parse(c.IdleStrategy)
	if err != nil {
		return pipeline.Config{}, err
	}

	pc := pipeline.DefaultConfig()
	pc.FragmentLimit = c.FragmentLimit
	pc.MaxRetryDuration = c.PublishMaxRetry
	pc.StopTimeout = c.StopTimeout
	pc.PublishIdle = publishIdle
	pc.PollIdle = pollIdle
	return pc, nil
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP health server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// AdminAddr returns the admin server address
func (c *Config) AdminAddr() string {
	return fmt.Sprintf(":%d", c.AdminPort)
}

func splitList(s string) []string {
	list := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}
