package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	UpstreamBaseURL string
	FetchInterval   time.Duration
	FetchTimeout    time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Aggregation settings, promoted from the platform's historical
	// hard-coded constants.
	AlertLogCap     int
	AlertThresholds [3]float64
	ChartWindowCap  int
	ChartWindowTTL  time.Duration

	// CachePath is the sqlite file for the persisted chart window.
	// Empty disables persistence.
	CachePath string

	// Contributor broker feed over Kafka, plus the alert sink topic.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaReadingsTopic string
	KafkaAlertsTopic   string
	KafkaGroupID       string

	// Contributor broker feed over MQTT.
	MQTTEnabled   bool
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
}

// Load reads configuration from environment variables, applying defaults where
// unset.
func Load() (*Config, error) {
	fetchInterval, err := envDuration("FETCH_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := envDuration("FETCH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	windowTTL, err := envDuration("CHART_WINDOW_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	alertCap, err := envInt("ALERT_LOG_CAP", 3)
	if err != nil {
		return nil, err
	}
	windowCap, err := envInt("CHART_WINDOW_CAP", 20)
	if err != nil {
		return nil, err
	}
	thresholds, err := parseThresholds(envOrDefault("ALERT_THRESHOLDS", "50,100,150"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		UpstreamBaseURL: envOrDefault("UPSTREAM_BASE_URL", "http://localhost:8000"),
		FetchInterval:   fetchInterval,
		FetchTimeout:    fetchTimeout,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		AlertLogCap:     alertCap,
		AlertThresholds: thresholds,
		ChartWindowCap:  windowCap,
		ChartWindowTTL:  windowTTL,
		CachePath:       os.Getenv("CACHE_PATH"),

		KafkaEnabled:       envBool("KAFKA_ENABLED"),
		KafkaBrokers:       splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaReadingsTopic: envOrDefault("KAFKA_READINGS_TOPIC", "contributor-readings"),
		KafkaAlertsTopic:   envOrDefault("KAFKA_ALERTS_TOPIC", "air-quality-alerts"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "urbanair-hub"),

		MQTTEnabled:   envBool("MQTT_ENABLED"),
		MQTTBrokerURL: envOrDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTTopic:     envOrDefault("MQTT_TOPIC", "contributors/+/readings"),
		MQTTClientID:  envOrDefault("MQTT_CLIENT_ID", "urbanair-hub"),
	}

	if cfg.UpstreamBaseURL == "" {
		return nil, errors.New("UPSTREAM_BASE_URL is required")
	}
	if cfg.FetchInterval <= 0 {
		return nil, errors.New("FETCH_INTERVAL must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		return nil, errors.New("FETCH_TIMEOUT must be positive")
	}
	if cfg.AlertLogCap <= 0 {
		return nil, errors.New("ALERT_LOG_CAP must be positive")
	}
	if cfg.ChartWindowCap <= 0 {
		return nil, errors.New("CHART_WINDOW_CAP must be positive")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
		}
		if cfg.KafkaReadingsTopic == "" {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_READINGS_TOPIC is empty")
		}
	}
	if cfg.MQTTEnabled && cfg.MQTTBrokerURL == "" {
		return nil, errors.New("MQTT_ENABLED is true but MQTT_BROKER_URL is empty")
	}

	return cfg, nil
}

// parseThresholds parses an ascending comma-separated AQI cut-point triple,
// e.g. "50,100,150".
func parseThresholds(s string) ([3]float64, error) {
	parts := splitList(s)
	if len(parts) != 3 {
		return [3]float64{}, fmt.Errorf("ALERT_THRESHOLDS wants 3 comma-separated values, got %q", s)
	}
	var out [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return [3]float64{}, fmt.Errorf("ALERT_THRESHOLDS value %q: %w", p, err)
		}
		out[i] = v
	}
	if !(out[0] < out[1] && out[1] < out[2]) {
		return [3]float64{}, fmt.Errorf("ALERT_THRESHOLDS must be strictly ascending, got %q", s)
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "true")
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
