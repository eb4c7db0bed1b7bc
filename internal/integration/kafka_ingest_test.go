//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkatc "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/tranqh/urbanair-hub/internal/adapter/kafka"
	"github.com/tranqh/urbanair-hub/internal/config"
	"github.com/tranqh/urbanair-hub/internal/domain"
	"github.com/tranqh/urbanair-hub/internal/observability"
)

const (
	testReadingsTopic = "test-contributor-readings"
	testAlertsTopic   = "test-air-quality-alerts"
)

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := kafkatc.Run(ctx, "confluentinc/confluent-local:7.8.0")
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collectIngestor records everything the reader hands it.
type collectIngestor struct {
	mu       sync.Mutex
	readings []domain.StationReading
}

func (c *collectIngestor) Ingest(_ context.Context, readings []domain.StationReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, readings...)
	return nil
}

func (c *collectIngestor) snapshot() []domain.StationReading {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.StationReading, len(c.readings))
	copy(out, c.readings)
	return out
}

// TestKafkaReadingIngest round-trips a contributor reading through a real
// broker: produce raw JSON, consume via kafkaadapter.Reader, and check the
// normalized broker-tagged result.
func TestKafkaReadingIngest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testReadingsTopic)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaReadingsTopic: testReadingsTopic,
		KafkaGroupID:       fmt.Sprintf("test-hub-%d", time.Now().UnixNano()),
	}

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testReadingsTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	payload := []byte(`{"station_id":"contrib-7","sensor_id":"mqtt-sensor-07","lat":21.0285,"lng":105.8542,"aqi":87,"observed_at":"2026-08-29T10:00:00Z"}`)
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("21.0285,105.8542"),
		Value: payload,
	}))
	// A malformed message in between must be skipped, not wedge the reader.
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Value: []byte(`{broken`)}))
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Value: []byte(`{"station_id":"contrib-8","lat":21.04,"lng":105.86,"aqi":42,"observed_at":"2026-08-29T10:00:05Z"}`),
	}))

	reader := kafkaadapter.NewReader(cfg, discardLogger(), observability.NewMetricsForTesting())
	t.Cleanup(func() { _ = reader.Close() })

	collector := &collectIngestor{}
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- reader.Run(runCtx, collector) }()

	require.Eventually(t, func() bool {
		return len(collector.snapshot()) >= 2
	}, 60*time.Second, 250*time.Millisecond, "waiting for readings from the broker")

	stop()
	require.NoError(t, <-done)

	readings := collector.snapshot()
	require.Len(t, readings, 2)
	assert.Equal(t, "contrib-7", readings[0].StationID)
	assert.Equal(t, domain.SourceBroker, readings[0].SourceType)
	require.NotNil(t, readings[0].AQI)
	assert.Equal(t, 87.0, *readings[0].AQI)
	assert.Equal(t, "contrib-8", readings[1].StationID)
	assert.Equal(t, domain.SourceBroker, readings[1].SourceType)
}

// TestKafkaAlertPublish verifies the alert sink writes consumable messages.
func TestKafkaAlertPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testAlertsTopic)

	cfg := &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaAlertsTopic: testAlertsTopic,
	}

	writer := kafkaadapter.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	alert := domain.Alert{
		StationID:  "hanoi-01",
		Coordinate: domain.Coordinate{Lat: 21.0285, Lng: 105.8542},
		AQI:        160,
		Severity:   "unhealthy",
		Message:    "unhealthy air quality at hanoi-01 (AQI 160)",
		Timestamp:  time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, writer.PublishAlerts(ctx, []domain.Alert{alert}))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{broker},
		Topic:   testAlertsTopic,
		GroupID: fmt.Sprintf("test-alerts-%d", time.Now().UnixNano()),
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err)

	assert.Equal(t, "21.0285,105.8542", string(msg.Key))
	assert.Contains(t, string(msg.Value), `"severity":"unhealthy"`)

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "unhealthy", headers["severity"])
	assert.Equal(t, "2026-08-29T10:00:00Z", headers["emitted_at"])
}
