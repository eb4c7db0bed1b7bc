package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tranqh/urbanair-hub/internal/config"
	"github.com/tranqh/urbanair-hub/internal/domain"
	"github.com/tranqh/urbanair-hub/internal/observability"
)

// ReadingIngestor receives broker-fed readings, normally the hub itself.
type ReadingIngestor interface {
	Ingest(ctx context.Context, readings []domain.StationReading) error
}

// Reader consumes contributor readings from a Kafka topic and feeds them into
// the hub. Malformed messages are committed and skipped, never retried.
type Reader struct {
	reader  *kafkago.Reader
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReader creates a Kafka consumer for the configured readings topic.
func NewReader(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaReadingsTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return &Reader{reader: r, logger: logger, metrics: metrics}
}

// Run consumes until ctx is cancelled, handing each decodable reading to the
// ingestor. Offsets are committed after ingestion so a crash replays at most
// the uncommitted tail; the merge rules make replays harmless.
func (r *Reader) Run(ctx context.Context, ingestor ReadingIngestor) error {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		reading, err := mapMessage(msg)
		if err != nil {
			r.logger.Warn("skipping malformed reading message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else {
			if err := ingestor.Ingest(ctx, []domain.StationReading{reading}); err != nil {
				return err
			}
			r.metrics.BrokerReadings.WithLabelValues("kafka").Inc()
		}

		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessage decodes one Kafka message into a broker-fed reading. Whatever
// source tag the payload carries, delivery over the broker fixes provenance.
func mapMessage(msg kafkago.Message) (domain.StationReading, error) {
	reading, err := domain.NormalizeReading(msg.Value)
	if err != nil {
		return domain.StationReading{}, err
	}
	reading.SourceType = domain.SourceBroker
	return reading, nil
}
