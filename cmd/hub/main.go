package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tranqh/urbanair-hub/internal/adapter/httpapi"
	kafkaadapter "github.com/tranqh/urbanair-hub/internal/adapter/kafka"
	mqttadapter "github.com/tranqh/urbanair-hub/internal/adapter/mqtt"
	"github.com/tranqh/urbanair-hub/internal/adapter/upstream"
	"github.com/tranqh/urbanair-hub/internal/cache"
	"github.com/tranqh/urbanair-hub/internal/config"
	"github.com/tranqh/urbanair-hub/internal/domain"
	"github.com/tranqh/urbanair-hub/internal/hub"
	"github.com/tranqh/urbanair-hub/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.FetchTimeout, logger)

	h := hub.New(client, hub.Config{
		Interval:        cfg.FetchInterval,
		FetchTimeout:    cfg.FetchTimeout,
		AlertLogCap:     cfg.AlertLogCap,
		AlertThresholds: cfg.AlertThresholds,
		WindowCap:       cfg.ChartWindowCap,
	}, logger, metrics)

	// Chart window persistence (feature-flagged via CACHE_PATH).
	var store *cache.Store
	if cfg.CachePath != "" {
		store, err = cache.Open(cfg.CachePath, cfg.ChartWindowTTL, logger)
		if err != nil {
			logger.Error("failed to open chart cache", "path", cfg.CachePath, "error", err)
			os.Exit(1)
		}
		h.SetStore(store)
		logger.Info("chart cache enabled", "path", cfg.CachePath, "ttl", cfg.ChartWindowTTL)
	} else {
		logger.Info("chart cache disabled")
	}

	// Kafka ingest and alert sink (feature-flagged via KAFKA_ENABLED).
	var reader *kafkaadapter.Reader
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger, metrics)
		writer = kafkaadapter.NewWriter(cfg, logger)
		h.SetAlertSink(writer)
		logger.Info("kafka enabled", "brokers", cfg.KafkaBrokers,
			"readings_topic", cfg.KafkaReadingsTopic, "alerts_topic", cfg.KafkaAlertsTopic)
	} else {
		logger.Info("kafka disabled")
	}

	// MQTT ingest (feature-flagged via MQTT_ENABLED).
	var subscriber *mqttadapter.Subscriber
	if cfg.MQTTEnabled {
		subscriber = mqttadapter.NewSubscriber(cfg, func(ctx context.Context, reading domain.StationReading) error {
			return h.Ingest(ctx, []domain.StationReading{reading})
		}, logger, metrics)
		logger.Info("mqtt enabled", "broker", cfg.MQTTBrokerURL, "topic", cfg.MQTTTopic)
	} else {
		logger.Info("mqtt disabled")
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, h, client, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the fetch loop.
	go func() {
		if err := h.Run(ctx); err != nil {
			logger.Error("hub error", "error", err)
		}
	}()

	if reader != nil {
		go func() {
			if err := reader.Run(ctx, h); err != nil {
				logger.Error("kafka reader error", "error", err)
			}
		}()
	}

	if subscriber != nil {
		if err := subscriber.Connect(ctx); err != nil {
			logger.Error("mqtt connect error", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if subscriber != nil {
		subscriber.Disconnect()
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("chart cache close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
