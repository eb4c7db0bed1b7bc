// Package mqtt ingests contributor sensor readings published over MQTT.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tranqh/urbanair-hub/internal/config"
	"github.com/tranqh/urbanair-hub/internal/domain"
	"github.com/tranqh/urbanair-hub/internal/observability"
)

const (
	connectTimeout  = 10 * time.Second
	handlerTimeout  = 5 * time.Second
	keepAlive       = 30 * time.Second
	pingTimeout     = 10 * time.Second
	connectRetry    = 5 * time.Second
	maxReconnectGap = 60 * time.Second
)

// MessageHandler receives each decoded broker reading.
type MessageHandler func(ctx context.Context, reading domain.StationReading) error

// Subscriber maintains an MQTT connection and feeds contributor readings to
// its handler. Reconnects and resubscribes automatically.
type Subscriber struct {
	client  pahomqtt.Client
	topic   string
	handler MessageHandler
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	connected bool
}

// NewSubscriber configures a subscriber for the contributor readings topic.
// The handler must be set before Connect.
func NewSubscriber(cfg *config.Config, handler MessageHandler, logger *slog.Logger, metrics *observability.Metrics) *Subscriber {
	s := &Subscriber{
		topic:   cfg.MQTTTopic,
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetry).
		SetMaxReconnectInterval(maxReconnectGap).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout)

	// Subscribing inside OnConnect covers reconnects: the broker forgets
	// clean-session subscriptions, so each (re)connect registers again.
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connected", "topic", s.topic)
		token := c.Subscribe(s.topic, 1, s.handleMessage)
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("mqtt subscribe failed", "topic", s.topic, "error", err)
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = pahomqtt.NewClient(opts)
	return s
}

// Connect dials the broker and waits for the first successful connection or
// ctx cancellation. With retry enabled the client keeps dialing in the
// background after a timeout here.
func (s *Subscriber) Connect(ctx context.Context) error {
	token := s.client.Connect()
	deadline := time.Now().Add(connectTimeout)
	for !token.WaitTimeout(250 * time.Millisecond) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mqtt connect timed out after %s", connectTimeout)
		}
	}
	return token.Error()
}

// Disconnect flushes in-flight work and drops the connection.
func (s *Subscriber) Disconnect() {
	s.client.Disconnect(250)
	s.setConnected(false)
}

// IsConnected reports whether the broker session is currently up.
func (s *Subscriber) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Subscriber) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	reading, err := domain.NormalizeReading(msg.Payload())
	if err != nil {
		s.logger.Warn("skipping malformed mqtt reading", "topic", msg.Topic(), "error", err)
		return
	}
	reading.SourceType = domain.SourceBroker

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := s.handler(ctx, reading); err != nil {
		s.logger.Warn("mqtt reading dropped", "station_id", reading.StationID, "error", err)
		return
	}
	s.metrics.BrokerReadings.WithLabelValues("mqtt").Inc()
}
