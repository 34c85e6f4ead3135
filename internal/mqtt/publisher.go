// Package mqtt mirrors accepted readings onto an MQTT topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"airdetect/internal/config"
	"airdetect/internal/modules/airquality/types"
	"airdetect/internal/pubsub"
)

const (
	sinkName       = "mqtt"
	publishQoS     = 1
	publishTimeout = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

// SinkRecorder counts failed publishes. *metrics.Metrics implements it.
type SinkRecorder interface {
	SinkFailure(sink string)
}

type Publisher struct {
	client   mqtt.Client
	topic    string
	logger   *slog.Logger
	recorder SinkRecorder

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg config.Config, logger *slog.Logger, recorder SinkRecorder) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort, "topic", cfg.MQTTTopic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	return newPublisher(mqtt.NewClient(opts), cfg.MQTTTopic, logger, recorder)
}

func newPublisher(client mqtt.Client, topic string, logger *slog.Logger, recorder SinkRecorder) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:   client,
		topic:    topic,
		logger:   logger,
		recorder: recorder,
		stopCh:   make(chan struct{}),
	}
}

// Connect waits for the first broker connection. It returns when connected,
// when ctx is done, or after Disconnect. The client keeps retrying in the
// background either way.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish sends one reading as JSON at QoS 1, not retained.
func (p *Publisher) Publish(r types.Reading) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	token := p.client.Publish(p.topic, publishQoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}

	p.logger.Debug("published reading", "topic", p.topic, "timestamp", r.Timestamp)
	return nil
}

// Run publishes every reading from the subscription until it is closed or
// ctx is done. Failures are logged and counted; they never stop the loop.
func (p *Publisher) Run(ctx context.Context, sub *pubsub.Subscription[types.Reading]) {
	pubsub.Consume(ctx, sub.C(), func(r types.Reading) {
		if err := p.Publish(r); err != nil {
			if p.recorder != nil {
				p.recorder.SinkFailure(sinkName)
			}
			p.logger.Error("mqtt publish failed", "topic", p.topic, "timestamp", r.Timestamp, "error", err)
		}
	})
}

func (p *Publisher) IsConnected() bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}
	return p.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect returns ErrStopped.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	})
}
