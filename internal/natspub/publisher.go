// Package natspub mirrors accepted readings onto a NATS subject.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"airdetect/internal/config"
	"airdetect/internal/modules/airquality/types"
	"airdetect/internal/pubsub"
)

const (
	sinkName   = "nats"
	clientName = "airdetect-server"
)

// SinkRecorder counts failed publishes. *metrics.Metrics implements it.
type SinkRecorder interface {
	SinkFailure(sink string)
}

type Publisher struct {
	nc       *nats.Conn
	subject  string
	logger   *slog.Logger
	recorder SinkRecorder
}

// Connect dials cfg.NATSURL. The first connection is retried in the
// background, so an unreachable server does not fail startup; publishes made
// before it is reached are buffered by the client.
func Connect(cfg config.Config, logger *slog.Logger, recorder SinkRecorder) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			logger.Info("nats connected", "url", nc.ConnectedUrlRedacted(), "subject", cfg.NATSSubject)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
	}

	return &Publisher{
		nc:       nc,
		subject:  cfg.NATSSubject,
		logger:   logger,
		recorder: recorder,
	}, nil
}

func (p *Publisher) Publish(r types.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	p.logger.Debug("published reading", "subject", p.subject, "timestamp", r.Timestamp)
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
			p.logger.Error("nats publish failed", "subject", p.subject, "timestamp", r.Timestamp, "error", err)
		}
	})
}

func (p *Publisher) IsConnected() bool {
	return p.nc.IsConnected()
}

// Close flushes pending publishes and closes the connection.
func (p *Publisher) Close() {
	if p.nc.IsClosed() {
		return
	}
	if p.nc.IsConnected() {
		if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
			p.logger.Warn("nats flush before close", "error", err)
		}
	}
	p.nc.Close()
}
