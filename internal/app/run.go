package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"airdetect/internal/config"
	"airdetect/internal/httpapi"
	"airdetect/internal/ingest"
	"airdetect/internal/metrics"
	airquality "airdetect/internal/modules/airquality"
	"airdetect/internal/mqtt"
	"airdetect/internal/natspub"
)

const sinkConnectTimeout = 5 * time.Second

// Run wires the components and blocks until ctx is cancelled or the HTTP
// server fails. An unavailable datagram port or broker does not stop the
// service; /healthz reports the ingestion state.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"logFormat", cfg.LogFormat,
		"httpAddr", cfg.HTTPAddr,
		"udpBind", cfg.UDPBind,
		"udpPort", cfg.UDPPort,
		"udpReadBuffer", cfg.UDPReadBuffer,
		"historySize", cfg.HistorySize,
		"subscriberBuffer", cfg.SubscriberBuffer,
		"mqttBroker", cfg.MQTTBroker,
		"mqttTopic", cfg.MQTTTopic,
		"natsURL", cfg.NATSURL,
		"natsSubject", cfg.NATSSubject,
	)

	m := metrics.New()
	mux := http.NewServeMux()
	feature := airquality.RegisterFeature(mux, cfg, m, logger)

	listener := ingest.NewListener(ingest.Config{
		Bind:           cfg.UDPBind,
		Port:           cfg.UDPPort,
		ReadBufferSize: cfg.UDPReadBuffer,
	}, feature.Service, logger, m)
	httpapi.RegisterRoutes(mux, listener, feature.Repository, feature.Hub, m)

	g, gctx := errgroup.WithContext(ctx)
	var sinks sinkGroup

	var mqttPublisher *mqtt.Publisher
	if cfg.MQTTBroker != "" {
		mqttPublisher = mqtt.NewPublisher(cfg, logger, m)
		connectCtx, connectCancel := context.WithTimeout(gctx, sinkConnectTimeout)
		if err := mqttPublisher.Connect(connectCtx); err != nil {
			logger.Warn("mqtt connection failed (will keep retrying)", "error", err)
		}
		connectCancel()

		sub, err := feature.Hub.Subscribe("mqtt", cfg.SubscriberBuffer)
		if err != nil {
			return err
		}
		sinks.Go(gctx, func(ctx context.Context) { mqttPublisher.Run(ctx, sub) })
	}

	var natsPublisher *natspub.Publisher
	if cfg.NATSURL != "" {
		p, err := natspub.Connect(cfg, logger, m)
		if err != nil {
			logger.Warn("nats unavailable (continuing without it)", "error", err)
		} else {
			natsPublisher = p
			sub, err := feature.Hub.Subscribe("nats", cfg.SubscriberBuffer)
			if err != nil {
				return err
			}
			sinks.Go(gctx, func(ctx context.Context) { natsPublisher.Run(ctx, sub) })
		}
	}

	// sinks are subscribed first so they see the first accepted reading
	if err := listener.Start(gctx); err != nil {
		logger.Error("ingestion unavailable (continuing without it)", "error", err)
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		if err := listener.Stop(cfg.ShutdownTimeout); err != nil {
			logger.Error("udp listener stop", "error", err)
		}
		// closes every live subscription, including open WebSocket clients
		feature.Hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("http shutting down")
		err := srv.Shutdown(shutdownCtx)

		// sinks drain what was buffered before the hub closed
		if !sinks.Wait(cfg.ShutdownTimeout) {
			logger.Warn("sinks still draining at shutdown timeout")
		}
		if mqttPublisher != nil {
			mqttPublisher.Disconnect()
		}
		if natsPublisher != nil {
			natsPublisher.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
