package airquality

import (
	"log/slog"
	"net/http"

	"airdetect/internal/config"
	"airdetect/internal/metrics"
	"airdetect/internal/modules/airquality/controller"
	"airdetect/internal/modules/airquality/live"
	"airdetect/internal/modules/airquality/repository"
	"airdetect/internal/modules/airquality/service"
	"airdetect/internal/modules/airquality/types"
	"airdetect/internal/pubsub"
)

// Feature is the wired air-quality module. Service handles datagrams for the
// ingestion listener; Hub is where live sinks subscribe.
type Feature struct {
	Repository repository.HistoryRepository
	Hub        *pubsub.Hub[types.Reading]
	Service    *service.Service
}

func RegisterFeature(mux *http.ServeMux, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) *Feature {
	historyRepository := repository.NewRepository(cfg.HistorySize)
	hub := pubsub.NewHub[types.Reading](logger, m)
	svc := service.NewService(historyRepository, hub, logger, service.WithMetrics(m))

	controller.NewAirQualityController(historyRepository).RegisterRoutes(mux)
	live.NewHandler(hub, cfg.SubscriberBuffer, logger).RegisterRoutes(mux)

	return &Feature{
		Repository: historyRepository,
		Hub:        hub,
		Service:    svc,
	}
}
