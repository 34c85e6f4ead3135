package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"airdetect/internal/metrics"
	"airdetect/internal/modules/airquality/parser"
	"airdetect/internal/modules/airquality/repository"
	"airdetect/internal/modules/airquality/types"
	"airdetect/internal/pubsub"
)

// Publisher fans an accepted reading out to live subscribers.
type Publisher interface {
	Publish(r types.Reading) pubsub.Delivery
}

// Service runs the per-datagram pipeline: parse, append to history, publish.
type Service struct {
	repository repository.HistoryRepository
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	last int64
}

type Option func(*Service)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repository repository.HistoryRepository, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repository: repository,
		publisher:  publisher,
		logger:     logger.With("component", "airquality"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest parses one payload. Accepted readings are appended to history before
// they are published, so any subscriber that sees a reading will also find it
// in the next snapshot. Rejected payloads have no side effects.
func (s *Service) Ingest(payload []byte) (types.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reading, err := parser.ParseAt(payload, s.now())
	if err != nil {
		return types.Reading{}, err
	}

	// wall clock steps backwards must not reorder history
	if reading.Timestamp < s.last {
		reading.Timestamp = s.last
	}
	s.last = reading.Timestamp

	s.repository.Append(reading)
	s.metrics.ReadingAccepted(s.repository.Len())

	if s.publisher != nil {
		d := s.publisher.Publish(reading)
		s.logger.Debug("reading accepted",
			"timestamp", reading.Timestamp,
			"delivered", d.Delivered,
			"dropped", d.Dropped,
		)
	}
	return reading, nil
}

// HandleDatagram adapts Ingest to the ingestion listener. Rejections are
// logged and dropped.
func (s *Service) HandleDatagram(payload []byte, from net.Addr) {
	if _, err := s.Ingest(payload); err != nil {
		reason := metrics.ReasonMalformedInput
		if errors.Is(err, parser.ErrFormatMismatch) {
			reason = metrics.ReasonFormatMismatch
		}
		s.metrics.ReadingRejected(reason)
		s.logger.Warn("datagram rejected",
			"reason", reason,
			"from", addrString(from),
			"size", len(payload),
			"error", err,
		)
		if s.logger.Enabled(context.Background(), slog.LevelDebug) {
			s.logger.Debug("rejected payload", "from", addrString(from), "payload", payloadPreview(payload))
		}
	}
}

// maxLoggedPayload caps how much of an untrusted datagram reaches the log.
const maxLoggedPayload = 128

func payloadPreview(payload []byte) string {
	if len(payload) <= maxLoggedPayload {
		return string(payload)
	}
	return string(payload[:maxLoggedPayload]) + "..."
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
