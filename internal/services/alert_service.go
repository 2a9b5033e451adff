package services

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"example.com/agrosolutions/services/alerts/internal/cache"
	"example.com/agrosolutions/services/alerts/internal/history"
	"example.com/agrosolutions/services/alerts/internal/metrics"
	"example.com/agrosolutions/services/alerts/internal/models"
	"example.com/agrosolutions/services/alerts/internal/notify"
	"example.com/agrosolutions/services/alerts/internal/rules"
	"example.com/agrosolutions/services/alerts/internal/search"
	"example.com/agrosolutions/services/alerts/internal/telemetry"
	"example.com/agrosolutions/services/alerts/internal/tracing"
)

// AlertStore is the persistence surface the pipeline needs
type AlertStore interface {
	Save(ctx context.Context, alert *models.Alert) error
	ExistsRecent(ctx context.Context, deviceID string, category models.AlertCategory, window time.Duration) (bool, error)
}

// AlertService runs the telemetry pipeline for one message: normalize,
// register in history, evaluate risk rules, then deduplicate, persist and
// notify each candidate alert.
type AlertService struct {
	parser        *telemetry.Parser
	historyClient history.Client
	evaluator     *rules.Evaluator
	store         AlertStore
	notifier      notify.Notifier
	elastic       *search.ElasticClient
	cache         *cache.RedisCache
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
	recipient     string
}

// NewAlertService wires the pipeline. elastic and redisCache may be nil; the
// pipeline then skips audit indexing and the cooldown fast path.
func NewAlertService(
	parser *telemetry.Parser,
	historyClient history.Client,
	evaluator *rules.Evaluator,
	store AlertStore,
	notifier notify.Notifier,
	elastic *search.ElasticClient,
	redisCache *cache.RedisCache,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
	recipient string,
) *AlertService {
	return &AlertService{
		parser:        parser,
		historyClient: historyClient,
		evaluator:     evaluator,
		store:         store,
		notifier:      notifier,
		elastic:       elastic,
		cache:         redisCache,
		metrics:       metricsCollector,
		tracer:        tracer,
		recipient:     recipient,
	}
}

// ProcessTelemetryMessage handles one raw queue message end to end. A non-nil
// return means the message must be redelivered; candidate-level failures are
// contained so one bad alert never takes down its siblings.
func (s *AlertService) ProcessTelemetryMessage(ctx context.Context, body []byte) error {
	var txn *newrelic.Transaction
	if s.tracer != nil {
		txn = s.tracer.StartTransaction("telemetry/process-message")
		defer s.tracer.EndTransaction(txn)
	}

	s.metrics.IncrementCounter(metrics.MessagesProcessed)

	reading, err := s.parser.Parse(body)
	if err != nil {
		s.metrics.IncrementCounter(metrics.ParseFailures)
		if s.tracer != nil {
			s.tracer.RecordError(txn, err)
		}
		log.Error().Err(err).Msg("Failed to parse telemetry payload")
		return err
	}

	meta := reading.Meta()
	log.Debug().
		Str("device_id", meta.DeviceID).
		Str("kind", string(reading.Kind())).
		Msg("Telemetry reading parsed")

	// History registration is best effort: losing one sample only weakens
	// future persistence checks, it never blocks alerting on this reading
	if err := s.historyClient.Register(ctx, reading); err != nil {
		s.metrics.IncrementCounter(metrics.HistoryRegisterFailures)
		log.Warn().Err(err).Str("device_id", meta.DeviceID).Msg("Failed to register reading in history")
	}

	candidates, err := s.evaluator.Evaluate(ctx, reading)
	if err != nil {
		s.metrics.IncrementCounter(metrics.EvaluationFaults)
		if s.tracer != nil {
			s.tracer.RecordError(txn, err)
		}
		log.Error().Err(err).Str("device_id", meta.DeviceID).Msg("Rule evaluation failed")
		return err
	}

	for _, alert := range candidates {
		s.handleCandidate(ctx, alert)
	}

	return nil
}

// handleCandidate takes one candidate alert through dedup, persistence,
// audit indexing and notification. Failures stay inside the candidate.
func (s *AlertService) handleCandidate(ctx context.Context, alert *models.Alert) {
	suppressed := s.shouldSuppress(ctx, alert)
	if suppressed {
		s.metrics.IncrementCounter(metrics.AlertsSuppressed)
		log.Info().
			Str("device_id", alert.DeviceID).
			Str("category", string(alert.Category)).
			Msg("Alert suppressed by cooldown")
		return
	}

	if alert.RecipientEmail == "" {
		alert.RecipientEmail = s.recipient
	}

	if err := s.store.Save(ctx, alert); err != nil {
		s.metrics.IncrementCounter(metrics.StorageFailures)
		log.Error().Err(err).
			Str("device_id", alert.DeviceID).
			Str("category", string(alert.Category)).
			Msg("Failed to persist alert")
		return
	}

	s.metrics.IncrementCounter(metrics.AlertsEmitted)

	if s.cache != nil && s.cache.Enabled() {
		cooldown := models.CooldownFor(alert.Severity)
		if err := s.cache.MarkAlerted(ctx, alert.DeviceID, alert.Category, cooldown); err != nil {
			log.Warn().Err(err).Str("device_id", alert.DeviceID).Msg("Failed to set cooldown key")
		}
	}

	if s.elastic != nil {
		if err := s.elastic.IndexAlert(ctx, alert); err != nil {
			log.Warn().Err(err).Str("alert_id", alert.ID.String()).Msg("Failed to index alert")
		}
	}

	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.metrics.IncrementCounter(metrics.NotifyFailures)
		log.Error().Err(err).Str("alert_id", alert.ID.String()).Msg("Failed to send alert notification")
		return
	}

	s.metrics.IncrementCounter(metrics.AlertsNotified)
}

// shouldSuppress checks the cooldown for the alert's device and category.
// The cache answers first when warm; the store is authoritative. A failed
// check raises the alert anyway: a duplicate beats a silently dropped alert.
func (s *AlertService) shouldSuppress(ctx context.Context, alert *models.Alert) bool {
	if s.cache != nil && s.cache.Enabled() {
		if hit, err := s.cache.RecentlyAlerted(ctx, alert.DeviceID, alert.Category); err == nil && hit {
			return true
		}
	}

	window := models.CooldownFor(alert.Severity)
	exists, err := s.store.ExistsRecent(ctx, alert.DeviceID, alert.Category, window)
	if err != nil {
		log.Warn().Err(err).
			Str("device_id", alert.DeviceID).
			Str("category", string(alert.Category)).
			Msg("Cooldown check failed, raising alert anyway")
		return false
	}

	return exists
}
