package rules

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/agrosolutions/services/alerts/internal/metrics"
	"example.com/agrosolutions/services/alerts/internal/models"
	"example.com/agrosolutions/services/alerts/internal/telemetry"
)

// ErrEvaluationFault wraps unexpected faults raised while running the risk
// rules. Callers must treat it as fatal for the message being processed.
var ErrEvaluationFault = errors.New("rule evaluation fault")

// Alert texts. The leading token is kept for operators used to the legacy
// prefix convention; deduplication matches on the category field.
const (
	droughtMessage    = "ALERTA DE SECA: Umidade abaixo de 30% por mais de 24h."
	droughtAction     = "Alerta de Seca"
	pestMessage       = "RISCO DE PRAGA: Condições de calor e umidade alta."
	pestAction        = "Risco de Praga"
	heavyRainMessage  = "CHUVA FORTE: Acumulado > 50mm."
	heavyRainAction   = "Monitoramento"
	siloDangerMessage = "PERIGO SILO: Concentração de CO2 acima de 3000 ppm."
	siloDangerAction  = "Ventilação Imediata"
	soilPhMessage     = "PH ANORMAL: pH do solo fora da faixa saudável (5.0-8.0)."
	soilPhAction      = "Análise de Solo"
)

// HistoryFetcher supplies a device's recent readings for persistence checks.
// Implementations return an empty slice when no evidence is available.
type HistoryFetcher interface {
	Query(ctx context.Context, deviceID string, window time.Duration) ([]telemetry.Reading, error)
}

// Evaluator runs the applicable risk rules for a reading and produces
// candidate alerts. Persistence-based rules consult the device's history
// over the configured window.
type Evaluator struct {
	history HistoryFetcher
	window  time.Duration
	metrics *metrics.Metrics
}

// NewEvaluator creates an evaluator with the given history collaborator and
// persistence look-back window. metricsCollector may be nil.
func NewEvaluator(history HistoryFetcher, window time.Duration, metricsCollector *metrics.Metrics) *Evaluator {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Evaluator{history: history, window: window, metrics: metricsCollector}
}

// Evaluate dispatches on the reading variant and returns the candidate
// alerts in a fixed order. A reading kind without rules yields zero alerts
// and a warning. Panics inside a rule surface as ErrEvaluationFault.
func (e *Evaluator) Evaluate(ctx context.Context, r telemetry.Reading) (alerts []*models.Alert, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			alerts = nil
			err = errors.Wrapf(ErrEvaluationFault, "panic evaluating %s reading: %v", r.Kind(), rec)
		}
	}()

	switch reading := r.(type) {
	case telemetry.SoilReading:
		return e.evaluateSoil(ctx, reading), nil
	case telemetry.WeatherReading:
		return e.evaluateWeather(ctx, reading), nil
	case telemetry.SiloReading:
		return e.evaluateSilo(reading), nil
	default:
		if e.metrics != nil {
			e.metrics.IncrementCounter(metrics.ReadingsUnknownKind)
		}
		log.Warn().
			Str("device_id", r.Meta().DeviceID).
			Str("kind", string(r.Kind())).
			Msg("No evaluation rules for reading kind")
		return nil, nil
	}
}

func (e *Evaluator) evaluateSoil(ctx context.Context, r telemetry.SoilReading) []*models.Alert {
	var alerts []*models.Alert

	if DroughtRisk(r) && e.persisted(ctx, r.DeviceID, DroughtRisk) {
		alerts = append(alerts, models.NewAlert(
			r.DeviceID, models.CategoryDrought, models.SeverityCritical,
			droughtMessage, droughtAction))
	}

	if SoilPhAnomaly(r) {
		alerts = append(alerts, models.NewAlert(
			r.DeviceID, models.CategorySoilHealth, models.SeverityWarning,
			soilPhMessage, soilPhAction))
	}

	return alerts
}

func (e *Evaluator) evaluateWeather(ctx context.Context, r telemetry.WeatherReading) []*models.Alert {
	var alerts []*models.Alert

	if HeavyRain(r) {
		alerts = append(alerts, models.NewAlert(
			r.DeviceID, models.CategoryHeavyRain, models.SeverityInfo,
			heavyRainMessage, heavyRainAction))
	}

	if PestRisk(r) && e.persisted(ctx, r.DeviceID, PestRisk) {
		alerts = append(alerts, models.NewAlert(
			r.DeviceID, models.CategoryPestRisk, models.SeverityWarning,
			pestMessage, pestAction))
	}

	return alerts
}

// evaluateSilo never fetches history: CO2 buildup is safety-critical and the
// alert must not wait on a persistence check.
func (e *Evaluator) evaluateSilo(r telemetry.SiloReading) []*models.Alert {
	if !SiloDanger(r) {
		return nil
	}
	return []*models.Alert{models.NewAlert(
		r.DeviceID, models.CategorySiloDanger, models.SeverityCritical,
		siloDangerMessage, siloDangerAction)}
}

// persisted runs a persistence check against the device's history. An
// unreachable or empty history is insufficient evidence: the condition is
// treated as not persisted rather than failing the evaluation.
func (e *Evaluator) persisted(ctx context.Context, deviceID string, bad Spec) bool {
	history, err := e.history.Query(ctx, deviceID, e.window)
	if err != nil {
		log.Warn().Err(err).
			Str("device_id", deviceID).
			Msg("History unavailable, treating condition as not persisted")
		return false
	}
	if len(history) == 0 {
		log.Debug().
			Str("device_id", deviceID).
			Msg("No history recorded for device, condition cannot persist")
	}
	return Persisted(history, bad)
}
