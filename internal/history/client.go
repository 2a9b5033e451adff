package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/agrosolutions/services/alerts/config"
	"example.com/agrosolutions/services/alerts/internal/telemetry"
)

// ErrIntegration wraps transport failures talking to the history API
var ErrIntegration = errors.New("history integration failure")

// Client is the telemetry history collaborator. Register fails loudly so the
// caller can decide how much it cares; Query degrades to an empty window
// because missing history is insufficient evidence, not an error.
type Client interface {
	Register(ctx context.Context, reading telemetry.Reading) error
	Query(ctx context.Context, deviceID string, window time.Duration) ([]telemetry.Reading, error)
}

// HTTPClient talks to the history service over HTTP with bearer-token auth
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenSource
	maxRetries int
}

// NewHTTPClient creates a history client from configuration. Token auth is
// skipped when no token URL is configured.
func NewHTTPClient(cfg config.HistoryConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	httpClient := &http.Client{Timeout: timeout}

	var tokens *tokenSource
	if cfg.TokenURL != "" {
		tokens = &tokenSource{
			tokenURL:     cfg.TokenURL,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			httpClient:   httpClient,
		}
	}

	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		maxRetries: maxRetries,
	}
}

// readingDocument is the snake_case registration payload the history API expects
type readingDocument struct {
	FieldID    uuid.UUID              `json:"field_id"`
	SensorID   string                 `json:"sensor_id"`
	TypeSensor string                 `json:"type_sensor"`
	TimeStamp  time.Time              `json:"time_stamp"`
	Data       map[string]interface{} `json:"data"`
}

// Register forwards a normalized reading to the history service. Transient
// failures are retried with exponential backoff before giving up with an
// ErrIntegration.
func (c *HTTPClient) Register(ctx context.Context, reading telemetry.Reading) error {
	meta := reading.Meta()
	doc := readingDocument{
		FieldID:    meta.FieldID,
		SensorID:   meta.DeviceID,
		TypeSensor: string(reading.Kind()),
		TimeStamp:  meta.Timestamp,
		Data:       dataPayload(reading),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(ErrIntegration, "marshaling reading: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return errors.Wrapf(ErrIntegration, "registering reading: %v", ctx.Err())
			}
		}

		lastErr = c.postReading(ctx, body)
		if lastErr == nil {
			log.Debug().Str("device_id", meta.DeviceID).Msg("Reading registered in history")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	return errors.Wrapf(ErrIntegration, "registering reading for device %s: %v", meta.DeviceID, lastErr)
}

func (c *HTTPClient) postReading(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/history", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retryableError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := fmt.Errorf("history API returned status %d", resp.StatusCode)
	if resp.StatusCode >= 500 {
		return retryableError{statusErr}
	}
	return statusErr
}

// Query returns the device's readings inside the window, oldest data the API
// has first. Any failure degrades to an empty window: unavailability means
// "no evidence", never an error for the caller.
func (c *HTTPClient) Query(ctx context.Context, deviceID string, window time.Duration) ([]telemetry.Reading, error) {
	startDate := time.Now().UTC().Add(-window).Format(time.RFC3339)
	endpoint := fmt.Sprintf("%s/api/history?sensor_id=%s&start_date=%s",
		c.baseURL, url.QueryEscape(deviceID), url.QueryEscape(startDate))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil
	}
	if err := c.authorize(ctx, req); err != nil {
		log.Warn().Err(err).Str("device_id", deviceID).Msg("History auth failed, returning empty window")
		return nil, nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("device_id", deviceID).Msg("History query failed, returning empty window")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("device_id", deviceID).Msg("History query rejected, returning empty window")
		return nil, nil
	}

	var items []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		log.Warn().Err(err).Str("device_id", deviceID).Msg("History response unreadable, returning empty window")
		return nil, nil
	}

	readings := make([]telemetry.Reading, 0, len(items))
	for _, item := range items {
		if reading, ok := readingFromItem(item, deviceID); ok {
			readings = append(readings, reading)
		}
	}

	log.Debug().Str("device_id", deviceID).Int("count", len(readings)).Msg("History window retrieved")
	return readings, nil
}

func (c *HTTPClient) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.bearer(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// dataPayload builds the variant data block for registration
func dataPayload(reading telemetry.Reading) map[string]interface{} {
	switch r := reading.(type) {
	case telemetry.SoilReading:
		return map[string]interface{}{
			"soil_moisture_percent": r.SoilMoisturePercent,
			"soil_ph":               r.SoilPh,
			"nutrients": map[string]interface{}{
				"nitrogen_mg_kg":   r.Nutrients.NitrogenMgKg,
				"phosphorus_mg_kg": r.Nutrients.PhosphorusMgKg,
				"potassium_mg_kg":  r.Nutrients.PotassiumMgKg,
			},
		}
	case telemetry.WeatherReading:
		return map[string]interface{}{
			"temp_celsius":      r.TemperatureC,
			"humidity_percent":  r.HumidityPercent,
			"rain_mm_last_hour": r.RainMmLastHour,
			"wind_speed_kmh":    r.WindSpeedKmh,
			"wind_direction":    r.WindDirection,
			"dew_point":         r.DewPointC,
		}
	case telemetry.SiloReading:
		return map[string]interface{}{
			"fill_level_percent": r.FillLevelPercent,
			"co2_ppm":            r.Co2Ppm,
			"avg_temp_celsius":   r.InternalTempC,
		}
	}
	return map[string]interface{}{}
}

// readingFromItem rebuilds a reading from a history API item. The API emits
// camelCase; the variant is recognized by its leaf fields since items carry
// no type discriminator.
func readingFromItem(item map[string]interface{}, fallbackDevice string) (telemetry.Reading, bool) {
	data, ok := item["data"].(map[string]interface{})
	if !ok {
		return nil, false
	}

	meta := telemetry.ReadingMeta{
		DeviceID:  itemString(item, "sensorId", fallbackDevice),
		Timestamp: itemTime(item, "timestamp"),
	}

	if _, ok := data["soilMoisturePercent"]; ok {
		return telemetry.SoilReading{
			ReadingMeta:         meta,
			SoilMoisturePercent: itemNumber(data, "soilMoisturePercent"),
			SoilPh:              itemNumber(data, "soilPh"),
		}, true
	}
	if _, ok := data["fillLevelPercent"]; ok {
		return telemetry.SiloReading{
			ReadingMeta:      meta,
			FillLevelPercent: itemNumber(data, "fillLevelPercent"),
			Co2Ppm:           itemNumber(data, "co2Ppm"),
			InternalTempC:    itemNumber(data, "internalTempCelsius"),
		}, true
	}
	if _, ok := data["tempCelsius"]; ok {
		return telemetry.WeatherReading{
			ReadingMeta:     meta,
			TemperatureC:    itemNumber(data, "tempCelsius"),
			HumidityPercent: itemNumber(data, "humidityPercent"),
			RainMmLastHour:  itemNumber(data, "rainMmLastHour"),
			WindSpeedKmh:    itemNumber(data, "windSpeedKmh"),
		}, true
	}

	return nil, false
}

func itemString(obj map[string]interface{}, key, fallback string) string {
	if s, ok := obj[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func itemNumber(obj map[string]interface{}, key string) float64 {
	if f, ok := obj[key].(float64); ok {
		return f
	}
	return 0
}

func itemTime(obj map[string]interface{}, key string) time.Time {
	if s, ok := obj[key].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// retryableError marks failures worth another attempt
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}
