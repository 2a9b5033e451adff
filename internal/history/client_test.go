package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/agrosolutions/services/alerts/config"
	"example.com/agrosolutions/services/alerts/internal/telemetry"
)

func newClientFor(t *testing.T, server *httptest.Server) *HTTPClient {
	t.Helper()
	return NewHTTPClient(config.HistoryConfig{
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	})
}

func TestRegisterPostsSnakeCaseDocument(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/history", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newClientFor(t, server)

	reading := telemetry.SoilReading{
		ReadingMeta: telemetry.ReadingMeta{
			DeviceID:  "soil-001",
			Timestamp: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		},
		SoilMoisturePercent: 22.5,
		SoilPh:              6.1,
	}

	err := client.Register(context.Background(), reading)
	require.NoError(t, err)

	require.Equal(t, "soil-001", received["sensor_id"])
	require.Equal(t, "solo", received["type_sensor"])

	data := received["data"].(map[string]interface{})
	require.Equal(t, 22.5, data["soil_moisture_percent"])
	require.Equal(t, 6.1, data["soil_ph"])
}

func TestRegisterClientErrorFailsWithoutRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newClientFor(t, server)

	err := client.Register(context.Background(), telemetry.SiloReading{
		ReadingMeta: telemetry.ReadingMeta{DeviceID: "silo-1"},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIntegration))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx responses are not retried")
}

func TestRegisterServerErrorRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newClientFor(t, server)

	err := client.Register(context.Background(), telemetry.SiloReading{
		ReadingMeta: telemetry.ReadingMeta{DeviceID: "silo-1"},
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueryFailureYieldsEmptyWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClientFor(t, server)

	readings, err := client.Query(context.Background(), "soil-001", 24*time.Hour)
	require.NoError(t, err, "unavailable history is no evidence, not an error")
	require.Empty(t, readings)
}

func TestQueryParsesVariantsByLeafFields(t *testing.T) {
	items := []map[string]interface{}{
		{
			"sensorId":  "soil-001",
			"timestamp": "2026-08-30T08:00:00Z",
			"data":      map[string]interface{}{"soilMoisturePercent": 25.0, "soilPh": 6.5},
		},
		{
			"sensorId":  "soil-001",
			"timestamp": "2026-08-30T09:00:00Z",
			"data":      map[string]interface{}{"tempCelsius": 30.0, "humidityPercent": 85.0},
		},
		{
			"sensorId":  "soil-001",
			"timestamp": "2026-08-30T10:00:00Z",
			"data":      map[string]interface{}{"fillLevelPercent": 70.0, "co2Ppm": 2500.0},
		},
		{
			// Unrecognizable items are skipped, not errors
			"sensorId": "soil-001",
			"data":     map[string]interface{}{"mystery": 1.0},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "soil-001", r.URL.Query().Get("sensor_id"))
		require.NotEmpty(t, r.URL.Query().Get("start_date"))
		require.NoError(t, json.NewEncoder(w).Encode(items))
	}))
	defer server.Close()

	client := newClientFor(t, server)

	readings, err := client.Query(context.Background(), "soil-001", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, readings, 3)

	require.IsType(t, telemetry.SoilReading{}, readings[0])
	require.IsType(t, telemetry.WeatherReading{}, readings[1])
	require.IsType(t, telemetry.SiloReading{}, readings[2])

	soil := readings[0].(telemetry.SoilReading)
	require.Equal(t, 25.0, soil.SoilMoisturePercent)
	require.Equal(t, "soil-001", soil.DeviceID)
}

func TestBearerTokenIsFetchedAndReused(t *testing.T) {
	var tokenCalls, apiCalls int32

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		require.Equal(t, "alerts-service", r.FormValue("client_id"))
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"expires_in":   300,
		}))
	}))
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer apiServer.Close()

	client := NewHTTPClient(config.HistoryConfig{
		BaseURL:      apiServer.URL,
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		TokenURL:     tokenServer.URL,
		ClientID:     "alerts-service",
		ClientSecret: "secret",
	})

	reading := telemetry.SiloReading{ReadingMeta: telemetry.ReadingMeta{DeviceID: "silo-1"}}
	require.NoError(t, client.Register(context.Background(), reading))
	require.NoError(t, client.Register(context.Background(), reading))

	require.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
	require.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls), "token is cached until expiry")
}
