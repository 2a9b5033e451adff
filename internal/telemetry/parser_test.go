package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseSoilSnakeCase(t *testing.T) {
	parser := NewParser(nil)

	fieldID := uuid.New()
	raw := []byte(`{
		"sensor_id": "soil-001",
		"field_id": "` + fieldID.String() + `",
		"type_sensor": 1,
		"time_stamp": "2026-08-30T10:00:00Z",
		"data": {
			"soil_moisture_percent": 22.5,
			"soil_ph": 6.1,
			"nutrients": {"nitrogen_mg_kg": 40, "phosphorus_mg_kg": 12, "potassium_mg_kg": 30}
		}
	}`)

	reading, err := parser.Parse(raw)
	require.NoError(t, err)

	soil, ok := reading.(SoilReading)
	require.True(t, ok)
	require.Equal(t, "soil-001", soil.DeviceID)
	require.Equal(t, fieldID, soil.FieldID)
	require.Equal(t, KindSoil, soil.Kind())
	require.Equal(t, 22.5, soil.SoilMoisturePercent)
	require.Equal(t, 6.1, soil.SoilPh)
	require.Equal(t, 40.0, soil.Nutrients.NitrogenMgKg)
	require.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), soil.Timestamp)
}

func TestParseWeatherCamelCaseStringCode(t *testing.T) {
	parser := NewParser(nil)

	raw := []byte(`{
		"sensorId": "wx-007",
		"typeSensor": "2",
		"timeStamp": "2026-08-30T11:30:00Z",
		"data": {
			"tempCelsius": 31.2,
			"humidityPercent": 85,
			"rainMmLastHour": 12,
			"windSpeedKmh": 18,
			"windDirection": "NE",
			"dewPoint": 24.5
		}
	}`)

	reading, err := parser.Parse(raw)
	require.NoError(t, err)

	weather, ok := reading.(WeatherReading)
	require.True(t, ok)
	require.Equal(t, "wx-007", weather.DeviceID)
	require.Equal(t, 31.2, weather.TemperatureC)
	require.Equal(t, 85.0, weather.HumidityPercent)
	require.Equal(t, "NE", weather.WindDirection)
	require.Equal(t, 24.5, weather.DewPointC)
}

func TestParseSiloZeroBasedTable(t *testing.T) {
	parser := NewParser(map[int]SensorKind{
		0: KindSoil,
		1: KindWeather,
		2: KindSilo,
	})

	raw := []byte(`{
		"SensorId": "silo-042",
		"TypeSensor": 2,
		"TimeStamp": "2026-08-30T12:00:00Z",
		"Data": {
			"FillLevelPercent": 70,
			"Co2Ppm": 3200,
			"AvgTempCelsius": 25
		}
	}`)

	reading, err := parser.Parse(raw)
	require.NoError(t, err)

	silo, ok := reading.(SiloReading)
	require.True(t, ok)
	require.Equal(t, "silo-042", silo.DeviceID)
	require.Equal(t, 3200.0, silo.Co2Ppm)
	require.Equal(t, 70.0, silo.FillLevelPercent)
	require.Equal(t, 25.0, silo.InternalTempC)
}

func TestParseKeywordLabels(t *testing.T) {
	parser := NewParser(nil)

	cases := map[string]SensorKind{
		"Sensor de Solo":        KindSoil,
		"estacao meteorologica": KindWeather,
		"clima":                 KindWeather,
		"weather station":       KindWeather,
		"Silo Graneleiro":       KindSilo,
	}

	for label, want := range cases {
		doc := map[string]interface{}{
			"sensor_id":   "dev-1",
			"type_sensor": label,
			"data":        map[string]interface{}{},
		}
		raw, err := json.Marshal(doc)
		require.NoError(t, err)

		reading, parseErr := parser.Parse(raw)
		require.NoError(t, parseErr, "label %q", label)
		require.Equal(t, want, reading.Kind(), "label %q", label)
	}
}

func TestParseEnvelopedNotification(t *testing.T) {
	parser := NewParser(nil)

	inner := `{
		"sensor_id": "soil-009",
		"type_sensor": "solo",
		"time_stamp": "2026-08-30T09:00:00Z",
		"data": {"soil_moisture_percent": 28}
	}`

	envelope, err := json.Marshal(map[string]interface{}{
		"type":    "Notification",
		"message": inner,
	})
	require.NoError(t, err)

	direct, err := parser.Parse([]byte(inner))
	require.NoError(t, err)

	enveloped, err := parser.Parse(envelope)
	require.NoError(t, err)

	require.Equal(t, direct, enveloped)
}

func TestParseDefaults(t *testing.T) {
	parser := NewParser(nil)

	before := time.Now().UTC()
	reading, err := parser.Parse([]byte(`{"type_sensor": "solo", "data": {}}`))
	require.NoError(t, err)
	after := time.Now().UTC()

	soil, ok := reading.(SoilReading)
	require.True(t, ok)
	require.Equal(t, "Unknown", soil.DeviceID)
	require.Equal(t, uuid.Nil, soil.FieldID)
	require.Zero(t, soil.SoilMoisturePercent)
	require.Zero(t, soil.SoilPh)
	require.False(t, soil.Timestamp.Before(before))
	require.False(t, soil.Timestamp.After(after))
}

func TestParseFailures(t *testing.T) {
	parser := NewParser(nil)

	cases := map[string]string{
		"malformed JSON":       `{not json`,
		"missing data section": `{"sensor_id": "x", "type_sensor": 1}`,
		"missing sensor type":  `{"sensor_id": "x", "data": {}}`,
		"code not in table":    `{"sensor_id": "x", "type_sensor": 9, "data": {}}`,
		"unknown label":        `{"sensor_id": "x", "type_sensor": "nuclear", "data": {}}`,
	}

	for name, raw := range cases {
		reading, err := parser.Parse([]byte(raw))
		require.Nil(t, reading, name)
		require.Error(t, err, name)

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr, name)
	}
}
