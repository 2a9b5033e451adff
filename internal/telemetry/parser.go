package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// notificationMarker is the top-level "type" value of enveloped payloads
// forwarded by the upstream notification fan-out.
const notificationMarker = "Notification"

// ParseError reports a payload that could not be normalized into a Reading.
// Parse failures are fatal for the message that carried the payload.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telemetry parse: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("telemetry parse: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser normalizes raw telemetry payloads into typed readings. The fleet's
// producers disagree on field casing, sensor-type encoding and enveloping, so
// the parser probes every dialect seen in the wild.
type Parser struct {
	typeCodes map[int]SensorKind
}

// DefaultTypeCodes is the one-based numbering current firmware emits
func DefaultTypeCodes() map[int]SensorKind {
	return map[int]SensorKind{
		1: KindSoil,
		2: KindWeather,
		3: KindSilo,
	}
}

// NewParser creates a parser with the given numeric sensor-type code table.
// The table is configuration, not inference: two numbering schemes exist in
// the field and the deployment decides which one applies.
func NewParser(typeCodes map[int]SensorKind) *Parser {
	if typeCodes == nil {
		typeCodes = DefaultTypeCodes()
	}
	return &Parser{typeCodes: typeCodes}
}

// Parse turns a raw message body into a typed Reading. It fails only when the
// payload is not valid JSON, has no data section, or declares a sensor type
// that maps to no known variant. Absent optional metrics default to zero.
func (p *Parser) Parse(raw []byte) (Reading, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{Reason: "payload is not valid JSON", Err: err}
	}

	// Enveloped notifications wrap the real payload in a "message" string
	if marker, ok := probeString(doc, "type", "Type"); ok && marker == notificationMarker {
		if inner, ok := probeString(doc, "message", "Message"); ok {
			if err := json.Unmarshal([]byte(inner), &doc); err != nil {
				return nil, &ParseError{Reason: "enveloped message is not valid JSON", Err: err}
			}
		}
	}

	data, ok := probeObject(doc, "data", "Data")
	if !ok {
		return nil, &ParseError{Reason: "payload has no data section"}
	}

	kind, err := p.resolveKind(doc)
	if err != nil {
		return nil, err
	}

	meta := ReadingMeta{
		DeviceID:  probeStringOr(doc, "Unknown", "sensor_id", "sensorId", "SensorId"),
		FieldID:   probeUUID(doc, "field_id", "fieldId", "FieldId"),
		Timestamp: probeTime(doc, "time_stamp", "timeStamp", "TimeStamp", "timestamp"),
	}

	switch kind {
	case KindSoil:
		return SoilReading{
			ReadingMeta:         meta,
			SoilMoisturePercent: probeNumber(data, "soil_moisture_percent", "soilMoisturePercent", "SoilMoisturePercent"),
			SoilPh:              probeNumber(data, "soil_ph", "soilPh", "SoilPh"),
			Nutrients:           parseNutrients(data),
		}, nil
	case KindWeather:
		return WeatherReading{
			ReadingMeta:     meta,
			TemperatureC:    probeNumber(data, "temp_celsius", "tempCelsius", "TempCelsius"),
			HumidityPercent: probeNumber(data, "humidity_percent", "humidityPercent", "HumidityPercent"),
			RainMmLastHour:  probeNumber(data, "rain_mm_last_hour", "rainMmLastHour", "RainMmLastHour"),
			WindSpeedKmh:    probeNumber(data, "wind_speed_kmh", "windSpeedKmh", "WindSpeedKmh"),
			WindDirection:   probeStringOr(data, "", "wind_direction", "windDirection", "WindDirection"),
			DewPointC:       probeNumber(data, "dew_point", "dewPoint", "DewPoint"),
		}, nil
	case KindSilo:
		return SiloReading{
			ReadingMeta:      meta,
			FillLevelPercent: probeNumber(data, "fill_level_percent", "fillLevelPercent", "FillLevelPercent"),
			Co2Ppm:           probeNumber(data, "co2_ppm", "co2Ppm", "Co2Ppm"),
			InternalTempC:    probeNumber(data, "avg_temp_celsius", "internal_temp_celsius", "internalTempCelsius", "AvgTempCelsius"),
		}, nil
	}

	return nil, &ParseError{Reason: fmt.Sprintf("unhandled sensor kind %q", kind)}
}

// resolveKind maps the sensor-type discriminator to a variant. The value may
// be a numeric code (JSON number or numeric string) resolved through the
// configured table, or a free-text label matched by localized keyword.
func (p *Parser) resolveKind(doc map[string]interface{}) (SensorKind, error) {
	value, ok := probe(doc, "type_sensor", "typeSensor", "TypeSensor", "sensor_type")
	if !ok {
		return "", &ParseError{Reason: "payload declares no sensor type"}
	}

	switch v := value.(type) {
	case float64:
		if kind, ok := p.typeCodes[int(v)]; ok {
			return kind, nil
		}
		return "", &ParseError{Reason: fmt.Sprintf("numeric sensor type %d not in code table", int(v))}
	case string:
		if code, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			if kind, ok := p.typeCodes[code]; ok {
				return kind, nil
			}
			return "", &ParseError{Reason: fmt.Sprintf("numeric sensor type %d not in code table", code)}
		}
		return matchKindLabel(v)
	}

	return "", &ParseError{Reason: fmt.Sprintf("sensor type has unsupported shape %T", value)}
}

// KindFromLabel resolves a free-text sensor label to its kind. Used when
// building code tables from configuration values.
func KindFromLabel(label string) (SensorKind, bool) {
	kind, err := matchKindLabel(label)
	return kind, err == nil
}

// matchKindLabel matches free-text sensor labels by substring, tolerating the
// localized spellings producers use.
func matchKindLabel(label string) (SensorKind, error) {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "solo"), strings.Contains(l, "soil"):
		return KindSoil, nil
	case strings.Contains(l, "meteorolog"), strings.Contains(l, "clima"), strings.Contains(l, "weather"):
		return KindWeather, nil
	case strings.Contains(l, "silo"):
		return KindSilo, nil
	}
	return "", &ParseError{Reason: fmt.Sprintf("unknown sensor type label %q", label)}
}

func parseNutrients(data map[string]interface{}) Nutrients {
	obj, ok := probeObject(data, "nutrients", "Nutrients")
	if !ok {
		return Nutrients{}
	}
	return Nutrients{
		NitrogenMgKg:   probeNumber(obj, "nitrogen_mg_kg", "nitrogenMgKg", "NitrogenMgKg"),
		PhosphorusMgKg: probeNumber(obj, "phosphorus_mg_kg", "phosphorusMgKg", "PhosphorusMgKg"),
		PotassiumMgKg:  probeNumber(obj, "potassium_mg_kg", "potassiumMgKg", "PotassiumMgKg"),
	}
}

// probe returns the first present key from the dialect list
func probe(obj map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if value, ok := obj[key]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func probeObject(obj map[string]interface{}, keys ...string) (map[string]interface{}, bool) {
	value, ok := probe(obj, keys...)
	if !ok {
		return nil, false
	}
	nested, ok := value.(map[string]interface{})
	return nested, ok
}

func probeString(obj map[string]interface{}, keys ...string) (string, bool) {
	value, ok := probe(obj, keys...)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func probeStringOr(obj map[string]interface{}, fallback string, keys ...string) string {
	if s, ok := probeString(obj, keys...); ok && s != "" {
		return s
	}
	return fallback
}

func probeNumber(obj map[string]interface{}, keys ...string) float64 {
	value, ok := probe(obj, keys...)
	if !ok {
		return 0
	}
	switch v := value.(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

func probeUUID(obj map[string]interface{}, keys ...string) uuid.UUID {
	if s, ok := probeString(obj, keys...); ok {
		if id, err := uuid.Parse(s); err == nil {
			return id
		}
	}
	return uuid.Nil
}

func probeTime(obj map[string]interface{}, keys ...string) time.Time {
	if s, ok := probeString(obj, keys...); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
