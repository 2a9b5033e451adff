package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// SensorKind discriminates the telemetry variants. The values double as the
// localized labels the fleet uses on the wire.
type SensorKind string

// Known sensor kinds
const (
	KindSoil    SensorKind = "solo"
	KindWeather SensorKind = "meteorologica"
	KindSilo    SensorKind = "silo"
)

// ReadingMeta carries the fields every reading has regardless of variant
type ReadingMeta struct {
	DeviceID  string    `json:"device_id"`
	FieldID   uuid.UUID `json:"field_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading is a normalized telemetry sample from one sensor at one instant.
// Exactly one variant implements it per sample; the variant is fixed at
// construction. The interface is sealed so evaluator dispatch stays a closed
// set.
type Reading interface {
	Meta() ReadingMeta
	Kind() SensorKind

	sealedReading()
}

// Nutrients holds soil nutrient concentrations in mg/kg
type Nutrients struct {
	NitrogenMgKg   float64 `json:"nitrogen_mg_kg"`
	PhosphorusMgKg float64 `json:"phosphorus_mg_kg"`
	PotassiumMgKg  float64 `json:"potassium_mg_kg"`
}

// SoilReading is a sample from a soil probe
type SoilReading struct {
	ReadingMeta
	SoilMoisturePercent float64   `json:"soil_moisture_percent"`
	SoilPh              float64   `json:"soil_ph"`
	Nutrients           Nutrients `json:"nutrients"`
}

func (r SoilReading) Meta() ReadingMeta { return r.ReadingMeta }
func (r SoilReading) Kind() SensorKind  { return KindSoil }
func (SoilReading) sealedReading()      {}

// WeatherReading is a sample from a weather station
type WeatherReading struct {
	ReadingMeta
	TemperatureC    float64 `json:"temp_celsius"`
	HumidityPercent float64 `json:"humidity_percent"`
	RainMmLastHour  float64 `json:"rain_mm_last_hour"`
	WindSpeedKmh    float64 `json:"wind_speed_kmh"`
	WindDirection   string  `json:"wind_direction"`
	DewPointC       float64 `json:"dew_point"`
}

func (r WeatherReading) Meta() ReadingMeta { return r.ReadingMeta }
func (r WeatherReading) Kind() SensorKind  { return KindWeather }
func (WeatherReading) sealedReading()      {}

// SiloReading is a sample from a grain silo monitor
type SiloReading struct {
	ReadingMeta
	FillLevelPercent float64 `json:"fill_level_percent"`
	Co2Ppm           float64 `json:"co2_ppm"`
	InternalTempC    float64 `json:"internal_temp_celsius"`
}

func (r SiloReading) Meta() ReadingMeta { return r.ReadingMeta }
func (r SiloReading) Kind() SensorKind  { return KindSilo }
func (SiloReading) sealedReading()      {}
