package rules

import (
	"example.com/agrosolutions/services/alerts/internal/telemetry"
)

// Risk thresholds agreed with the agronomy team
const (
	droughtMoistureThreshold = 30.0
	pestTemperatureThreshold = 28.0
	pestHumidityThreshold    = 80.0
	heavyRainThresholdMm     = 50.0
	siloCo2ThresholdPpm      = 3000.0
	soilPhHealthyMin         = 5.0
	soilPhHealthyMax         = 8.0
)

// Spec is an instantaneous risk predicate over a single reading. Each
// predicate answers for exactly one variant and is false for every other.
type Spec func(r telemetry.Reading) bool

// DroughtRisk reports dangerously low soil moisture
func DroughtRisk(r telemetry.Reading) bool {
	soil, ok := r.(telemetry.SoilReading)
	return ok && soil.SoilMoisturePercent < droughtMoistureThreshold
}

// PestRisk reports the hot-and-humid conditions pests thrive in
func PestRisk(r telemetry.Reading) bool {
	weather, ok := r.(telemetry.WeatherReading)
	return ok && weather.TemperatureC > pestTemperatureThreshold &&
		weather.HumidityPercent > pestHumidityThreshold
}

// HeavyRain reports an hourly rain accumulation above the flooding threshold
func HeavyRain(r telemetry.Reading) bool {
	weather, ok := r.(telemetry.WeatherReading)
	return ok && weather.RainMmLastHour > heavyRainThresholdMm
}

// SiloDanger reports CO2 concentration at a level hazardous to workers
func SiloDanger(r telemetry.Reading) bool {
	silo, ok := r.(telemetry.SiloReading)
	return ok && silo.Co2Ppm > siloCo2ThresholdPpm
}

// SoilPhAnomaly reports soil pH outside the healthy growing range
func SoilPhAnomaly(r telemetry.Reading) bool {
	soil, ok := r.(telemetry.SoilReading)
	return ok && (soil.SoilPh < soilPhHealthyMin || soil.SoilPh > soilPhHealthyMax)
}

// Persisted reports whether a bad condition held across an entire history
// window: true only when the window is non-empty and no reading in it
// contradicts the predicate. An empty window is insufficient evidence and
// yields false, never an alert.
func Persisted(history []telemetry.Reading, bad Spec) bool {
	if len(history) == 0 {
		return false
	}
	for _, r := range history {
		if !bad(r) {
			return false
		}
	}
	return true
}
