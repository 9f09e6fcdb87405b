package alerts

import (
	"fmt"
	"math"
	"strconv"

	"airguard/internal/models"
)

// Notification titles
const (
	TitleHighAQI   = "⚠ High Pollution Alert"
	TitleHighNoise = "🔊 High Noise Alert"
	TitleResolved  = "✅ Alert Resolved"
)

// IsQuietHour reports whether hour is quiet: hour >= start or hour < end.
// The same test applies to every configuration, so 22 to 6 covers
// 22..23 and 0..5, and start == end makes the whole day quiet.
func IsQuietHour(hour, start, end int) bool {
	return hour >= start || hour < end
}

// AQIDecision is the result of the sustained-threshold rule
type AQIDecision struct {
	// Open is true when the window is non-empty and every sample exceeds
	// the threshold
	Open bool

	// Mean AQI over the window
	Mean float64

	Samples int
}

// EvaluateAQI applies the sustained-threshold rule to the trailing window.
// An empty window yields no decision.
func EvaluateAQI(cfg models.AlertConfig, window []models.Measurement) AQIDecision {
	if len(window) == 0 {
		return AQIDecision{}
	}

	sum := 0
	open := true
	for _, m := range window {
		if m.AQI <= cfg.AQIThreshold {
			open = false
		}
		sum += m.AQI
	}

	return AQIDecision{
		Open:    open,
		Mean:    float64(sum) / float64(len(window)),
		Samples: len(window),
	}
}

// ShouldResolveAQI is true once the most recent sample is back at or under
// the threshold. A single sample is enough, unlike opening.
func ShouldResolveAQI(cfg models.AlertConfig, latest *models.Measurement) bool {
	return latest != nil && latest.AQI <= cfg.AQIThreshold
}

// EvaluateNoise reports whether the latest sample breaches the noise
// threshold during quiet hours. Samples without a noise value are skipped.
func EvaluateNoise(cfg models.AlertConfig, hour int, latest *models.Measurement) bool {
	if !IsQuietHour(hour, cfg.QuietHoursStart, cfg.QuietHoursEnd) {
		return false
	}
	if latest == nil || latest.NoiseDB == nil {
		return false
	}
	return *latest.NoiseDB > cfg.NoiseThresholdDB
}

// ShouldResolveNoise is true when quiet hours are over or the latest noise
// value is back at or under the threshold.
func ShouldResolveNoise(cfg models.AlertConfig, hour int, latest *models.Measurement) bool {
	if !IsQuietHour(hour, cfg.QuietHoursStart, cfg.QuietHoursEnd) {
		return true
	}
	return latest != nil && latest.NoiseDB != nil && *latest.NoiseDB <= cfg.NoiseThresholdDB
}

// RoundAQI rounds a mean to the nearest integer for display
func RoundAQI(mean float64) int {
	return int(math.Round(mean))
}

// AQIMessage is the stored message of a high_aqi alert
func AQIMessage(cfg models.AlertConfig, mean float64) string {
	return fmt.Sprintf("AQI has exceeded %d continuously for %d minutes. Current average: %d",
		cfg.AQIThreshold, cfg.AQISustainedMinutes, RoundAQI(mean))
}

// AQIBody is the push body of a high_aqi alert
func AQIBody(city string, mean float64) string {
	return fmt.Sprintf("AQI has exceeded safe limits in %s. Current: %d", city, RoundAQI(mean))
}

// NoiseMessage is the stored message of a high_noise alert
func NoiseMessage(cfg models.AlertConfig, noise float64) string {
	return fmt.Sprintf("Noise level (%.1f dB) has exceeded %s dB during quiet hours (%02d:00 - %02d:00)",
		noise, formatDB(cfg.NoiseThresholdDB), cfg.QuietHoursStart, cfg.QuietHoursEnd)
}

// NoiseBody is the push body of a high_noise alert
func NoiseBody(noise float64) string {
	return fmt.Sprintf("Noise level (%.1f dB) exceeds safe limits during quiet hours.", noise)
}

// ResolvedBody is the push body sent when an alert clears
func ResolvedBody(alertType models.AlertType, city string) string {
	switch alertType {
	case models.AlertHighAQI:
		return fmt.Sprintf("Air quality in %s is back within safe limits.", city)
	case models.AlertHighNoise:
		return "Noise level is back within safe limits."
	default:
		return fmt.Sprintf("Alert %q has been resolved.", string(alertType))
	}
}

func formatDB(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
