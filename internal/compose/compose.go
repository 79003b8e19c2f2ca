// Package compose renders the plain-text body for a scheduled delivery.
// Rendering is pure: no I/O, no error path. A missing reading field is
// substituted with a placeholder rather than failing the dispatch.
package compose

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/skycourier/skycourier/internal/domain/model"
	"github.com/skycourier/skycourier/internal/weather"
)

const placeholder = "n/a"

// Render produces the fixed-layout message body for a schedule and its
// weather reading. A nil reading renders placeholders throughout.
func Render(schedule model.Schedule, reading *weather.Reading) string {
	var b strings.Builder

	b.WriteString("Hello!\n\n")
	b.WriteString("This is your scheduled email with weather information.\n\n")
	b.WriteString("Current Weather Report:\n")
	b.WriteString("- Temperature: " + formatValue(readingTemperature(reading), "degrees Celsius") + "\n")
	b.WriteString("- Wind Speed: " + formatValue(readingWindSpeed(reading), "km/h") + "\n")
	b.WriteString("- Time: " + formatObservedAt(reading) + "\n")
	b.WriteString("- Location: " + formatLocation(reading) + "\n\n")
	b.WriteString("This email was scheduled for: " + schedule.DueAt + "\n")
	b.WriteString("Timezone: " + schedule.Timezone + "\n\n")
	b.WriteString("Best regards,\nSkycourier\n")

	return b.String()
}

func readingTemperature(r *weather.Reading) *float64 {
	if r == nil {
		return nil
	}
	return &r.TemperatureC
}

func readingWindSpeed(r *weather.Reading) *float64 {
	if r == nil {
		return nil
	}
	return &r.WindSpeedKPH
}

func formatValue(v *float64, unit string) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return placeholder
	}
	return fmt.Sprintf("%.1f %s", *v, unit)
}

func formatObservedAt(r *weather.Reading) string {
	if r == nil || r.ObservedAt.IsZero() {
		return placeholder
	}
	return r.ObservedAt.UTC().Format(time.RFC3339)
}

func formatLocation(r *weather.Reading) string {
	if r == nil {
		return placeholder
	}
	return fmt.Sprintf("Latitude %.6f, Longitude %.6f", r.Latitude, r.Longitude)
}
