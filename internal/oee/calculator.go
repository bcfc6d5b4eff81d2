// Package oee derives standardized efficiency metrics from a shift record.
package oee

import (
	"math"

	"github.com/plantpulse/insight-engine/internal/models"
)

// Compute converts one shift record plus the machine's hourly capacity into
// OEE metrics. It is pure and total: out-of-range inputs (negative quantities,
// zero capacity) are clamped rather than rejected, because shift data arrives
// from manual entry and must not block downstream insight generation.
func Compute(rec models.ShiftRecord, capacityPerHour float64) models.OEEMetrics {
	good := nonNegative(float64(rec.GoodProduction))
	wasteFilm := nonNegative(float64(rec.WasteFilm))
	planned := nonNegative(float64(rec.PlannedTime))
	capacity := nonNegative(capacityPerHour)

	realTime := planned - float64(rec.TotalDowntimeMinutes())
	if realTime < 0 {
		realTime = 0
	}

	theoretical := realTime / 60 * capacity

	// Organic waste is tracked in mass, not unit count, so it is excluded
	// from the unit-based production total.
	totalProduction := good + wasteFilm

	var availability, performance, quality float64
	if planned > 0 {
		availability = realTime / planned * 100
	}
	if theoretical > 0 {
		performance = totalProduction / theoretical * 100
	}
	if totalProduction > 0 {
		quality = good / totalProduction * 100
	}
	overall := availability / 100 * performance / 100 * quality / 100 * 100

	return models.OEEMetrics{
		Availability: round2(availability),
		Performance:  round2(performance),
		Quality:      round2(quality),
		Overall:      round2(overall),
	}
}

// HasInputAnomalies reports whether the record carries quantities the
// calculator will clamp. Callers log these at debug level; they are never an
// error.
func HasInputAnomalies(rec models.ShiftRecord) bool {
	if rec.GoodProduction < 0 || rec.WasteFilm < 0 || rec.WasteOrganic < 0 ||
		rec.ProductionTarget < 0 || rec.PlannedTime < 0 {
		return true
	}
	for _, d := range rec.Downtime {
		if d.DurationMinutes < 0 {
			return true
		}
	}
	return false
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
