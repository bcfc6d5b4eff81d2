// Package rules holds the insight rule catalog: independent, order-free
// predicates over a metrics context, each optionally emitting a draft insight.
package rules

import (
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"

	"github.com/plantpulse/insight-engine/internal/models"
)

// Context is the input every rule sees: the raw shift record, the metrics
// derived from it, and the machine it belongs to.
type Context struct {
	Record  models.ShiftRecord
	Metrics models.OEEMetrics
	Machine models.Machine
}

// Draft is a candidate insight produced by a rule, not yet reconciled against
// existing state.
type Draft struct {
	MachineID      *uuid.UUID
	Type           models.InsightType
	Severity       models.InsightSeverity
	Title          string
	Description    string
	Recommendation string
	Confidence     float64
	Impact         *models.MetricsImpact
	NoExpiry       bool
}

// Rule inspects a context and returns a draft, or nil when its condition does
// not hold.
type Rule func(Context) *Draft

type Catalog struct {
	rules []Rule
}

// NewCatalog builds the baseline catalog. Extra rules, if any, are evaluated
// after the baseline ones; order never affects the drafts produced.
func NewCatalog(extra ...Rule) *Catalog {
	baseline := []Rule{
		lowOverallOEE,
		wasteRatio,
		targetMiss,
		excessDowntime,
	}
	return &Catalog{rules: append(baseline, extra...)}
}

// Evaluate runs every rule and collects the non-nil drafts. A panicking rule
// loses its contribution; the remaining rules still run.
func (c *Catalog) Evaluate(ctx Context) []Draft {
	drafts := make([]Draft, 0, len(c.rules))
	for _, rule := range c.rules {
		if d := safeEval(rule, ctx); d != nil {
			drafts = append(drafts, *d)
		}
	}
	return drafts
}

func safeEval(rule Rule, ctx Context) (draft *Draft) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rule evaluation panic on record %s: %v", ctx.Record.ID, r)
			draft = nil
		}
	}()
	return rule(ctx)
}

// Rule thresholds. Confidence is interpolated from 50 at the trigger
// threshold to 95 at the extreme, so a draft's confidence always reflects how
// far the metric sits past its trigger.
const (
	oeeThreshold   = 85.0
	oeeExtreme     = 0.0
	wasteThreshold = 0.05
	wasteExtreme   = 0.50
	missThreshold  = 0.85
	missExtreme    = 0.25
	downThreshold  = 0.15
	downExtreme    = 0.60
)

func lowOverallOEE(ctx Context) *Draft {
	overall := ctx.Metrics.Overall
	if overall >= oeeThreshold {
		return nil
	}

	severity := models.SeverityMedium
	switch {
	case overall < 50:
		severity = models.SeverityCritical
	case overall < 65:
		severity = models.SeverityHigh
	}

	// Availability as the weakest pillar points at downtime, a maintenance
	// problem; otherwise the loss is a process one.
	typ := models.InsightTypeOptimization
	if ctx.Metrics.Availability < ctx.Metrics.Performance && ctx.Metrics.Availability < ctx.Metrics.Quality {
		typ = models.InsightTypeMaintenance
	}

	return &Draft{
		MachineID: machineRef(ctx.Machine),
		Type:      typ,
		Severity:  severity,
		Title:     fmt.Sprintf("Low OEE on %s", ctx.Machine.Name),
		Description: fmt.Sprintf("Overall OEE is %.2f%% (availability %.2f%%, performance %.2f%%, quality %.2f%%), below the %.0f%% target.",
			overall, ctx.Metrics.Availability, ctx.Metrics.Performance, ctx.Metrics.Quality, oeeThreshold),
		Recommendation: "Review the weakest OEE pillar for this machine and schedule corrective action.",
		Confidence:     confidenceBetween(overall, oeeThreshold, oeeExtreme),
		Impact:         &models.MetricsImpact{OEE: round2(oeeThreshold - overall)},
	}
}

func wasteRatio(ctx Context) *Draft {
	good := math.Max(1, float64(ctx.Record.GoodProduction))
	waste := float64(ctx.Record.WasteFilm) + ctx.Record.WasteOrganic
	ratio := waste / good
	if ratio <= wasteThreshold {
		return nil
	}

	severity := models.SeverityMedium
	if ratio > 0.15 {
		severity = models.SeverityHigh
	}

	return &Draft{
		MachineID: machineRef(ctx.Machine),
		Type:      models.InsightTypeOptimization,
		Severity:  severity,
		Title:     fmt.Sprintf("High waste ratio on %s", ctx.Machine.Name),
		Description: fmt.Sprintf("Waste is %.1f%% of good production (%d film units, %.1f organic mass against %d good units).",
			ratio*100, ctx.Record.WasteFilm, ctx.Record.WasteOrganic, ctx.Record.GoodProduction),
		Recommendation: "Inspect material feed and machine settings; high waste usually traces to setup drift or material quality.",
		Confidence:     confidenceBetween(ratio, wasteThreshold, wasteExtreme),
		Impact:         &models.MetricsImpact{Quality: round2(ratio * 100)},
	}
}

func targetMiss(ctx Context) *Draft {
	attainment := float64(ctx.Record.GoodProduction) / math.Max(1, float64(ctx.Record.ProductionTarget))
	if attainment >= missThreshold {
		return nil
	}

	severity := models.SeverityLow
	switch {
	case attainment < 0.5:
		severity = models.SeverityHigh
	case attainment < 0.7:
		severity = models.SeverityMedium
	}

	return &Draft{
		MachineID: machineRef(ctx.Machine),
		Type:      models.InsightTypePrediction,
		Severity:  severity,
		Title:     fmt.Sprintf("Production target at risk on %s", ctx.Machine.Name),
		Description: fmt.Sprintf("Shift produced %d good units of a %d target (%.1f%% attainment). At this rate the period target will be missed.",
			ctx.Record.GoodProduction, ctx.Record.ProductionTarget, attainment*100),
		Recommendation: "Re-plan the remaining shifts or adjust the target; verify the capacity configured for this machine is realistic.",
		Confidence:     confidenceBetween(attainment, missThreshold, missExtreme),
		Impact:         &models.MetricsImpact{Performance: round2((missThreshold - attainment) * 100)},
	}
}

func excessDowntime(ctx Context) *Draft {
	planned := math.Max(1, float64(ctx.Record.PlannedTime))
	ratio := float64(ctx.Record.TotalDowntimeMinutes()) / planned
	if ratio <= downThreshold {
		return nil
	}

	severity := models.SeverityMedium
	if ratio > 0.3 {
		severity = models.SeverityHigh
	}

	return &Draft{
		MachineID: machineRef(ctx.Machine),
		Type:      models.InsightTypeAnomaly,
		Severity:  severity,
		Title:     fmt.Sprintf("Excess downtime on %s", ctx.Machine.Name),
		Description: fmt.Sprintf("Downtime consumed %.1f%% of planned time (%d of %d minutes).",
			ratio*100, ctx.Record.TotalDowntimeMinutes(), ctx.Record.PlannedTime),
		Recommendation: "Review the downtime reasons recorded for this shift and escalate the dominant one.",
		Confidence:     confidenceBetween(ratio, downThreshold, downExtreme),
		Impact:         &models.MetricsImpact{Availability: round2(ratio * 100)},
	}
}

// confidenceBetween maps how far value has moved from threshold toward
// extreme onto [50, 95]. At the threshold a rule has barely triggered (50);
// at the extreme the signal is unambiguous (95).
func confidenceBetween(value, threshold, extreme float64) float64 {
	span := extreme - threshold
	if span == 0 {
		return 50
	}
	frac := (value - threshold) / span
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return round2(50 + 45*frac)
}

func machineRef(m models.Machine) *uuid.UUID {
	id := m.ID
	return &id
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
