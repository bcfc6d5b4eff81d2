// Package reconcile turns rule drafts into a create/refresh plan against the
// currently active insights, preserving the one-active-insight-per-
// (machine, type) invariant. It is pure: storage is the caller's concern.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/plantpulse/insight-engine/internal/models"
	"github.com/plantpulse/insight-engine/internal/rules"
)

// Plan is the outcome of one reconciliation pass.
type Plan struct {
	ToCreate  []rules.Draft
	ToRefresh []Refresh
}

// Refresh updates an active insight in place without touching its status.
type Refresh struct {
	ID    uuid.UUID
	Patch Patch
}

type Patch struct {
	Severity       models.InsightSeverity
	Description    string
	Recommendation string
	Confidence     float64
	Impact         *models.MetricsImpact
	ExpiresAt      time.Time
	UpdatedAt      time.Time
}

type key struct {
	machine string
	typ     models.InsightType
}

func keyFor(machineID *uuid.UUID, typ models.InsightType) key {
	k := key{typ: typ}
	if machineID != nil {
		k.machine = machineID.String()
	}
	return k
}

var severityRank = map[models.InsightSeverity]int{
	models.SeverityLow:      1,
	models.SeverityMedium:   2,
	models.SeverityHigh:     3,
	models.SeverityCritical: 4,
}

// Reconcile decides, for each draft, whether to create a new active insight
// or refresh an existing one. When two drafts in the same batch share a
// (machine, type) key, the more severe one wins (confidence breaks ties), so
// the outcome does not depend on rule order.
func Reconcile(now time.Time, drafts []rules.Draft, active []models.Insight, ttl time.Duration) Plan {
	byKey := make(map[key]models.Insight, len(active))
	for _, ins := range active {
		if ins.Status != models.InsightStatusActive {
			continue
		}
		byKey[keyFor(ins.MachineID, ins.Type)] = ins
	}

	winners := map[key]rules.Draft{}
	order := make([]key, 0, len(drafts))
	for _, d := range drafts {
		k := keyFor(d.MachineID, d.Type)
		current, seen := winners[k]
		if !seen {
			winners[k] = d
			order = append(order, k)
			continue
		}
		if stronger(d, current) {
			winners[k] = d
		}
	}

	var plan Plan
	for _, k := range order {
		d := winners[k]
		existing, ok := byKey[k]
		if !ok {
			plan.ToCreate = append(plan.ToCreate, d)
			continue
		}
		plan.ToRefresh = append(plan.ToRefresh, Refresh{
			ID: existing.ID,
			Patch: Patch{
				Severity:       d.Severity,
				Description:    d.Description,
				Recommendation: d.Recommendation,
				Confidence:     d.Confidence,
				Impact:         d.Impact,
				ExpiresAt:      now.Add(ttl),
				UpdatedAt:      now,
			},
		})
	}
	return plan
}

func stronger(a, b rules.Draft) bool {
	if severityRank[a.Severity] != severityRank[b.Severity] {
		return severityRank[a.Severity] > severityRank[b.Severity]
	}
	return a.Confidence > b.Confidence
}
