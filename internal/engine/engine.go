// Package engine wires the metrics calculator, rule catalog and reconciler
// into the two events the surrounding application raises: a production record
// was saved, and a machine was created.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/plantpulse/insight-engine/internal/models"
	"github.com/plantpulse/insight-engine/internal/oee"
	"github.com/plantpulse/insight-engine/internal/reconcile"
	"github.com/plantpulse/insight-engine/internal/rules"
	"github.com/plantpulse/insight-engine/internal/store"
)

const defaultInsightTTL = 7 * 24 * time.Hour

type Config struct {
	// InsightTTL is how long a created or refreshed insight stays active
	// without further signal. Defaults to 7 days.
	InsightTTL time.Duration

	// Now is the injected clock. Defaults to the UTC wall clock.
	Now func() time.Time
}

type Engine struct {
	store   store.Store
	catalog *rules.Catalog
	ttl     time.Duration
	nowFn   func() time.Time
}

func New(st store.Store, catalog *rules.Catalog, cfg Config) *Engine {
	if cfg.InsightTTL <= 0 {
		cfg.InsightTTL = defaultInsightTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:   st,
		catalog: catalog,
		ttl:     cfg.InsightTTL,
		nowFn:   cfg.Now,
	}
}

// OnProductionRecordSaved computes metrics for the record, evaluates the rule
// catalog and reconciles the drafts against the machine's active insights.
// The record itself must already be committed; this step is best-effort and
// callers on the write path log the error instead of failing the save.
func (e *Engine) OnProductionRecordSaved(ctx context.Context, rec models.ShiftRecord, machine models.Machine) ([]models.Insight, error) {
	if oee.HasInputAnomalies(rec) {
		log.Printf("debug: clamping out-of-range quantities on record %s", rec.ID)
	}
	metrics := oee.Compute(rec, machine.Capacity)

	drafts := e.catalog.Evaluate(rules.Context{
		Record:  rec,
		Metrics: metrics,
		Machine: machine,
	})
	if len(drafts) == 0 {
		return nil, nil
	}

	active, err := e.store.LoadActiveInsights(ctx, machine.ID)
	if err != nil {
		return nil, fmt.Errorf("load active insights: %w", err)
	}

	now := e.nowFn()
	plan := reconcile.Reconcile(now, drafts, active, e.ttl)
	return e.applyPlan(ctx, now, machine, plan)
}

// OnMachineCreated persists the fixed onboarding rule set for a newly created
// machine. No reconciliation: the machine has no prior insights.
func (e *Engine) OnMachineCreated(ctx context.Context, machine models.Machine) ([]models.Insight, error) {
	now := e.nowFn()
	var created []models.Insight
	for _, d := range rules.Onboarding(machine) {
		ins, err := e.store.CreateInsight(ctx, draftInput(d, now, e.ttl))
		if err != nil {
			if err == store.ErrConflict {
				// Duplicate creation event; the onboarding insight is
				// already there.
				continue
			}
			return created, fmt.Errorf("persist onboarding insight %s: %w", d.Type, err)
		}
		created = append(created, ins)
	}
	return created, nil
}

// ListInsights is the dashboard read path.
func (e *Engine) ListInsights(ctx context.Context, f store.InsightFilter) ([]models.Insight, error) {
	return e.store.ListInsights(ctx, f)
}

func (e *Engine) applyPlan(ctx context.Context, now time.Time, machine models.Machine, plan reconcile.Plan) ([]models.Insight, error) {
	var out []models.Insight

	for _, r := range plan.ToRefresh {
		ins, err := e.store.RefreshInsight(ctx, store.InsightRefresh{
			ID:             r.ID,
			Severity:       r.Patch.Severity,
			Description:    r.Patch.Description,
			Recommendation: r.Patch.Recommendation,
			Confidence:     r.Patch.Confidence,
			Impact:         r.Patch.Impact,
			ExpiresAt:      r.Patch.ExpiresAt,
			UpdatedAt:      r.Patch.UpdatedAt,
		})
		if err != nil {
			if err == store.ErrNotFound {
				// Terminalized between load and refresh; drop it.
				log.Printf("insight %s no longer active, refresh dropped", r.ID)
				continue
			}
			return out, fmt.Errorf("refresh insight %s: %w", r.ID, err)
		}
		out = append(out, ins)
	}

	for _, d := range plan.ToCreate {
		ins, err := e.store.CreateInsight(ctx, draftInput(d, now, e.ttl))
		if err != nil {
			if err == store.ErrConflict {
				ins, err = e.refreshAfterConflict(ctx, now, machine, d)
				if err != nil {
					log.Printf("conflict retry for %s insight failed: %v", d.Type, err)
					continue
				}
				out = append(out, ins)
				continue
			}
			return out, fmt.Errorf("create %s insight: %w", d.Type, err)
		}
		out = append(out, ins)
	}

	return out, nil
}

// refreshAfterConflict handles the losing side of two concurrent creates for
// the same (machine, type): reload the winner and refresh it instead.
func (e *Engine) refreshAfterConflict(ctx context.Context, now time.Time, machine models.Machine, d rules.Draft) (models.Insight, error) {
	active, err := e.store.LoadActiveInsights(ctx, machine.ID)
	if err != nil {
		return models.Insight{}, err
	}
	for _, ins := range active {
		if ins.Type != d.Type {
			continue
		}
		return e.store.RefreshInsight(ctx, store.InsightRefresh{
			ID:             ins.ID,
			Severity:       d.Severity,
			Description:    d.Description,
			Recommendation: d.Recommendation,
			Confidence:     d.Confidence,
			Impact:         d.Impact,
			ExpiresAt:      now.Add(e.ttl),
			UpdatedAt:      now,
		})
	}
	return models.Insight{}, fmt.Errorf("no active %s insight found after conflict", d.Type)
}

func draftInput(d rules.Draft, now time.Time, ttl time.Duration) store.InsightInput {
	in := store.InsightInput{
		MachineID:      d.MachineID,
		Type:           d.Type,
		Severity:       d.Severity,
		Title:          d.Title,
		Description:    d.Description,
		Recommendation: d.Recommendation,
		Confidence:     d.Confidence,
		Impact:         d.Impact,
		CreatedAt:      now,
	}
	if !d.NoExpiry {
		expires := now.Add(ttl)
		in.ExpiresAt = &expires
	}
	return in
}
