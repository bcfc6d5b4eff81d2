// Package lifecycle applies user actions and time-based expiry to insights,
// enforcing the insight state machine: active is the only live state, and
// applied, dismissed and expired are terminal.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/plantpulse/insight-engine/internal/models"
	"github.com/plantpulse/insight-engine/internal/store"
)

type Manager struct {
	store store.Store
	nowFn func() time.Time
}

// NewManager builds a lifecycle manager. now may be nil, in which case the
// wall clock is used; tests inject a fixed clock.
func NewManager(st store.Store, now func() time.Time) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{store: st, nowFn: now}
}

// Apply marks an active insight as accepted by the given user. Applying an
// insight that is already terminal is an idempotent no-op.
func (m *Manager) Apply(ctx context.Context, id uuid.UUID, userID string) (models.Insight, error) {
	return m.transition(ctx, id, models.InsightStatusApplied, userID)
}

// Dismiss marks an active insight as rejected. Idempotent on terminal states.
func (m *Manager) Dismiss(ctx context.Context, id uuid.UUID, userID string) (models.Insight, error) {
	return m.transition(ctx, id, models.InsightStatusDismissed, userID)
}

func (m *Manager) transition(ctx context.Context, id uuid.UUID, target models.InsightStatus, userID string) (models.Insight, error) {
	ins, err := m.store.GetInsight(ctx, id)
	if err != nil {
		return models.Insight{}, err
	}
	if ins.Status.Terminal() {
		log.Printf("insight %s already %s; %s by %s is a no-op", id, ins.Status, target, userID)
		return ins, nil
	}

	now := m.nowFn()

	// Lazy expiry: an overdue insight expires instead of accepting the
	// user action.
	if ins.ExpiresAt != nil && now.After(*ins.ExpiresAt) {
		expired, err := m.store.UpdateInsightStatus(ctx, store.InsightStatusUpdate{
			ID:        id,
			Status:    models.InsightStatusExpired,
			UpdatedAt: now,
		})
		if err != nil {
			return models.Insight{}, fmt.Errorf("expire overdue insight: %w", err)
		}
		log.Printf("insight %s expired before %s by %s", id, target, userID)
		return expired, nil
	}

	update := store.InsightStatusUpdate{
		ID:        id,
		Status:    target,
		UpdatedAt: now,
	}
	if target == models.InsightStatusApplied {
		update.AppliedBy = &userID
		update.AppliedAt = &now
	}
	updated, err := m.store.UpdateInsightStatus(ctx, update)
	if err != nil {
		// A concurrent writer terminalized the insight between the read
		// and the update; report the current state as a no-op.
		if err == store.ErrNotFound {
			return m.store.GetInsight(ctx, id)
		}
		return models.Insight{}, err
	}
	return updated, nil
}

// SweepExpired transitions every overdue active insight to expired and
// returns how many were affected. Intended to run on a periodic ticker.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireInsights(ctx, m.nowFn())
	if err != nil {
		return 0, fmt.Errorf("sweep expired insights: %w", err)
	}
	if n > 0 {
		log.Printf("expired %d overdue insights", n)
	}
	return n, nil
}
