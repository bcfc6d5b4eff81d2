package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantpulse/insight-engine/internal/lifecycle"
	"github.com/plantpulse/insight-engine/internal/models"
	"github.com/plantpulse/insight-engine/internal/store"
)

func seedActive(t *testing.T, mem *store.MemoryStore, expiresAt *time.Time) models.Insight {
	t.Helper()
	machineID := uuid.New()
	ins, err := mem.CreateInsight(context.Background(), store.InsightInput{
		MachineID:  &machineID,
		Type:       models.InsightTypeMaintenance,
		Severity:   models.SeverityMedium,
		Title:      "Schedule first preventive check",
		Confidence: 90,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	return ins
}

func TestApply(t *testing.T) {
	mem := store.NewMemoryStore()
	ins := seedActive(t, mem, nil)
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	mgr := lifecycle.NewManager(mem, func() time.Time { return now })

	applied, err := mgr.Apply(context.Background(), ins.ID, "operator-7")

	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusApplied, applied.Status)
	require.NotNil(t, applied.AppliedBy)
	assert.Equal(t, "operator-7", *applied.AppliedBy)
	require.NotNil(t, applied.AppliedAt)
	assert.Equal(t, now, *applied.AppliedAt)
	assert.Equal(t, now, applied.UpdatedAt)
}

func TestDismiss(t *testing.T) {
	mem := store.NewMemoryStore()
	ins := seedActive(t, mem, nil)
	mgr := lifecycle.NewManager(mem, nil)

	dismissed, err := mgr.Dismiss(context.Background(), ins.ID, "operator-7")

	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusDismissed, dismissed.Status)
	assert.Nil(t, dismissed.AppliedBy)
}

func TestApplyIsIdempotentOnTerminal(t *testing.T) {
	mem := store.NewMemoryStore()
	ins := seedActive(t, mem, nil)
	mgr := lifecycle.NewManager(mem, nil)

	_, err := mgr.Dismiss(context.Background(), ins.ID, "operator-7")
	require.NoError(t, err)

	// Apply after dismiss: no error, state unchanged.
	got, err := mgr.Apply(context.Background(), ins.ID, "operator-8")
	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusDismissed, got.Status)

	// Dismiss again: still a no-op.
	got, err = mgr.Dismiss(context.Background(), ins.ID, "operator-8")
	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusDismissed, got.Status)
}

func TestApplyOverdueInsightExpiresInstead(t *testing.T) {
	mem := store.NewMemoryStore()
	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ins := seedActive(t, mem, &expiry)
	now := expiry.Add(48 * time.Hour)
	mgr := lifecycle.NewManager(mem, func() time.Time { return now })

	got, err := mgr.Apply(context.Background(), ins.ID, "operator-7")

	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusExpired, got.Status)
	assert.Nil(t, got.AppliedBy)
}

func TestApplyUnknownInsight(t *testing.T) {
	mgr := lifecycle.NewManager(store.NewMemoryStore(), nil)
	_, err := mgr.Apply(context.Background(), uuid.New(), "operator-7")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepExpired(t *testing.T) {
	mem := store.NewMemoryStore()
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	overdue := seedActive(t, mem, &past)
	fresh := seedActive(t, mem, &future)
	unbounded := seedActive(t, mem, nil)
	mgr := lifecycle.NewManager(mem, nil)

	n, err := mgr.SweepExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := mem.GetInsight(context.Background(), overdue.ID)
	assert.Equal(t, models.InsightStatusExpired, got.Status)
	got, _ = mem.GetInsight(context.Background(), fresh.ID)
	assert.Equal(t, models.InsightStatusActive, got.Status)
	got, _ = mem.GetInsight(context.Background(), unbounded.ID)
	assert.Equal(t, models.InsightStatusActive, got.Status)
}

func TestSweptInsightExcludedFromActive(t *testing.T) {
	mem := store.NewMemoryStore()
	past := time.Now().UTC().Add(-time.Hour)
	ins := seedActive(t, mem, &past)
	mgr := lifecycle.NewManager(mem, nil)

	_, err := mgr.SweepExpired(context.Background())
	require.NoError(t, err)

	active, err := mem.LoadActiveInsights(context.Background(), *ins.MachineID)
	require.NoError(t, err)
	assert.Empty(t, active)
}
