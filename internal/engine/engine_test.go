package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantpulse/insight-engine/internal/engine"
	"github.com/plantpulse/insight-engine/internal/models"
	"github.com/plantpulse/insight-engine/internal/rules"
	"github.com/plantpulse/insight-engine/internal/store"
)

type fixture struct {
	mem    *store.MemoryStore
	eng    *engine.Engine
	now    time.Time
	mach   models.Machine
	advFn  func(time.Duration)
	nowPtr *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	f := &fixture{mem: mem, now: now}
	f.nowPtr = &f.now
	f.advFn = func(d time.Duration) { f.now = f.now.Add(d) }
	f.eng = engine.New(mem, rules.NewCatalog(), engine.Config{
		Now: func() time.Time { return *f.nowPtr },
	})
	machine, err := mem.InsertMachine(context.Background(), store.MachineInput{
		Name:     "Extruder 3",
		Capacity: 1000,
		Status:   models.MachineStatusActive,
	})
	require.NoError(t, err)
	f.mach = machine
	return f
}

func strugglingRecord(machineID uuid.UUID) models.ShiftRecord {
	return models.ShiftRecord{
		ID:               uuid.New(),
		MachineID:        machineID,
		Shift:            "day",
		GoodProduction:   600,
		WasteFilm:        50,
		WasteOrganic:     30,
		ProductionTarget: 1000,
		PlannedTime:      480,
	}
}

func TestStrugglingShiftCreatesInsights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	insights, err := f.eng.OnProductionRecordSaved(ctx, strugglingRecord(f.mach.ID), f.mach)
	require.NoError(t, err)

	byType := map[models.InsightType]models.Insight{}
	for _, ins := range insights {
		byType[ins.Type] = ins
	}

	low, ok := byType[models.InsightTypeOptimization]
	require.True(t, ok, "expected a low-OEE insight")
	assert.Equal(t, models.SeverityCritical, low.Severity)
	assert.Equal(t, models.InsightStatusActive, low.Status)
	require.NotNil(t, low.ExpiresAt)
	assert.Equal(t, f.now.Add(7*24*time.Hour), *low.ExpiresAt)

	_, ok = byType[models.InsightTypePrediction]
	assert.True(t, ok, "expected a target-miss insight")
}

func TestHealthyShiftCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	machine := f.mach
	machine.Capacity = 125
	rec := models.ShiftRecord{
		ID:               uuid.New(),
		MachineID:        machine.ID,
		GoodProduction:   950,
		WasteFilm:        15,
		WasteOrganic:     5,
		ProductionTarget: 1000,
		PlannedTime:      480,
	}

	insights, err := f.eng.OnProductionRecordSaved(ctx, rec, machine)
	require.NoError(t, err)
	assert.Empty(t, insights)

	stored, err := f.mem.ListInsights(ctx, store.InsightFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestMachineCreatedEmitsOnboardingInsights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	insights, err := f.eng.OnMachineCreated(ctx, f.mach)
	require.NoError(t, err)
	require.Len(t, insights, 3)

	types := make([]models.InsightType, 0, 3)
	for _, ins := range insights {
		types = append(types, ins.Type)
		assert.Equal(t, models.InsightStatusActive, ins.Status)
		assert.Equal(t, 90.0, ins.Confidence)
		assert.Nil(t, ins.ExpiresAt, "onboarding insights carry no expiry")
	}
	assert.ElementsMatch(t, []models.InsightType{
		models.InsightTypeSetup,
		models.InsightTypeMonitoring,
		models.InsightTypeMaintenance,
	}, types)
}

func TestMachineCreatedTwiceDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.OnMachineCreated(ctx, f.mach)
	require.NoError(t, err)
	again, err := f.eng.OnMachineCreated(ctx, f.mach)
	require.NoError(t, err)
	assert.Empty(t, again)

	active, err := f.mem.LoadActiveInsights(ctx, f.mach.ID)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestRepeatedSavesRefreshInsteadOfDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.eng.OnProductionRecordSaved(ctx, strugglingRecord(f.mach.ID), f.mach)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	f.advFn(time.Hour)

	second, err := f.eng.OnProductionRecordSaved(ctx, strugglingRecord(f.mach.ID), f.mach)
	require.NoError(t, err)
	require.Len(t, second, len(first))

	firstByType := map[models.InsightType]models.Insight{}
	for _, ins := range first {
		firstByType[ins.Type] = ins
	}
	for _, ins := range second {
		prev := firstByType[ins.Type]
		assert.Equal(t, prev.ID, ins.ID, "same insight refreshed, not duplicated")
		assert.True(t, ins.UpdatedAt.After(prev.UpdatedAt))
		require.NotNil(t, ins.ExpiresAt)
		assert.True(t, ins.ExpiresAt.After(*prev.ExpiresAt), "expiry extended")
	}

	// Dedup invariant: at most one active insight per (machine, type).
	active, err := f.mem.LoadActiveInsights(ctx, f.mach.ID)
	require.NoError(t, err)
	seen := map[models.InsightType]int{}
	for _, ins := range active {
		seen[ins.Type]++
	}
	for typ, n := range seen {
		assert.Equal(t, 1, n, "type %s", typ)
	}
}

func TestDismissedInsightStaysDismissed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.eng.OnProductionRecordSaved(ctx, strugglingRecord(f.mach.ID), f.mach)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	dismissed, err := f.mem.UpdateInsightStatus(ctx, store.InsightStatusUpdate{
		ID:        first[0].ID,
		Status:    models.InsightStatusDismissed,
		UpdatedAt: f.now,
	})
	require.NoError(t, err)

	f.advFn(time.Hour)
	_, err = f.eng.OnProductionRecordSaved(ctx, strugglingRecord(f.mach.ID), f.mach)
	require.NoError(t, err)

	got, err := f.mem.GetInsight(ctx, dismissed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusDismissed, got.Status, "reconcile never touches terminal insights")

	// The recurring problem gets a fresh active insight of the same type.
	active, err := f.mem.LoadActiveInsights(ctx, f.mach.ID)
	require.NoError(t, err)
	count := 0
	for _, ins := range active {
		if ins.Type == dismissed.Type {
			count++
			assert.NotEqual(t, dismissed.ID, ins.ID)
		}
	}
	assert.Equal(t, 1, count)
}

// racingStore simulates a writer that commits an active insight between this
// engine's LoadActiveInsights and CreateInsight calls.
type racingStore struct {
	*store.MemoryStore
	hidden bool
}

func (r *racingStore) LoadActiveInsights(ctx context.Context, machineID uuid.UUID) ([]models.Insight, error) {
	if !r.hidden {
		r.hidden = true
		return nil, nil
	}
	return r.MemoryStore.LoadActiveInsights(ctx, machineID)
}

func TestConflictRetriesAsRefresh(t *testing.T) {
	mem := store.NewMemoryStore()
	racing := &racingStore{MemoryStore: mem}
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	eng := engine.New(racing, rules.NewCatalog(), engine.Config{
		Now: func() time.Time { return now },
	})
	ctx := context.Background()

	machine, err := mem.InsertMachine(ctx, store.MachineInput{Name: "Extruder 3", Capacity: 1000, Status: models.MachineStatusActive})
	require.NoError(t, err)

	// The "other writer" already holds the active slot for every type the
	// struggling record will trigger.
	machineID := machine.ID
	for _, typ := range []models.InsightType{models.InsightTypeOptimization, models.InsightTypePrediction} {
		_, err := mem.CreateInsight(ctx, store.InsightInput{
			MachineID:  &machineID,
			Type:       typ,
			Severity:   models.SeverityLow,
			Title:      "existing",
			Confidence: 51,
			CreatedAt:  now.Add(-time.Minute),
		})
		require.NoError(t, err)
	}

	insights, err := eng.OnProductionRecordSaved(ctx, strugglingRecord(machine.ID), machine)
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	active, err := mem.LoadActiveInsights(ctx, machine.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2, "losers refreshed the winners instead of duplicating")
	for _, ins := range active {
		assert.Equal(t, "existing", ins.Title, "winner row kept")
		assert.NotEmpty(t, ins.Description, "refresh replaced the description")
		assert.NotEqual(t, 51.0, ins.Confidence)
	}
}
