package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantpulse/insight-engine/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests. It
// enforces the same one-active-insight-per-(machine, type) constraint the
// Postgres partial unique index does.
type MemoryStore struct {
	mu       sync.RWMutex
	machines map[uuid.UUID]models.Machine
	records  map[uuid.UUID]models.ShiftRecord
	insights map[uuid.UUID]models.Insight
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		machines: map[uuid.UUID]models.Machine{},
		records:  map[uuid.UUID]models.ShiftRecord{},
		insights: map[uuid.UUID]models.Insight{},
	}
}

func (m *MemoryStore) InsertMachine(ctx context.Context, in MachineInput) (models.Machine, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	machine := models.Machine{
		ID:           in.ID,
		Name:         in.Name,
		Capacity:     in.Capacity,
		CapacityUnit: in.CapacityUnit,
		Status:       in.Status,
		Location:     in.Location,
		CreatedAt:    in.CreatedAt,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machines[machine.ID] = machine
	return machine, nil
}

func (m *MemoryStore) GetMachine(ctx context.Context, id uuid.UUID) (models.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[id]
	if !ok {
		return models.Machine{}, ErrNotFound
	}
	return machine, nil
}

func (m *MemoryStore) InsertShiftRecord(ctx context.Context, in ShiftRecordInput) (models.ShiftRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	rec := models.ShiftRecord{
		ID:               in.ID,
		MachineID:        in.MachineID,
		Shift:            in.Shift,
		StartTime:        in.StartTime,
		EndTime:          in.EndTime,
		Material:         in.Material,
		GoodProduction:   in.GoodProduction,
		WasteFilm:        in.WasteFilm,
		WasteOrganic:     in.WasteOrganic,
		ProductionTarget: in.ProductionTarget,
		PlannedTime:      in.PlannedTime,
		Downtime:         append([]models.DowntimeEntry(nil), in.Downtime...),
		CreatedAt:        in.CreatedAt,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *MemoryStore) GetShiftRecord(ctx context.Context, id uuid.UUID) (models.ShiftRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return models.ShiftRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) LoadActiveInsights(ctx context.Context, machineID uuid.UUID) ([]models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Insight
	for _, ins := range m.insights {
		if ins.Status != models.InsightStatusActive {
			continue
		}
		if ins.MachineID == nil || *ins.MachineID != machineID {
			continue
		}
		out = append(out, ins)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListInsights(ctx context.Context, f InsightFilter) ([]models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Insight
	for _, ins := range m.insights {
		if f.MachineID != nil && (ins.MachineID == nil || *ins.MachineID != *f.MachineID) {
			continue
		}
		if f.Status != nil && ins.Status != *f.Status {
			continue
		}
		out = append(out, ins)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetInsight(ctx context.Context, id uuid.UUID) (models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ins, ok := m.insights[id]
	if !ok {
		return models.Insight{}, ErrNotFound
	}
	return ins, nil
}

func (m *MemoryStore) CreateInsight(ctx context.Context, in InsightInput) (models.Insight, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.insights {
		if existing.Status != models.InsightStatusActive || existing.Type != in.Type {
			continue
		}
		if sameMachine(existing.MachineID, in.MachineID) {
			return models.Insight{}, ErrConflict
		}
	}
	ins := models.Insight{
		ID:             in.ID,
		MachineID:      in.MachineID,
		Type:           in.Type,
		Severity:       in.Severity,
		Title:          in.Title,
		Description:    in.Description,
		Recommendation: in.Recommendation,
		Confidence:     in.Confidence,
		Status:         models.InsightStatusActive,
		Impact:         in.Impact,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.CreatedAt,
		ExpiresAt:      in.ExpiresAt,
	}
	m.insights[ins.ID] = ins
	return ins, nil
}

func (m *MemoryStore) RefreshInsight(ctx context.Context, in InsightRefresh) (models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.insights[in.ID]
	if !ok || ins.Status != models.InsightStatusActive {
		return models.Insight{}, ErrNotFound
	}
	ins.Severity = in.Severity
	ins.Description = in.Description
	ins.Recommendation = in.Recommendation
	ins.Confidence = in.Confidence
	ins.Impact = in.Impact
	expires := in.ExpiresAt
	ins.ExpiresAt = &expires
	ins.UpdatedAt = in.UpdatedAt
	m.insights[in.ID] = ins
	return ins, nil
}

func (m *MemoryStore) UpdateInsightStatus(ctx context.Context, in InsightStatusUpdate) (models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.insights[in.ID]
	if !ok || ins.Status != models.InsightStatusActive {
		return models.Insight{}, ErrNotFound
	}
	ins.Status = in.Status
	ins.AppliedBy = in.AppliedBy
	ins.AppliedAt = in.AppliedAt
	ins.UpdatedAt = in.UpdatedAt
	m.insights[in.ID] = ins
	return ins, nil
}

func (m *MemoryStore) ExpireInsights(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired int64
	for id, ins := range m.insights {
		if ins.Status != models.InsightStatusActive || ins.ExpiresAt == nil {
			continue
		}
		if ins.ExpiresAt.Before(now) {
			ins.Status = models.InsightStatusExpired
			ins.UpdatedAt = now
			m.insights[id] = ins
			expired++
		}
	}
	return expired, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func sameMachine(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
