package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/plantpulse/insight-engine/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when creating an active insight would violate
	// the one-active-per-(machine, type) constraint. Callers retry as a
	// refresh.
	ErrConflict = errors.New("active insight already exists")
)

type Store interface {
	InsertMachine(ctx context.Context, in MachineInput) (models.Machine, error)
	GetMachine(ctx context.Context, id uuid.UUID) (models.Machine, error)
	InsertShiftRecord(ctx context.Context, in ShiftRecordInput) (models.ShiftRecord, error)
	GetShiftRecord(ctx context.Context, id uuid.UUID) (models.ShiftRecord, error)
	LoadActiveInsights(ctx context.Context, machineID uuid.UUID) ([]models.Insight, error)
	ListInsights(ctx context.Context, f InsightFilter) ([]models.Insight, error)
	GetInsight(ctx context.Context, id uuid.UUID) (models.Insight, error)
	CreateInsight(ctx context.Context, in InsightInput) (models.Insight, error)
	RefreshInsight(ctx context.Context, in InsightRefresh) (models.Insight, error)
	UpdateInsightStatus(ctx context.Context, in InsightStatusUpdate) (models.Insight, error)
	ExpireInsights(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}

type MachineInput struct {
	ID           uuid.UUID
	Name         string
	Capacity     float64
	CapacityUnit string
	Status       models.MachineStatus
	Location     string
	CreatedAt    time.Time
}

type ShiftRecordInput struct {
	ID               uuid.UUID
	MachineID        uuid.UUID
	Shift            string
	StartTime        time.Time
	EndTime          time.Time
	Material         string
	GoodProduction   int
	WasteFilm        int
	WasteOrganic     float64
	ProductionTarget int
	PlannedTime      int
	Downtime         []models.DowntimeEntry
	CreatedAt        time.Time
}

type InsightInput struct {
	ID             uuid.UUID
	MachineID      *uuid.UUID
	Type           models.InsightType
	Severity       models.InsightSeverity
	Title          string
	Description    string
	Recommendation string
	Confidence     float64
	Impact         *models.MetricsImpact
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

type InsightRefresh struct {
	ID             uuid.UUID
	Severity       models.InsightSeverity
	Description    string
	Recommendation string
	Confidence     float64
	Impact         *models.MetricsImpact
	ExpiresAt      time.Time
	UpdatedAt      time.Time
}

type InsightStatusUpdate struct {
	ID        uuid.UUID
	Status    models.InsightStatus
	AppliedBy *string
	AppliedAt *time.Time
	UpdatedAt time.Time
}

type InsightFilter struct {
	MachineID *uuid.UUID
	Status    *models.InsightStatus
	Limit     int
}

// PGStore persists machines, shift records and insights in Postgres. The
// insights table carries a partial unique index on (machine_id, type) WHERE
// status = 'active'; unique violations surface as ErrConflict.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertMachine(ctx context.Context, in MachineInput) (models.Machine, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO machines (id, name, capacity, capacity_unit, status, location, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	if _, err := s.db.ExecContext(ctx, query, in.ID, in.Name, in.Capacity, in.CapacityUnit, in.Status, in.Location, in.CreatedAt); err != nil {
		return models.Machine{}, fmt.Errorf("insert machine: %w", err)
	}
	return models.Machine{
		ID:           in.ID,
		Name:         in.Name,
		Capacity:     in.Capacity,
		CapacityUnit: in.CapacityUnit,
		Status:       in.Status,
		Location:     in.Location,
		CreatedAt:    in.CreatedAt,
	}, nil
}

func (s *PGStore) GetMachine(ctx context.Context, id uuid.UUID) (models.Machine, error) {
	const query = `
		SELECT name, capacity, capacity_unit, status, location, created_at
		FROM machines
		WHERE id=$1
	`
	m := models.Machine{ID: id}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.Name, &m.Capacity, &m.CapacityUnit, &m.Status, &m.Location, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Machine{}, ErrNotFound
		}
		return models.Machine{}, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

func (s *PGStore) InsertShiftRecord(ctx context.Context, in ShiftRecordInput) (models.ShiftRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	downtime, err := json.Marshal(in.Downtime)
	if err != nil {
		return models.ShiftRecord{}, fmt.Errorf("marshal downtime: %w", err)
	}
	query := `
		INSERT INTO shift_records
			(id, machine_id, shift, start_time, end_time, material,
			 good_production, waste_film, waste_organic, production_target,
			 planned_time, downtime, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	if _, err := s.db.ExecContext(ctx, query,
		in.ID, in.MachineID, in.Shift, in.StartTime, in.EndTime, in.Material,
		in.GoodProduction, in.WasteFilm, in.WasteOrganic, in.ProductionTarget,
		in.PlannedTime, downtime, in.CreatedAt); err != nil {
		return models.ShiftRecord{}, fmt.Errorf("insert shift record: %w", err)
	}
	return models.ShiftRecord{
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
		Downtime:         in.Downtime,
		CreatedAt:        in.CreatedAt,
	}, nil
}

func (s *PGStore) GetShiftRecord(ctx context.Context, id uuid.UUID) (models.ShiftRecord, error) {
	const query = `
		SELECT machine_id, shift, start_time, end_time, material,
		       good_production, waste_film, waste_organic, production_target,
		       planned_time, downtime, created_at
		FROM shift_records
		WHERE id=$1
	`
	rec := models.ShiftRecord{ID: id}
	var downtime []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.MachineID, &rec.Shift, &rec.StartTime, &rec.EndTime, &rec.Material,
		&rec.GoodProduction, &rec.WasteFilm, &rec.WasteOrganic, &rec.ProductionTarget,
		&rec.PlannedTime, &downtime, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ShiftRecord{}, ErrNotFound
		}
		return models.ShiftRecord{}, fmt.Errorf("get shift record: %w", err)
	}
	if len(downtime) > 0 {
		if err := json.Unmarshal(downtime, &rec.Downtime); err != nil {
			return models.ShiftRecord{}, fmt.Errorf("unmarshal downtime: %w", err)
		}
	}
	return rec, nil
}

const insightColumns = `id, machine_id, type, severity, title, description, recommendation,
	confidence, status, impact, created_at, updated_at, expires_at, applied_at, applied_by`

func (s *PGStore) LoadActiveInsights(ctx context.Context, machineID uuid.UUID) ([]models.Insight, error) {
	query := `
		SELECT ` + insightColumns + `
		FROM insights
		WHERE machine_id=$1 AND status='active'
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, machineID)
	if err != nil {
		return nil, fmt.Errorf("load active insights: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

func (s *PGStore) ListInsights(ctx context.Context, f InsightFilter) ([]models.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights`
	var (
		args  []interface{}
		where string
	)
	if f.MachineID != nil {
		args = append(args, *f.MachineID)
		where = fmt.Sprintf(" WHERE machine_id=$%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		if where == "" {
			where = fmt.Sprintf(" WHERE status=$%d", len(args))
		} else {
			where += fmt.Sprintf(" AND status=$%d", len(args))
		}
	}
	query += where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

func (s *PGStore) GetInsight(ctx context.Context, id uuid.UUID) (models.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights WHERE id=$1`
	row := s.db.QueryRowContext(ctx, query, id)
	ins, err := scanInsight(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Insight{}, ErrNotFound
		}
		return models.Insight{}, fmt.Errorf("get insight: %w", err)
	}
	return ins, nil
}

func (s *PGStore) CreateInsight(ctx context.Context, in InsightInput) (models.Insight, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	impact, err := marshalImpact(in.Impact)
	if err != nil {
		return models.Insight{}, err
	}
	query := `
		INSERT INTO insights
			(id, machine_id, type, severity, title, description, recommendation,
			 confidence, status, impact, created_at, updated_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11,$12)
	`
	if _, err := s.db.ExecContext(ctx, query,
		in.ID, in.MachineID, in.Type, in.Severity, in.Title, in.Description, in.Recommendation,
		in.Confidence, models.InsightStatusActive, impact, in.CreatedAt, in.ExpiresAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.Insight{}, ErrConflict
		}
		return models.Insight{}, fmt.Errorf("insert insight: %w", err)
	}
	return models.Insight{
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
	}, nil
}

func (s *PGStore) RefreshInsight(ctx context.Context, in InsightRefresh) (models.Insight, error) {
	impact, err := marshalImpact(in.Impact)
	if err != nil {
		return models.Insight{}, err
	}
	// Only active insights refresh; a concurrently terminalized insight is
	// reported as ErrNotFound and the caller drops the refresh.
	query := `
		UPDATE insights
		SET severity=$2,
		    description=$3,
		    recommendation=$4,
		    confidence=$5,
		    impact=$6,
		    expires_at=$7,
		    updated_at=$8
		WHERE id=$1 AND status='active'
		RETURNING ` + insightColumns
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.Severity, in.Description, in.Recommendation, in.Confidence, impact, in.ExpiresAt, in.UpdatedAt)
	ins, err := scanInsight(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Insight{}, ErrNotFound
		}
		return models.Insight{}, fmt.Errorf("refresh insight: %w", err)
	}
	return ins, nil
}

func (s *PGStore) UpdateInsightStatus(ctx context.Context, in InsightStatusUpdate) (models.Insight, error) {
	query := `
		UPDATE insights
		SET status=$2,
		    applied_by=$3,
		    applied_at=$4,
		    updated_at=$5
		WHERE id=$1 AND status='active'
		RETURNING ` + insightColumns
	row := s.db.QueryRowContext(ctx, query, in.ID, in.Status, in.AppliedBy, in.AppliedAt, in.UpdatedAt)
	ins, err := scanInsight(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Insight{}, ErrNotFound
		}
		return models.Insight{}, fmt.Errorf("update insight status: %w", err)
	}
	return ins, nil
}

func (s *PGStore) ExpireInsights(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE insights
		SET status='expired', updated_at=$1
		WHERE status='active' AND expires_at IS NOT NULL AND expires_at < $1
	`
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire insights: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func marshalImpact(impact *models.MetricsImpact) ([]byte, error) {
	if impact == nil {
		return nil, nil
	}
	b, err := json.Marshal(impact)
	if err != nil {
		return nil, fmt.Errorf("marshal impact: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInsight(row rowScanner) (models.Insight, error) {
	var (
		ins       models.Insight
		machineID sql.NullString
		impact    []byte
		expiresAt sql.NullTime
		appliedAt sql.NullTime
		appliedBy sql.NullString
	)
	err := row.Scan(
		&ins.ID, &machineID, &ins.Type, &ins.Severity, &ins.Title, &ins.Description,
		&ins.Recommendation, &ins.Confidence, &ins.Status, &impact,
		&ins.CreatedAt, &ins.UpdatedAt, &expiresAt, &appliedAt, &appliedBy)
	if err != nil {
		return models.Insight{}, err
	}
	if machineID.Valid {
		id, err := uuid.Parse(machineID.String)
		if err == nil {
			ins.MachineID = &id
		}
	}
	if len(impact) > 0 {
		var m models.MetricsImpact
		if err := json.Unmarshal(impact, &m); err == nil {
			ins.Impact = &m
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		ins.ExpiresAt = &t
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		ins.AppliedAt = &t
	}
	if appliedBy.Valid {
		ins.AppliedBy = &appliedBy.String
	}
	return ins, nil
}

func scanInsights(rows *sql.Rows) ([]models.Insight, error) {
	var insights []models.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}
	return insights, nil
}
