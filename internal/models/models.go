package models

import (
	"time"

	"github.com/google/uuid"
)

type MachineStatus string

const (
	MachineStatusActive      MachineStatus = "active"
	MachineStatusInactive    MachineStatus = "inactive"
	MachineStatusMaintenance MachineStatus = "maintenance"
	MachineStatusStopped     MachineStatus = "stopped"
)

type InsightType string

const (
	InsightTypeSetup        InsightType = "setup"
	InsightTypeMonitoring   InsightType = "monitoring"
	InsightTypeMaintenance  InsightType = "maintenance"
	InsightTypeOptimization InsightType = "optimization"
	InsightTypePattern      InsightType = "pattern"
	InsightTypeAnomaly      InsightType = "anomaly"
	InsightTypePrediction   InsightType = "prediction"
)

type InsightSeverity string

const (
	SeverityLow      InsightSeverity = "low"
	SeverityMedium   InsightSeverity = "medium"
	SeverityHigh     InsightSeverity = "high"
	SeverityCritical InsightSeverity = "critical"
)

type InsightStatus string

const (
	InsightStatusActive    InsightStatus = "active"
	InsightStatusApplied   InsightStatus = "applied"
	InsightStatusDismissed InsightStatus = "dismissed"
	InsightStatusExpired   InsightStatus = "expired"
)

// Terminal reports whether no further status transitions are allowed.
func (s InsightStatus) Terminal() bool {
	return s == InsightStatusApplied || s == InsightStatusDismissed || s == InsightStatusExpired
}

type Machine struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Capacity     float64       `json:"capacity"` // units per hour
	CapacityUnit string        `json:"capacityUnit,omitempty"`
	Status       MachineStatus `json:"status"`
	Location     string        `json:"location,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type DowntimeEntry struct {
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"durationMinutes"`
	Description     string `json:"description,omitempty"`
}

// ShiftRecord is one operator-submitted production report. It is immutable
// once stored; downtime entries are owned by the record and never referenced
// elsewhere.
type ShiftRecord struct {
	ID               uuid.UUID       `json:"id"`
	MachineID        uuid.UUID       `json:"machineId"`
	Shift            string          `json:"shift"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          time.Time       `json:"endTime"`
	Material         string          `json:"material,omitempty"`
	GoodProduction   int             `json:"goodProduction"`
	WasteFilm        int             `json:"wasteFilm"`
	WasteOrganic     float64         `json:"wasteOrganic"` // mass, not a unit count
	ProductionTarget int             `json:"productionTarget"`
	PlannedTime      int             `json:"plannedTime"` // minutes
	Downtime         []DowntimeEntry `json:"downtime,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// TotalDowntimeMinutes sums the record's downtime entries, treating negative
// durations from manual entry as zero.
func (r ShiftRecord) TotalDowntimeMinutes() int {
	total := 0
	for _, d := range r.Downtime {
		if d.DurationMinutes > 0 {
			total += d.DurationMinutes
		}
	}
	return total
}

// OEEMetrics holds the derived efficiency percentages for one shift record.
// Values are unclamped so rule evaluation can see extreme deviations; use
// Clamped for display-facing consumers.
type OEEMetrics struct {
	Availability float64 `json:"availability"`
	Performance  float64 `json:"performance"`
	Quality      float64 `json:"quality"`
	Overall      float64 `json:"overall"`
}

// Clamped returns a copy with every component bounded to [0, 100].
func (m OEEMetrics) Clamped() OEEMetrics {
	return OEEMetrics{
		Availability: clamp100(m.Availability),
		Performance:  clamp100(m.Performance),
		Quality:      clamp100(m.Quality),
		Overall:      clamp100(m.Overall),
	}
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// MetricsImpact is the expected delta on each metric if an insight's
// recommendation is applied.
type MetricsImpact struct {
	OEE          float64 `json:"oee,omitempty"`
	Availability float64 `json:"availability,omitempty"`
	Performance  float64 `json:"performance,omitempty"`
	Quality      float64 `json:"quality,omitempty"`
}

type Insight struct {
	ID             uuid.UUID       `json:"id"`
	MachineID      *uuid.UUID      `json:"machineId,omitempty"` // nil for system-wide insights
	Type           InsightType     `json:"type"`
	Severity       InsightSeverity `json:"severity"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Recommendation string          `json:"recommendation,omitempty"`
	Confidence     float64         `json:"confidence"` // 0-100
	Status         InsightStatus   `json:"status"`
	Impact         *MetricsImpact  `json:"impact,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	AppliedAt      *time.Time      `json:"appliedAt,omitempty"`
	AppliedBy      *string         `json:"appliedBy,omitempty"`
}
