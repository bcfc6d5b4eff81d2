package rules

import (
	"fmt"

	"github.com/plantpulse/insight-engine/internal/models"
)

// Onboarding confidence is fixed: these drafts are unconditional, not
// metric-driven.
const onboardingConfidence = 90

// Onboarding returns the fixed drafts emitted when a machine is created:
// setup, monitoring and maintenance, in that order. They carry no expiry
// until a metric-driven refresh assigns one.
func Onboarding(machine models.Machine) []Draft {
	ref := machineRef(machine)
	return []Draft{
		{
			MachineID:      ref,
			Type:           models.InsightTypeSetup,
			Severity:       models.SeverityMedium,
			Title:          fmt.Sprintf("Configure %s", machine.Name),
			Description:    "New machine registered without verified capacity and production targets.",
			Recommendation: "Confirm the hourly capacity and set shift production targets before the first production run.",
			Confidence:     onboardingConfidence,
			NoExpiry:       true,
		},
		{
			MachineID:      ref,
			Type:           models.InsightTypeMonitoring,
			Severity:       models.SeverityLow,
			Title:          fmt.Sprintf("Enable tracking for %s", machine.Name),
			Description:    "Live production tracking is not yet enabled for this machine.",
			Recommendation: "Enable shift record submission so efficiency metrics accumulate from day one.",
			Confidence:     onboardingConfidence,
			NoExpiry:       true,
		},
		{
			MachineID:      ref,
			Type:           models.InsightTypeMaintenance,
			Severity:       models.SeverityMedium,
			Title:          fmt.Sprintf("Schedule first preventive check for %s", machine.Name),
			Description:    "No preventive maintenance is scheduled for the newly registered machine.",
			Recommendation: "Book the first preventive maintenance window within the commissioning period.",
			Confidence:     onboardingConfidence,
			NoExpiry:       true,
		},
	}
}
