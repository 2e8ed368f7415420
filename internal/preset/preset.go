package preset

import (
	"strings"

	"schedcore/scheduling-service/internal/models"
)

// Presets lists the recognized business presets.
var Presets = []string{
	models.PresetServiceGeneral,
	models.PresetSalon,
	models.PresetRestaurant,
}

// Defaults returns the full settings bundle for a preset. Unknown or
// blank preset names fall back to service_general, so the result is
// always fully populated.
func Defaults(preset string) models.ReservationSettings {
	switch Normalize(preset) {
	case models.PresetSalon:
		return models.ReservationSettings{
			BusinessPreset:           models.PresetSalon,
			BufferMinutes:            10,
			SlotIntervalMinutes:      15,
			MinNoticeMinutes:         60,
			MaxAdvanceDays:           60,
			CancellationCutoffHours:  24,
			AllowClientCancel:        true,
			AllowClientReschedule:    true,
			LateReleaseMinutes:       10,
			WaitlistEnabled:          true,
			QueueModeEnabled:         true,
			QueueAssignmentMode:      models.AssignmentPerStaff,
			QueueDispatchMode:        models.DispatchFIFOWithAppointmentPriority,
			QueueGraceMinutes:        5,
			QueuePreCallThreshold:    2,
			QueueNoShowOnGraceExpiry: true,
			DepositRequired:          true,
			DepositAmount:            20,
			NoShowFeeEnabled:         true,
			NoShowFeeAmount:          15,
		}
	case models.PresetRestaurant:
		return models.ReservationSettings{
			BusinessPreset:           models.PresetRestaurant,
			BufferMinutes:            15,
			SlotIntervalMinutes:      15,
			MinNoticeMinutes:         30,
			MaxAdvanceDays:           30,
			CancellationCutoffHours:  6,
			AllowClientCancel:        true,
			AllowClientReschedule:    true,
			LateReleaseMinutes:       15,
			WaitlistEnabled:          true,
			QueueModeEnabled:         false,
			QueueAssignmentMode:      models.AssignmentGlobalPull,
			QueueDispatchMode:        models.DispatchFIFOWithAppointmentPriority,
			QueueGraceMinutes:        10,
			QueuePreCallThreshold:    2,
			QueueNoShowOnGraceExpiry: true,
			DepositRequired:          true,
			DepositAmount:            25,
			NoShowFeeEnabled:         true,
			NoShowFeeAmount:          25,
		}
	default:
		return models.ReservationSettings{
			BusinessPreset:           models.PresetServiceGeneral,
			BufferMinutes:            0,
			SlotIntervalMinutes:      30,
			MinNoticeMinutes:         0,
			MaxAdvanceDays:           90,
			CancellationCutoffHours:  12,
			AllowClientCancel:        true,
			AllowClientReschedule:    true,
			LateReleaseMinutes:       0,
			WaitlistEnabled:          false,
			QueueModeEnabled:         false,
			QueueAssignmentMode:      models.AssignmentPerStaff,
			QueueDispatchMode:        models.DispatchFIFOWithAppointmentPriority,
			QueueGraceMinutes:        5,
			QueuePreCallThreshold:    2,
			QueueNoShowOnGraceExpiry: false,
			DepositRequired:          false,
			DepositAmount:            0,
			NoShowFeeEnabled:         false,
			NoShowFeeAmount:          0,
		}
	}
}

// Normalize lowercases, trims, and underscores a preset name; anything
// unrecognized maps to service_general.
func Normalize(value string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(value)), " ", "_")
	for _, preset := range Presets {
		if normalized == preset {
			return normalized
		}
	}
	return models.PresetServiceGeneral
}

// FromSector maps an account's business sector to a preset.
func FromSector(sector string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(sector)), " ", "_")
	switch normalized {
	case models.PresetSalon:
		return models.PresetSalon
	case models.PresetRestaurant:
		return models.PresetRestaurant
	default:
		return models.PresetServiceGeneral
	}
}

// QueueFeaturesEnabled reports whether the preset unlocks live queue
// dispatch at all. Only the salon preset does; resolved settings force
// queue_mode_enabled off for every other preset regardless of stored
// overrides.
func QueueFeaturesEnabled(preset string) bool {
	return Normalize(preset) == models.PresetSalon
}
