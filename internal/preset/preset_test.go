package preset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"schedcore/scheduling-service/internal/models"
)

func TestDefaultsSalon(t *testing.T) {
	s := Defaults(models.PresetSalon)

	assert.Equal(t, models.PresetSalon, s.BusinessPreset)
	assert.Equal(t, 10, s.BufferMinutes)
	assert.Equal(t, 15, s.SlotIntervalMinutes)
	assert.Equal(t, 60, s.MinNoticeMinutes)
	assert.Equal(t, 60, s.MaxAdvanceDays)
	assert.Equal(t, 24, s.CancellationCutoffHours)
	assert.True(t, s.QueueModeEnabled)
	assert.Equal(t, models.AssignmentPerStaff, s.QueueAssignmentMode)
	assert.Equal(t, 5, s.QueueGraceMinutes)
	assert.Equal(t, 2, s.QueuePreCallThreshold)
	assert.True(t, s.QueueNoShowOnGraceExpiry)
	assert.True(t, s.DepositRequired)
	assert.Equal(t, 20.0, s.DepositAmount)
	assert.True(t, s.NoShowFeeEnabled)
	assert.Equal(t, 15.0, s.NoShowFeeAmount)
}

func TestDefaultsRestaurant(t *testing.T) {
	s := Defaults(models.PresetRestaurant)

	assert.Equal(t, 15, s.BufferMinutes)
	assert.Equal(t, 30, s.MinNoticeMinutes)
	assert.Equal(t, 30, s.MaxAdvanceDays)
	assert.Equal(t, 6, s.CancellationCutoffHours)
	assert.False(t, s.QueueModeEnabled)
	assert.Equal(t, models.AssignmentGlobalPull, s.QueueAssignmentMode)
	assert.Equal(t, 25.0, s.DepositAmount)
}

func TestDefaultsGeneral(t *testing.T) {
	s := Defaults(models.PresetServiceGeneral)

	assert.Equal(t, 0, s.BufferMinutes)
	assert.Equal(t, 30, s.SlotIntervalMinutes)
	assert.Equal(t, 0, s.MinNoticeMinutes)
	assert.Equal(t, 90, s.MaxAdvanceDays)
	assert.False(t, s.QueueModeEnabled)
	assert.False(t, s.DepositRequired)
	assert.False(t, s.NoShowFeeEnabled)
}

func TestDefaultsUnknownFallsBack(t *testing.T) {
	assert.Equal(t, models.PresetServiceGeneral, Defaults("barbershop").BusinessPreset)
	assert.Equal(t, models.PresetServiceGeneral, Defaults("").BusinessPreset)
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"salon", models.PresetSalon},
		{" Salon ", models.PresetSalon},
		{"SERVICE GENERAL", models.PresetServiceGeneral},
		{"restaurant", models.PresetRestaurant},
		{"", models.PresetServiceGeneral},
		{"food_truck", models.PresetServiceGeneral},
	}
	for _, tt := range cases {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestFromSector(t *testing.T) {
	assert.Equal(t, models.PresetSalon, FromSector("Salon"))
	assert.Equal(t, models.PresetRestaurant, FromSector("restaurant"))
	assert.Equal(t, models.PresetServiceGeneral, FromSector("plumbing"))
	assert.Equal(t, models.PresetServiceGeneral, FromSector(""))
}

func TestQueueFeaturesEnabled(t *testing.T) {
	assert.True(t, QueueFeaturesEnabled("salon"))
	assert.False(t, QueueFeaturesEnabled("restaurant"))
	assert.False(t, QueueFeaturesEnabled("service_general"))
	assert.False(t, QueueFeaturesEnabled("anything else"))
}
