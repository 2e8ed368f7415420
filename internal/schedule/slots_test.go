package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/preset"
)

func day(hour, min int) time.Time {
	return time.Date(2026, 9, 14, hour, min, 0, 0, time.UTC)
}

func reservation(start, end time.Time, buffer int, status string) models.Reservation {
	return models.Reservation{
		TeamMemberID:  "staff-a",
		Status:        status,
		StartsAt:      start,
		EndsAt:        end,
		BufferMinutes: buffer,
	}
}

func TestAvailableSlotsFullGridWhenEmpty(t *testing.T) {
	settings := preset.Defaults(models.PresetServiceGeneral) // 30-min grid, no buffer, no notice
	now := day(8, 0)

	slots := AvailableSlots(settings, nil, SlotRequest{
		TeamMemberID:    "staff-a",
		RangeStart:      day(9, 0),
		RangeEnd:        day(12, 0),
		DurationMinutes: 60,
	}, now)

	require.Len(t, slots, 5) // 9:00 9:30 10:00 10:30 11:00
	assert.Equal(t, day(9, 0), slots[0].StartsAt)
	assert.Equal(t, day(10, 0), slots[0].EndsAt)
	assert.Equal(t, day(11, 0), slots[4].StartsAt)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i].StartsAt.After(slots[i-1].StartsAt), "slots must be chronological")
	}
}

func TestAvailableSlotsSalonBufferScenario(t *testing.T) {
	settings := preset.Defaults(models.PresetSalon) // buffer 10, interval 15, notice 60
	now := day(8, 0)
	existing := []models.Reservation{
		reservation(day(14, 0), day(14, 30), 10, models.StatusConfirmed),
	}

	slots := AvailableSlots(settings, existing, SlotRequest{
		TeamMemberID:    "staff-a",
		RangeStart:      day(13, 0),
		RangeEnd:        day(16, 0),
		DurationMinutes: 30,
	}, now)

	starts := make(map[time.Time]bool, len(slots))
	for _, s := range slots {
		starts[s.StartsAt] = true
	}

	// Buffered window of the existing reservation is 13:50-14:40.
	assert.False(t, starts[day(14, 25)], "14:25 overlaps the buffer window")
	assert.False(t, starts[day(13, 30)], "13:30-14:00 touches the 13:50 edge")
	assert.True(t, starts[day(14, 40)] || starts[day(14, 45)], "grid resumes after the buffer")
	assert.False(t, starts[day(14, 40)], "14:40 is off the 15-minute grid")
	assert.True(t, starts[day(14, 45)])
	assert.True(t, starts[day(13, 15)], "13:15-13:45 clears the 13:50 edge")
}

func TestAvailableSlotsRespectsNotice(t *testing.T) {
	settings := preset.Defaults(models.PresetSalon) // 60-min notice
	now := day(9, 10)

	slots := AvailableSlots(settings, nil, SlotRequest{
		TeamMemberID:    "staff-a",
		RangeStart:      day(9, 0),
		RangeEnd:        day(11, 0),
		DurationMinutes: 30,
	}, now)

	require.NotEmpty(t, slots)
	notice := now.Add(60 * time.Minute)
	for _, s := range slots {
		assert.False(t, s.StartsAt.Before(notice), "slot %v inside notice window", s.StartsAt)
	}
	assert.Equal(t, day(10, 15), slots[0].StartsAt, "first slot aligned up from 10:10")
}

func TestAvailableSlotsAdvanceLimit(t *testing.T) {
	settings := preset.Defaults(models.PresetServiceGeneral)
	settings.MaxAdvanceDays = 1
	now := day(8, 0)

	slots := AvailableSlots(settings, nil, SlotRequest{
		TeamMemberID:    "staff-a",
		RangeStart:      day(8, 0),
		RangeEnd:        day(8, 0).Add(72 * time.Hour),
		DurationMinutes: 30,
	}, now)

	require.NotEmpty(t, slots)
	horizon := now.Add(24 * time.Hour)
	for _, s := range slots {
		assert.False(t, s.EndsAt.After(horizon), "slot %v beyond the advance horizon", s.StartsAt)
	}
}

func TestAvailableSlotsSameDayOnlyWhenAdvanceZero(t *testing.T) {
	settings := preset.Defaults(models.PresetServiceGeneral)
	settings.MaxAdvanceDays = 0
	now := day(8, 0)

	slots := AvailableSlots(settings, nil, SlotRequest{
		TeamMemberID:    "staff-a",
		RangeStart:      day(8, 0),
		RangeEnd:        day(8, 0).Add(96 * time.Hour),
		DurationMinutes: 30,
	}, now)

	require.NotEmpty(t, slots)
	endOfDay := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	for _, s := range slots {
		assert.False(t, s.EndsAt.After(endOfDay), "slot %v spills into the next day", s.StartsAt)
	}
}

func TestAvailableSlotsIgnoresCancelled(t *testing.T) {
	settings := preset.Defaults(models.PresetServiceGeneral)
	now := day(8, 0)
	existing := []models.Reservation{
		reservation(day(9, 0), day(12, 0), 0, models.StatusCancelled),
		reservation(day(9, 0), day(12, 0), 0, models.StatusNoShow),
	}

	slots := AvailableSlots(settings, existing, SlotRequest{
		TeamMemberID:    "staff-a",
		RangeStart:      day(9, 0),
		RangeEnd:        day(12, 0),
		DurationMinutes: 60,
	}, now)

	assert.Len(t, slots, 5, "cancelled and no-show reservations release their slots")
}

func TestAvailableSlotsEmptyWhenFullyBooked(t *testing.T) {
	settings := preset.Defaults(models.PresetServiceGeneral)
	now := day(8, 0)
	existing := []models.Reservation{
		reservation(day(8, 0), day(18, 0), 0, models.StatusConfirmed),
	}

	slots := AvailableSlots(settings, existing, SlotRequest{
		TeamMemberID:    "staff-a",
		RangeStart:      day(9, 0),
		RangeEnd:        day(12, 0),
		DurationMinutes: 30,
	}, now)

	assert.Empty(t, slots)
}

func TestHasConflictUsesLargerBuffer(t *testing.T) {
	existing := []models.Reservation{
		reservation(day(14, 0), day(14, 30), 0, models.StatusConfirmed),
	}

	// Candidate carries the 20-minute buffer; reservation has none.
	assert.True(t, HasConflict(day(14, 45), day(15, 15), 20, existing))
	assert.False(t, HasConflict(day(14, 50), day(15, 20), 20, existing))
}

func TestAlignToInterval(t *testing.T) {
	assert.Equal(t, day(10, 15), alignToInterval(day(10, 10), 15))
	assert.Equal(t, day(10, 15), alignToInterval(day(10, 15), 15))
	assert.Equal(t, day(10, 30), alignToInterval(day(10, 1), 30))
}
