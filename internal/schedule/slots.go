package schedule

import (
	"time"

	"schedcore/scheduling-service/internal/models"
)

// MaxBufferMinutes caps the buffer applied around any reservation.
// Stores use it to bound how far outside a query range existing
// reservations can still matter.
const MaxBufferMinutes = 240

// Slot is a bookable start time for one team member.
type Slot struct {
	TeamMemberID string    `json:"team_member_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
}

// SlotRequest narrows slot generation to a window and service length.
type SlotRequest struct {
	TeamMemberID    string
	RangeStart      time.Time
	RangeEnd        time.Time
	DurationMinutes int
}

// AvailableSlots generates candidate start times at the settings' slot
// interval within the requested range, clipped to the booking window
// [now + min_notice, advance horizon], skipping any candidate whose
// buffered interval overlaps an existing active reservation. The result
// is chronological and empty (never nil error) when nothing fits.
func AvailableSlots(settings models.ReservationSettings, existing []models.Reservation, req SlotRequest, now time.Time) []Slot {
	if req.DurationMinutes <= 0 || !req.RangeEnd.After(req.RangeStart) {
		return nil
	}

	interval := clampInt(settings.SlotIntervalMinutes, 5, 120)
	buffer := clampInt(settings.BufferMinutes, 0, MaxBufferMinutes)
	duration := time.Duration(req.DurationMinutes) * time.Minute

	start := req.RangeStart.UTC()
	notice := now.Add(time.Duration(settings.MinNoticeMinutes) * time.Minute)
	if start.Before(notice) {
		start = notice
	}
	end := req.RangeEnd.UTC()
	if horizon := AdvanceHorizon(settings, now); end.After(horizon) {
		end = horizon
	}
	if !end.After(start) {
		return nil
	}

	var slots []Slot
	cursor := alignToInterval(start, interval)
	for !cursor.Add(duration).After(end) {
		slotEnd := cursor.Add(duration)
		if !HasConflict(cursor, slotEnd, buffer, existing) {
			slots = append(slots, Slot{
				TeamMemberID: req.TeamMemberID,
				StartsAt:     cursor,
				EndsAt:       slotEnd,
			})
		}
		cursor = cursor.Add(time.Duration(interval) * time.Minute)
	}
	return slots
}

// HasConflict reports whether [start, end) overlaps any active
// reservation once buffers are applied on both sides. The effective
// buffer for each pair is the larger of the candidate's buffer and the
// reservation's snapshot buffer.
func HasConflict(start, end time.Time, buffer int, existing []models.Reservation) bool {
	for _, r := range existing {
		if !r.IsActive() {
			continue
		}
		pad := buffer
		if r.BufferMinutes > pad {
			pad = r.BufferMinutes
		}
		if pad > MaxBufferMinutes {
			pad = MaxBufferMinutes
		}
		padded := time.Duration(pad) * time.Minute
		if start.Before(r.EndsAt.Add(padded)) && end.After(r.StartsAt.Add(-padded)) {
			return true
		}
	}
	return false
}

// AdvanceHorizon is the farthest bookable instant. A zero
// max_advance_days limits booking to the current UTC day.
func AdvanceHorizon(settings models.ReservationSettings, now time.Time) time.Time {
	if settings.MaxAdvanceDays <= 0 {
		return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
	return now.Add(time.Duration(settings.MaxAdvanceDays) * 24 * time.Hour)
}

// alignToInterval rounds t up to the next interval boundary within its
// hour, so offered starts land on the :00/:15/:30 style grid.
func alignToInterval(t time.Time, intervalMinutes int) time.Time {
	step := time.Duration(intervalMinutes) * time.Minute
	truncated := t.Truncate(step)
	if truncated.Before(t) {
		return truncated.Add(step)
	}
	return truncated
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
