package schedule

import (
	"time"

	"schedcore/scheduling-service/internal/models"
)

// ValidateWindow checks a requested start against the notice and
// advance limits. It returns false with a short reason when the start
// is out of the bookable window.
func ValidateWindow(settings models.ReservationSettings, startsAt, now time.Time) (bool, string) {
	if startsAt.Before(now.Add(time.Duration(settings.MinNoticeMinutes) * time.Minute)) {
		return false, "starts_at is inside the minimum notice window"
	}
	if startsAt.After(AdvanceHorizon(settings, now)) {
		return false, "starts_at is beyond the advance booking limit"
	}
	return true, ""
}

// ClientModifyAllowed reports whether a client may still cancel or
// reschedule. The boundary rule: at exactly starts_at - cutoff the
// window has closed, so only now strictly before the cutoff passes.
// A zero or negative cutoff disables the check.
func ClientModifyAllowed(settings models.ReservationSettings, startsAt, now time.Time) bool {
	if settings.CancellationCutoffHours <= 0 {
		return true
	}
	deadline := startsAt.Add(-time.Duration(settings.CancellationCutoffHours) * time.Hour)
	return now.Before(deadline)
}

// InitialStatus decides the status a freshly created reservation gets:
// client bookings await confirmation, staff and API bookings are
// confirmed immediately.
func InitialStatus(source string) string {
	if source == models.SourceClient {
		return models.StatusRequested
	}
	return models.StatusConfirmed
}
