package models

import "time"

type Reservation struct {
	ReservationID     string     `json:"reservation_id"`
	AccountID         string     `json:"account_id"`
	TeamMemberID      string     `json:"team_member_id"`
	ClientID          string     `json:"client_id,omitempty"`
	ClientUserID      string     `json:"client_user_id,omitempty"`
	ServiceID         string     `json:"service_id,omitempty"`
	Status            string     `json:"status"`
	Source            string     `json:"source"`
	StartsAt          time.Time  `json:"starts_at"`
	EndsAt            time.Time  `json:"ends_at"`
	DurationMinutes   int        `json:"duration_minutes"`
	BufferMinutes     int        `json:"buffer_minutes"`
	CreatedAt         time.Time  `json:"created_at"`
	RequestID         string     `json:"request_id,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	CancelledByUserID string     `json:"cancelled_by_user_id,omitempty"`
	RescheduledFromID string     `json:"rescheduled_from_id,omitempty"`
}

const (
	StatusRequested = "requested"
	StatusConfirmed = "confirmed"
	StatusInService = "in_service"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// ActiveStatuses are the statuses that still occupy calendar time on a
// team member and therefore participate in conflict checks.
var ActiveStatuses = []string{StatusRequested, StatusConfirmed, StatusInService}

const (
	SourceStaff  = "staff"
	SourceClient = "client"
	SourceAPI    = "api"
)

const (
	ActorStaff  = "staff"
	ActorClient = "client"
	ActorAdmin  = "admin"
)

// IsActive reports whether the reservation still holds its slot.
func (r Reservation) IsActive() bool {
	for _, status := range ActiveStatuses {
		if r.Status == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is permitted.
func (r Reservation) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled || r.Status == StatusNoShow
}
