package models

import "time"

// QueueTicket is a live queue entry. Appointment-tier tickets are linked
// back to the reservation that spawned them; walk-in tickets stand alone
// and may start life unassigned to any team member.
type QueueTicket struct {
	TicketID       string     `json:"ticket_id"`
	QueueNumber    string     `json:"queue_number"`
	AccountID      string     `json:"account_id"`
	TeamMemberID   string     `json:"team_member_id,omitempty"`
	ReservationID  string     `json:"reservation_id,omitempty"`
	ClientID       string     `json:"client_id,omitempty"`
	ClientUserID   string     `json:"client_user_id,omitempty"`
	ServiceID      string     `json:"service_id,omitempty"`
	PriorityTier   string     `json:"priority_tier"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	RequestID      string     `json:"request_id,omitempty"`
	PreCalledAt    *time.Time `json:"pre_called_at,omitempty"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	GraceExpiresAt *time.Time `json:"grace_expires_at,omitempty"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

const (
	TierAppointment = "appointment"
	TierWalkIn      = "walk_in"
)

const (
	TicketWaiting   = "waiting"
	TicketPreCalled = "pre_called"
	TicketCalled    = "called"
	TicketInService = "in_service"
	TicketDone      = "done"
	TicketNoShow    = "no_show"
	TicketCancelled = "cancelled"
)
