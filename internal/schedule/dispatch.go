package schedule

import (
	"sort"
	"time"

	"schedcore/scheduling-service/internal/models"
)

// Callable reports whether a ticket can be taken by call-next.
func Callable(ticket models.QueueTicket) bool {
	return ticket.Status == models.TicketWaiting || ticket.Status == models.TicketPreCalled
}

// OrderTickets sorts tickets into dispatch order for
// fifo_with_appointment_priority: the appointment tier always precedes
// the walk-in tier, and within a tier earlier enqueue time wins.
// Ticket ID breaks ties deterministically.
func OrderTickets(tickets []models.QueueTicket) []models.QueueTicket {
	ordered := make([]models.QueueTicket, len(tickets))
	copy(ordered, tickets)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.PriorityTier != b.PriorityTier {
			return a.PriorityTier == models.TierAppointment
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TicketID < b.TicketID
	})
	return ordered
}

// PickNext selects the ticket call-next should dequeue. teamMemberID is
// the staff member pulling; in per_staff mode only that member's
// tickets and unassigned walk-ins qualify, in global_pull mode the
// whole account queue does. Returns false when nothing is callable.
func PickNext(tickets []models.QueueTicket, assignmentMode, teamMemberID string) (models.QueueTicket, bool) {
	for _, ticket := range OrderTickets(tickets) {
		if !Callable(ticket) {
			continue
		}
		if assignmentMode == models.AssignmentPerStaff {
			claimableWalkIn := ticket.TeamMemberID == "" && ticket.PriorityTier == models.TierWalkIn
			if teamMemberID != "" && ticket.TeamMemberID != teamMemberID && !claimableWalkIn {
				continue
			}
		}
		return ticket, true
	}
	return models.QueueTicket{}, false
}

// PreCallCandidates returns the not-yet-pre-called tickets whose
// position in dispatch order is within the pre-call threshold, i.e. the
// clients who should be told they are nearly up.
func PreCallCandidates(tickets []models.QueueTicket, threshold int) []models.QueueTicket {
	if threshold <= 0 {
		return nil
	}
	var out []models.QueueTicket
	position := 0
	for _, ticket := range OrderTickets(tickets) {
		if !Callable(ticket) {
			continue
		}
		position++
		if position > threshold {
			break
		}
		if ticket.Status == models.TicketWaiting {
			out = append(out, ticket)
		}
	}
	return out
}

// GraceExpired reports whether a called ticket's grace window has run
// out. Tickets without a deadline never expire.
func GraceExpired(ticket models.QueueTicket, now time.Time) bool {
	if ticket.Status != models.TicketCalled || ticket.GraceExpiresAt == nil {
		return false
	}
	return !now.Before(*ticket.GraceExpiresAt)
}

// Grace expiry outcomes.
const (
	ExpiryNoShow  = "no_show"
	ExpiryRequeue = "requeue"
)

// ExpiryOutcome decides what happens to a ticket whose grace window
// elapsed: appointment-tier tickets become no-shows when the account
// opts in, everything else returns to the back of the queue.
func ExpiryOutcome(settings models.ReservationSettings, ticket models.QueueTicket) string {
	if settings.QueueNoShowOnGraceExpiry && ticket.PriorityTier == models.TierAppointment {
		return ExpiryNoShow
	}
	return ExpiryRequeue
}
