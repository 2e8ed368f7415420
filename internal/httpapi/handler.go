package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/settingscache"
	"schedcore/scheduling-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store    store.SchedulingStore
	settings *settingscache.Cache
}

func NewHandler(st store.SchedulingStore, settings *settingscache.Cache) *Handler {
	return &Handler{
		store:    st,
		settings: settings,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/settings/bump", h.handleSettingsBump)
	mux.HandleFunc("/api/slots", h.handleSlots)
	mux.HandleFunc("/api/reservations", h.handleReservations)
	mux.HandleFunc("/api/reservations/", h.handleReservationSubpaths)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/tickets", h.handleQueueTickets)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/actions/check-in", h.handleCheckIn)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	teamMemberID := strings.TrimSpace(r.URL.Query().Get("team_member_id"))
	if accountID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id is required")
		return
	}
	if !isValidUUID(accountID) || (teamMemberID != "" && !isValidUUID(teamMemberID)) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id and team_member_id must be UUIDs")
		return
	}

	if settings, ok := h.settings.Get(accountID, teamMemberID); ok {
		writeJSON(w, http.StatusOK, settings)
		return
	}

	settings, err := h.store.ResolveSettings(r.Context(), accountID, teamMemberID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	h.settings.Put(accountID, teamMemberID, settings)
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleSettingsBump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		AccountID string `json:"account_id"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" || !isValidUUID(req.AccountID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id must be a UUID")
		return
	}
	h.settings.Bump(req.AccountID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	accountID := strings.TrimSpace(query.Get("account_id"))
	teamMemberID := strings.TrimSpace(query.Get("team_member_id"))
	if accountID == "" || teamMemberID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id and team_member_id are required")
		return
	}
	if !isValidUUID(accountID) || !isValidUUID(teamMemberID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id and team_member_id must be UUIDs")
		return
	}

	from, err := time.Parse(time.RFC3339, strings.TrimSpace(query.Get("from")))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "from must be an RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(query.Get("to")))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "to must be an RFC3339 timestamp")
		return
	}
	duration, err := strconv.Atoi(strings.TrimSpace(query.Get("duration_minutes")))
	if err != nil || duration <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "duration_minutes must be a positive integer")
		return
	}

	slots, err := h.store.AvailableSlots(r.Context(), store.SlotQuery{
		AccountID:       accountID,
		TeamMemberID:    teamMemberID,
		RangeStart:      from,
		RangeEnd:        to,
		DurationMinutes: duration,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

type createReservationRequest struct {
	RequestID       string `json:"request_id"`
	AccountID       string `json:"account_id"`
	TeamMemberID    string `json:"team_member_id"`
	ClientID        string `json:"client_id"`
	ClientUserID    string `json:"client_user_id"`
	ServiceID       string `json:"service_id"`
	Source          string `json:"source"`
	StartsAt        string `json:"starts_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *Handler) handleReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.TeamMemberID = strings.TrimSpace(req.TeamMemberID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ClientUserID = strings.TrimSpace(req.ClientUserID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Source = strings.TrimSpace(req.Source)

	if req.RequestID == "" || req.AccountID == "" || req.TeamMemberID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, account_id, and team_member_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.AccountID) || !isValidUUID(req.TeamMemberID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, account_id, and team_member_id must be UUIDs")
		return
	}
	for _, optional := range []string{req.ClientID, req.ClientUserID, req.ServiceID} {
		if optional != "" && !isValidUUID(optional) {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "client_id, client_user_id, and service_id must be UUIDs when provided")
			return
		}
	}
	if req.Source == "" {
		req.Source = models.SourceStaff
	}
	if req.Source != models.SourceStaff && req.Source != models.SourceClient && req.Source != models.SourceAPI {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "source must be staff, client, or api")
		return
	}
	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartsAt))
	if err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "starts_at must be an RFC3339 timestamp")
		return
	}
	if req.DurationMinutes <= 0 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "duration_minutes must be a positive integer")
		return
	}

	reservation, _, err := h.store.CreateReservation(r.Context(), store.CreateReservationInput{
		RequestID:       req.RequestID,
		AccountID:       req.AccountID,
		TeamMemberID:    req.TeamMemberID,
		ClientID:        req.ClientID,
		ClientUserID:    req.ClientUserID,
		ServiceID:       req.ServiceID,
		Source:          req.Source,
		StartsAt:        startsAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleReservationSubpaths(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/reservations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetReservation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "events":
		h.handleReservationEvents(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleReservationAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request, reservationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" || !isValidUUID(accountID) || !isValidUUID(reservationID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id and reservation id must be UUIDs")
		return
	}

	reservation, _, err := h.store.GetReservation(r.Context(), accountID, reservationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleReservationEvents(w http.ResponseWriter, r *http.Request, reservationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" || !isValidUUID(accountID) || !isValidUUID(reservationID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id and reservation id must be UUIDs")
		return
	}

	events, err := h.store.ListReservationEvents(r.Context(), accountID, reservationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type reservationActionRequest struct {
	RequestID string `json:"request_id"`
	AccountID string `json:"account_id"`
	ActorRole string `json:"actor_role"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason"`
}

type rescheduleRequest struct {
	RequestID       string `json:"request_id"`
	AccountID       string `json:"account_id"`
	ActorRole       string `json:"actor_role"`
	ActorID         string `json:"actor_id"`
	NewStartsAt     string `json:"new_starts_at"`
	NewTeamMemberID string `json:"new_team_member_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *Handler) handleReservationAction(w http.ResponseWriter, r *http.Request, reservationID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(reservationID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "reservation id must be a UUID")
		return
	}

	// Unknown action names are a routing miss, not a bad payload. Decide
	// that before touching the body.
	switch action {
	case "confirm", "start", "complete", "cancel", "no-show", "reschedule":
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if action == "reschedule" {
		h.handleReschedule(w, r, reservationID)
		return
	}

	var req reservationActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.ActorRole = strings.TrimSpace(req.ActorRole)
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.RequestID == "" || req.AccountID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and account_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.AccountID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and account_id must be UUIDs")
		return
	}
	if !isValidActorRole(req.ActorRole) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "actor_role must be staff, client, or admin")
		return
	}

	input := store.ReservationActionInput{
		RequestID:     req.RequestID,
		AccountID:     req.AccountID,
		ReservationID: reservationID,
		ActorRole:     req.ActorRole,
		ActorID:       req.ActorID,
		Reason:        req.Reason,
		OccurredAt:    time.Now().UTC(),
	}

	var (
		reservation models.Reservation
		err         error
	)
	switch action {
	case "confirm":
		reservation, _, err = h.store.ConfirmReservation(r.Context(), input)
	case "start":
		reservation, _, err = h.store.StartService(r.Context(), input)
	case "complete":
		reservation, _, err = h.store.CompleteReservation(r.Context(), input)
	case "cancel":
		reservation, _, err = h.store.CancelReservation(r.Context(), input)
	case "no-show":
		reservation, _, err = h.store.NoShowReservation(r.Context(), input)
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request, reservationID string) {
	var req rescheduleRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.ActorRole = strings.TrimSpace(req.ActorRole)
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.NewTeamMemberID = strings.TrimSpace(req.NewTeamMemberID)

	if req.RequestID == "" || req.AccountID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and account_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.AccountID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and account_id must be UUIDs")
		return
	}
	if req.NewTeamMemberID != "" && !isValidUUID(req.NewTeamMemberID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "new_team_member_id must be a UUID when provided")
		return
	}
	if !isValidActorRole(req.ActorRole) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "actor_role must be staff, client, or admin")
		return
	}
	newStartsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.NewStartsAt))
	if err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "new_starts_at must be an RFC3339 timestamp")
		return
	}

	reservation, _, err := h.store.RescheduleReservation(r.Context(), store.RescheduleInput{
		ReservationActionInput: store.ReservationActionInput{
			RequestID:     req.RequestID,
			AccountID:     req.AccountID,
			ReservationID: reservationID,
			ActorRole:     req.ActorRole,
			ActorID:       req.ActorID,
			OccurredAt:    time.Now().UTC(),
		},
		NewStartsAt:     newStartsAt.UTC(),
		NewTeamMemberID: req.NewTeamMemberID,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	teamMemberID := strings.TrimSpace(r.URL.Query().Get("team_member_id"))
	if accountID == "" || !isValidUUID(accountID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id must be a UUID")
		return
	}
	if teamMemberID != "" && !isValidUUID(teamMemberID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "team_member_id must be a UUID when provided")
		return
	}

	tickets, err := h.store.ListQueue(r.Context(), accountID, teamMemberID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

type createTicketRequest struct {
	RequestID     string `json:"request_id"`
	AccountID     string `json:"account_id"`
	TeamMemberID  string `json:"team_member_id"`
	ReservationID string `json:"reservation_id"`
	ClientID      string `json:"client_id"`
	ClientUserID  string `json:"client_user_id"`
	ServiceID     string `json:"service_id"`
}

func (h *Handler) handleQueueTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.TeamMemberID = strings.TrimSpace(req.TeamMemberID)
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ClientUserID = strings.TrimSpace(req.ClientUserID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)

	if req.RequestID == "" || req.AccountID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and account_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.AccountID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and account_id must be UUIDs")
		return
	}
	for _, optional := range []string{req.TeamMemberID, req.ReservationID, req.ClientID, req.ClientUserID, req.ServiceID} {
		if optional != "" && !isValidUUID(optional) {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "ids must be UUIDs when provided")
			return
		}
	}

	ticket, _, err := h.store.CreateQueueTicket(r.Context(), store.CreateTicketInput{
		RequestID:     req.RequestID,
		AccountID:     req.AccountID,
		TeamMemberID:  req.TeamMemberID,
		ReservationID: req.ReservationID,
		ClientID:      req.ClientID,
		ClientUserID:  req.ClientUserID,
		ServiceID:     req.ServiceID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type callNextRequest struct {
	RequestID    string `json:"request_id"`
	AccountID    string `json:"account_id"`
	TeamMemberID string `json:"team_member_id"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.TeamMemberID = strings.TrimSpace(req.TeamMemberID)

	if req.RequestID == "" || req.AccountID == "" || req.TeamMemberID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, account_id, and team_member_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.AccountID) || !isValidUUID(req.TeamMemberID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, account_id, and team_member_id must be UUIDs")
		return
	}

	ticket, _, err := h.store.CallNext(r.Context(), store.CallNextInput{
		RequestID:    req.RequestID,
		AccountID:    req.AccountID,
		TeamMemberID: req.TeamMemberID,
		CalledAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type checkInRequest struct {
	RequestID string `json:"request_id"`
	AccountID string `json:"account_id"`
	TicketID  string `json:"ticket_id"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.TicketID = strings.TrimSpace(req.TicketID)

	if req.RequestID == "" || req.AccountID == "" || req.TicketID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, account_id, and ticket_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.AccountID) || !isValidUUID(req.TicketID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, account_id, and ticket_id must be UUIDs")
		return
	}

	ticket, _, err := h.store.CheckInTicket(r.Context(), store.CheckInInput{
		RequestID:  req.RequestID,
		AccountID:  req.AccountID,
		TicketID:   req.TicketID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id is required")
		return
	}
	if !isValidUUID(accountID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "account_id must be a UUID")
		return
	}

	// Clients page with the seq of the last event they saw.
	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var afterSeq int64
	if afterRaw != "" {
		parsed, err := strconv.ParseInt(afterRaw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be a non-negative event seq")
			return
		}
		afterSeq = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), accountID, afterSeq, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidActorRole(value string) bool {
	return value == models.ActorStaff || value == models.ActorClient || value == models.ActorAdmin
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found", "account not found"
	case errors.Is(err, store.ErrTeamMemberNotFound):
		return http.StatusNotFound, "team_member_not_found", "team member not found"
	case errors.Is(err, store.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found", "reservation not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", "request failed scheduling validation"
	case errors.Is(err, store.ErrSlotConflict):
		return http.StatusConflict, "slot_conflict", "requested time overlaps an existing reservation"
	case errors.Is(err, store.ErrLockTimeout):
		return http.StatusConflict, "lock_timeout", "resource is busy, retry the request"
	case errors.Is(err, store.ErrCutoffExceeded):
		return http.StatusUnprocessableEntity, "cutoff_exceeded", "the modification window for this reservation has closed"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "reservation state does not allow this action"
	case errors.Is(err, store.ErrPermission):
		return http.StatusForbidden, "permission_denied", "actor is not allowed to perform this action"
	case errors.Is(err, store.ErrEmptyQueue):
		return http.StatusConflict, "queue_empty", "no callable tickets in the queue"
	case errors.Is(err, store.ErrQueueDisabled):
		return http.StatusConflict, "queue_disabled", "queue mode is not enabled for this account"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
