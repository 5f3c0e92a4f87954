package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/identity"
	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/session"
	"github.com/yasarts/reunion-live/internal/store"
	"github.com/yasarts/reunion-live/internal/ws"
)

// Handlers holds the dependencies required by HTTP handler functions.
type Handlers struct {
	Facade *session.Facade
	Hub    *ws.Hub
	Log    *logrus.Logger
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a structured error body {"error": {kind, message}}.
func respondError(w http.ResponseWriter, status int, kind, msg string) {
	respondJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": msg},
	})
}

// respondDomainError maps a domain error onto the wire.
func (h *Handlers) respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidOption),
		errors.Is(err, domain.ErrInvalidProxyTarget):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrVoteClosed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPersistence):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		h.Log.WithError(err).Error("handler: internal error")
	}
	respondError(w, status, domain.Kind(err), err.Error())
}

// require checks the caller holds the capability; on failure it writes a 403
// and returns nil.
func (h *Handlers) require(w http.ResponseWriter, r *http.Request, cap identity.Capability) *identity.Identity {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return nil
	}
	if !ident.Can(cap) {
		respondError(w, http.StatusForbidden, "forbidden", "missing capability "+string(cap))
		return nil
	}
	return ident
}

// pathID parses the named mux variable as an ObjectID.
func pathID(r *http.Request, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)[name])
	return id, err == nil
}

// ---------------------------------------------------------------------------
// Meeting handlers
// ---------------------------------------------------------------------------

// CreateMeeting handles POST /api/meetings.
func (h *Handlers) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanCreateMeetings)
	if ident == nil {
		return
	}
	var req struct {
		Title       string    `json:"title"`
		ScheduledAt time.Time `json:"scheduledAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	m, err := h.Facade.CreateMeeting(r.Context(), ident.UserID, req.Title, req.ScheduledAt)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// ListMeetings handles GET /api/meetings.
func (h *Handlers) ListMeetings(w http.ResponseWriter, r *http.Request) {
	if h.require(w, r, identity.CanView) == nil {
		return
	}
	meetings, err := h.Facade.ListMeetings(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, meetings)
}

// GetMeeting handles GET /api/meetings/{id}.
func (h *Handlers) GetMeeting(w http.ResponseWriter, r *http.Request) {
	if h.require(w, r, identity.CanView) == nil {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	m, err := h.Facade.GetMeeting(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// SetMeetingStatus handles PUT /api/meetings/{id}/status.
func (h *Handlers) SetMeetingStatus(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanEdit)
	if ident == nil {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	var req struct {
		Status models.MeetingStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	m, err := h.Facade.SetMeetingStatus(r.Context(), ident.UserID, id, req.Status)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMeeting handles DELETE /api/meetings/{id}.
func (h *Handlers) DeleteMeeting(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanCreateMeetings)
	if ident == nil {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	if err := h.Facade.DeleteMeeting(r.Context(), ident.UserID, id); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ---------------------------------------------------------------------------
// Agenda handlers
// ---------------------------------------------------------------------------

// GetAgenda handles GET /api/meetings/{id}/agenda.
func (h *Handlers) GetAgenda(w http.ResponseWriter, r *http.Request) {
	if h.require(w, r, identity.CanView) == nil {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	view, err := h.Facade.Agenda(r.Context(), id, nil)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// agendaItemRequest is the mutable subset of an agenda item.
type agendaItemRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Content     *string          `json:"content"`
	Duration    *int             `json:"duration"`
	Type        *models.ItemType `json:"type"`
	OrderIndex  *int             `json:"orderIndex"`
	VisualLink  *string          `json:"visualLink"`
	ParentID    *string          `json:"parentId"`
}

// CreateAgendaItem handles POST /api/meetings/{id}/agenda-items.
func (h *Handlers) CreateAgendaItem(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageAgenda)
	if ident == nil {
		return
	}
	meetingID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	var req agendaItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	item := &models.AgendaItem{MeetingID: meetingID}
	if req.Title != nil {
		item.Title = *req.Title
	}
	if req.Description != nil {
		item.Description = *req.Description
	}
	if req.Content != nil {
		item.Content = *req.Content
	}
	if req.Duration != nil {
		item.Duration = *req.Duration
	}
	if req.Type != nil {
		item.Type = *req.Type
	}
	if req.OrderIndex != nil {
		item.OrderIndex = *req.OrderIndex
	}
	if req.VisualLink != nil {
		item.VisualLink = *req.VisualLink
	}
	if req.ParentID != nil && *req.ParentID != "" {
		parentID, err := primitive.ObjectIDFromHex(*req.ParentID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation", "invalid parent id")
			return
		}
		item.ParentID = &parentID
	}

	created, err := h.Facade.CreateAgendaItem(r.Context(), ident.UserID, item)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// UpdateAgendaItem handles PUT /api/agenda-items/{id}.
func (h *Handlers) UpdateAgendaItem(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageAgenda)
	if ident == nil {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid item id")
		return
	}
	var req agendaItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	upd := store.AgendaItemUpdate{
		Title:       req.Title,
		Description: req.Description,
		Content:     req.Content,
		Duration:    req.Duration,
		Type:        req.Type,
		OrderIndex:  req.OrderIndex,
		VisualLink:  req.VisualLink,
	}
	item, err := h.Facade.UpdateAgendaItem(r.Context(), ident.UserID, id, upd)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// CompleteAgendaItem handles POST /api/agenda-items/{id}/complete.
func (h *Handlers) CompleteAgendaItem(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageAgenda)
	if ident == nil {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid item id")
		return
	}
	var req struct {
		Completed bool `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	item, err := h.Facade.MarkComplete(r.Context(), ident.UserID, id, req.Completed)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// DeleteAgendaItem handles DELETE /api/agenda-items/{id}.
func (h *Handlers) DeleteAgendaItem(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageAgenda)
	if ident == nil {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid item id")
		return
	}
	if err := h.Facade.DeleteAgendaItem(r.Context(), ident.UserID, id); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ---------------------------------------------------------------------------
// Vote handlers
// ---------------------------------------------------------------------------

// CreateVote handles POST /api/agenda-items/{id}/votes.
func (h *Handlers) CreateVote(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageAgenda)
	if ident == nil {
		return
	}
	itemID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid item id")
		return
	}
	var req struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	v, err := h.Facade.CreateVote(r.Context(), ident.UserID, itemID, req.Question, req.Options)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

// ListVotes handles GET /api/agenda-items/{id}/votes.
func (h *Handlers) ListVotes(w http.ResponseWriter, r *http.Request) {
	if h.require(w, r, identity.CanSeeVoteResults) == nil {
		return
	}
	itemID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid item id")
		return
	}
	votes, err := h.Facade.ListVotes(r.Context(), itemID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, votes)
}

// CastVote handles POST /api/votes/{id}/cast.
func (h *Handlers) CastVote(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanVote)
	if ident == nil {
		return
	}
	voteID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid vote id")
		return
	}
	var req struct {
		Option string `json:"option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	tally, err := h.Facade.CastVote(r.Context(), ident.UserID, ident.CompanyID, voteID, req.Option)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "tally": tally})
}

// CloseVote handles POST /api/votes/{id}/close.
func (h *Handlers) CloseVote(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageAgenda)
	if ident == nil {
		return
	}
	voteID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid vote id")
		return
	}
	v, err := h.Facade.CloseVote(r.Context(), ident.UserID, voteID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// DeleteVote handles DELETE /api/votes/{id}.
func (h *Handlers) DeleteVote(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageAgenda)
	if ident == nil {
		return
	}
	voteID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid vote id")
		return
	}
	if err := h.Facade.DeleteVote(r.Context(), ident.UserID, voteID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ---------------------------------------------------------------------------
// Participant handlers
// ---------------------------------------------------------------------------

// ListParticipants handles GET /api/meetings/{id}/participants.
func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	if h.require(w, r, identity.CanView) == nil {
		return
	}
	meetingID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	attendance, err := h.Facade.Participants(r.Context(), meetingID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attendance)
}

// GetQuorum handles GET /api/meetings/{id}/quorum.
func (h *Handlers) GetQuorum(w http.ResponseWriter, r *http.Request) {
	if h.require(w, r, identity.CanView) == nil {
		return
	}
	meetingID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	q, err := h.Facade.QuorumOf(r.Context(), meetingID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// AddParticipant handles POST /api/meetings/{id}/participants.
func (h *Handlers) AddParticipant(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageParticipants)
	if ident == nil {
		return
	}
	meetingID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	var req struct {
		UserID    string `json:"userId"`
		CompanyID string `json:"companyId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.Facade.AddParticipant(r.Context(), ident.UserID, meetingID, req.UserID, req.CompanyID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SetParticipantStatus handles PUT /api/meetings/{id}/participants/{userId}/status.
func (h *Handlers) SetParticipantStatus(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageParticipants)
	if ident == nil {
		return
	}
	meetingID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	userID := mux.Vars(r)["userId"]
	var req struct {
		Status         models.ParticipantStatus `json:"status"`
		ProxyCompanyID string                   `json:"proxyCompanyId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	p, err := h.Facade.SetParticipantStatus(r.Context(), ident.UserID, meetingID, userID, req.Status, req.ProxyCompanyID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// RemoveParticipant handles DELETE /api/meetings/{id}/participants/{userId}.
func (h *Handlers) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	ident := h.require(w, r, identity.CanManageParticipants)
	if ident == nil {
		return
	}
	meetingID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "validation", "invalid meeting id")
		return
	}
	userID := mux.Vars(r)["userId"]
	if err := h.Facade.RemoveParticipant(r.Context(), ident.UserID, meetingID, userID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---------------------------------------------------------------------------
// Audit handler
// ---------------------------------------------------------------------------

// ListAudit handles GET /api/audit.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.require(w, r, identity.CanManageUsers) == nil {
		return
	}
	actor := r.URL.Query().Get("actor")

	var since *time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation", "invalid since parameter, use RFC3339 format")
			return
		}
		since = &t
	}

	limit := int64(100)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.ParseInt(limitStr, 10, 64)
		if err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.Facade.AuditLog(r.Context(), actor, since, limit)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// Health check
// ---------------------------------------------------------------------------

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// WebSocket handler
// ---------------------------------------------------------------------------

// HandleWebSocket handles GET /ws. The identity middleware runs before the
// upgrade, so every connection carries a resolved identity.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}
	ws.ServeWs(h.Hub, h.Facade.Votes(), ident, w, r)
}
