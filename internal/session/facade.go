// Package session is the composition root a presentation surface talks to.
// Every mutating call follows the same contract: validate, write through the
// gateway, and only on write success hand the change to the realtime hub.
// A failed write surfaces its error and broadcasts nothing.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/agenda"
	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/ledger"
	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/store"
	"github.com/yasarts/reunion-live/internal/vote"
	"github.com/yasarts/reunion-live/internal/ws"
)

// Facade composes the sequencer, ledger, vote engine and hub. It owns no
// persisted entities and no process-wide state; navigation state lives in
// the caller-supplied agenda.SessionState.
type Facade struct {
	store  store.Store
	agenda *agenda.Sequencer
	ledger *ledger.Ledger
	votes  *vote.Engine
	hub    *ws.Hub
	log    *logrus.Logger
}

// New wires a Facade.
func New(st store.Store, hub *ws.Hub, log *logrus.Logger) *Facade {
	return &Facade{
		store:  st,
		agenda: agenda.NewSequencer(st),
		ledger: ledger.New(st),
		votes:  vote.NewEngine(st),
		hub:    hub,
		log:    log,
	}
}

// Votes exposes the vote engine for collaborators that only need tallies,
// such as the websocket relay.
func (f *Facade) Votes() *vote.Engine { return f.votes }

// AgendaView is the presentation payload for a meeting's agenda.
type AgendaView struct {
	Items         []models.AgendaItem `json:"items"`
	TotalDuration int                 `json:"total_duration"`
}

// ---------------------------------------------------------------------------
// Meetings
// ---------------------------------------------------------------------------

// CreateMeeting stores a new draft meeting.
func (f *Facade) CreateMeeting(ctx context.Context, actor, title string, scheduledAt time.Time) (*models.Meeting, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("create meeting: title is required: %w", domain.ErrValidation)
	}
	m := &models.Meeting{
		Title:       strings.TrimSpace(title),
		ScheduledAt: scheduledAt,
		Status:      models.MeetingDraft,
		CreatedBy:   actor,
	}
	if err := f.store.CreateMeeting(ctx, m); err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "meeting.create", map[string]any{"meeting_id": m.ID.Hex(), "title": m.Title})
	return m, nil
}

// GetMeeting returns the stored meeting.
func (f *Facade) GetMeeting(ctx context.Context, id primitive.ObjectID) (*models.Meeting, error) {
	return f.store.GetMeeting(ctx, id)
}

// ListMeetings returns all meetings ordered by schedule.
func (f *Facade) ListMeetings(ctx context.Context) ([]models.Meeting, error) {
	return f.store.ListMeetings(ctx)
}

// SetMeetingStatus applies an externally driven status transition.
func (f *Facade) SetMeetingStatus(ctx context.Context, actor string, id primitive.ObjectID, status models.MeetingStatus) (*models.Meeting, error) {
	if !models.ValidMeetingStatus(status) {
		return nil, fmt.Errorf("set meeting status: unknown status %q: %w", status, domain.ErrValidation)
	}
	m, err := f.store.UpdateMeetingStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "meeting.status", map[string]any{"meeting_id": id.Hex(), "status": string(status)})
	return m, nil
}

// DeleteMeeting removes the meeting and everything it owns.
func (f *Facade) DeleteMeeting(ctx context.Context, actor string, id primitive.ObjectID) error {
	if err := f.store.DeleteMeeting(ctx, id); err != nil {
		return err
	}
	f.audit(ctx, actor, "meeting.delete", map[string]any{"meeting_id": id.Hex()})
	return nil
}

// ---------------------------------------------------------------------------
// Agenda
// ---------------------------------------------------------------------------

// Agenda returns the flattened agenda with the meeting's total duration.
func (f *Facade) Agenda(ctx context.Context, meetingID primitive.ObjectID, sess *agenda.SessionState) (*AgendaView, error) {
	if sess == nil {
		sess = agenda.NewSessionState(meetingID)
	}
	items, err := f.agenda.Items(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	total, err := f.agenda.TotalDuration(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &AgendaView{Items: items, TotalDuration: total}, nil
}

// CurrentItem returns the item the session is on, nil for the overview.
func (f *Facade) CurrentItem(ctx context.Context, sess *agenda.SessionState) (*models.AgendaItem, error) {
	return f.agenda.Current(ctx, sess)
}

// Advance moves the session forward one item, clamped at the end.
func (f *Facade) Advance(ctx context.Context, sess *agenda.SessionState) (int, error) {
	return f.agenda.Advance(ctx, sess)
}

// Retreat moves the session back one item, clamped at the overview.
func (f *Facade) Retreat(ctx context.Context, sess *agenda.SessionState) (int, error) {
	return f.agenda.Retreat(ctx, sess)
}

// JumpTo positions the session on a specific agenda item.
func (f *Facade) JumpTo(ctx context.Context, sess *agenda.SessionState, itemID primitive.ObjectID) (int, error) {
	return f.agenda.JumpTo(ctx, sess, itemID)
}

// CreateAgendaItem stores a new agenda item.
func (f *Facade) CreateAgendaItem(ctx context.Context, actor string, item *models.AgendaItem) (*models.AgendaItem, error) {
	if strings.TrimSpace(item.Title) == "" {
		return nil, fmt.Errorf("create agenda item: title is required: %w", domain.ErrValidation)
	}
	if item.Type == "" {
		item.Type = models.ItemDiscussion
	}
	if !models.ValidItemType(item.Type) {
		return nil, fmt.Errorf("create agenda item: unknown type %q: %w", item.Type, domain.ErrValidation)
	}
	if _, err := f.store.GetMeeting(ctx, item.MeetingID); err != nil {
		return nil, err
	}
	if item.ParentID != nil {
		parent, err := f.store.GetAgendaItem(ctx, *item.ParentID)
		if err != nil {
			return nil, err
		}
		// One level of nesting only.
		if parent.ParentID != nil {
			return nil, fmt.Errorf("create agenda item: parent is already a sub-item: %w", domain.ErrValidation)
		}
	}
	if err := f.store.CreateAgendaItem(ctx, item); err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "agenda.create", map[string]any{"item_id": item.ID.Hex(), "meeting_id": item.MeetingID.Hex()})
	f.broadcastAgenda(item.MeetingID, item)
	return item, nil
}

// UpdateAgendaItem applies a partial update and fans the result out.
func (f *Facade) UpdateAgendaItem(ctx context.Context, actor string, itemID primitive.ObjectID, upd store.AgendaItemUpdate) (*models.AgendaItem, error) {
	if upd.Type != nil && !models.ValidItemType(*upd.Type) {
		return nil, fmt.Errorf("update agenda item: unknown type %q: %w", *upd.Type, domain.ErrValidation)
	}
	item, err := f.store.UpdateAgendaItem(ctx, itemID, upd)
	if err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "agenda.update", map[string]any{"item_id": itemID.Hex()})
	f.broadcastAgenda(item.MeetingID, item)
	return item, nil
}

// MarkComplete persists an item's completion flag and fans the change out.
// It never advances the cursor; that is a presentation policy.
func (f *Facade) MarkComplete(ctx context.Context, actor string, itemID primitive.ObjectID, completed bool) (*models.AgendaItem, error) {
	item, err := f.agenda.MarkComplete(ctx, itemID, completed)
	if err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "agenda.complete", map[string]any{"item_id": itemID.Hex(), "completed": completed})
	f.broadcastAgenda(item.MeetingID, item)
	return item, nil
}

// DeleteAgendaItem removes the item (and its votes) and notifies the room.
func (f *Facade) DeleteAgendaItem(ctx context.Context, actor string, itemID primitive.ObjectID) error {
	item, err := f.store.GetAgendaItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := f.store.DeleteAgendaItem(ctx, itemID); err != nil {
		return err
	}
	f.audit(ctx, actor, "agenda.delete", map[string]any{"item_id": itemID.Hex()})
	f.broadcastAgenda(item.MeetingID, map[string]any{"id": itemID.Hex(), "deleted": true})
	return nil
}

// ---------------------------------------------------------------------------
// Votes
// ---------------------------------------------------------------------------

// CreateVote opens a new vote on the agenda item.
func (f *Facade) CreateVote(ctx context.Context, actor string, itemID primitive.ObjectID, question string, options []string) (*models.Vote, error) {
	v, err := f.votes.Create(ctx, itemID, question, options, actor)
	if err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "vote.create", map[string]any{"vote_id": v.ID.Hex(), "item_id": itemID.Hex()})
	return v, nil
}

// ListVotes returns the item's votes with fresh tallies.
func (f *Facade) ListVotes(ctx context.Context, itemID primitive.ObjectID) ([]vote.WithTally, error) {
	return f.votes.ListWithTallies(ctx, itemID)
}

// CastVote records the ballot, then pushes the fresh tally to every
// connection in the meeting room, the caster's own included.
func (f *Facade) CastVote(ctx context.Context, userID, companyID string, voteID primitive.ObjectID, option string) (*models.Tally, error) {
	v, tally, err := f.votes.Cast(ctx, voteID, userID, companyID, option)
	if err != nil {
		return nil, err
	}
	f.audit(ctx, userID, "vote.cast", map[string]any{"vote_id": voteID.Hex()})
	f.broadcastTally(v.MeetingID, voteID, tally)
	return tally, nil
}

// CloseVote closes the vote (idempotently) and pushes the final tally.
func (f *Facade) CloseVote(ctx context.Context, actor string, voteID primitive.ObjectID) (*models.Vote, error) {
	v, err := f.votes.Close(ctx, voteID)
	if err != nil {
		return nil, err
	}
	tally, err := f.votes.Tally(ctx, voteID)
	if err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "vote.close", map[string]any{"vote_id": voteID.Hex()})
	f.broadcastTally(v.MeetingID, voteID, tally)
	return v, nil
}

// DeleteVote removes the vote and its responses.
func (f *Facade) DeleteVote(ctx context.Context, actor string, voteID primitive.ObjectID) error {
	if err := f.votes.Delete(ctx, voteID); err != nil {
		return err
	}
	f.audit(ctx, actor, "vote.delete", map[string]any{"vote_id": voteID.Hex()})
	return nil
}

// ---------------------------------------------------------------------------
// Participants
// ---------------------------------------------------------------------------

// Participants returns the organization-level attendance view.
func (f *Facade) Participants(ctx context.Context, meetingID primitive.ObjectID) ([]models.CompanyAttendance, error) {
	return f.ledger.AggregateByCompany(ctx, meetingID)
}

// QuorumOf returns the meeting's current quorum counts.
func (f *Facade) QuorumOf(ctx context.Context, meetingID primitive.ObjectID) (models.Quorum, error) {
	return f.ledger.Quorum(ctx, meetingID)
}

// AddParticipant idempotently registers a user in the meeting's ledger.
func (f *Facade) AddParticipant(ctx context.Context, actor string, meetingID primitive.ObjectID, userID, companyID string) error {
	if _, err := f.store.GetMeeting(ctx, meetingID); err != nil {
		return err
	}
	created, err := f.ledger.AddParticipant(ctx, meetingID, userID, companyID, actor)
	if err != nil {
		return err
	}
	if created {
		f.audit(ctx, actor, "participant.add", map[string]any{"meeting_id": meetingID.Hex(), "user_id": userID})
	}
	return nil
}

// SetParticipantStatus changes attendance or mandate state.
func (f *Facade) SetParticipantStatus(ctx context.Context, actor string, meetingID primitive.ObjectID, userID string, status models.ParticipantStatus, proxyCompanyID string) (*models.Participant, error) {
	p, err := f.ledger.SetStatus(ctx, meetingID, userID, status, proxyCompanyID, actor)
	if err != nil {
		return nil, err
	}
	f.audit(ctx, actor, "participant.status", map[string]any{
		"meeting_id": meetingID.Hex(),
		"user_id":    userID,
		"status":     string(status),
	})
	return p, nil
}

// RemoveParticipant deletes the ledger row and invalidates mandates that
// pointed at a company no longer present.
func (f *Facade) RemoveParticipant(ctx context.Context, actor string, meetingID primitive.ObjectID, userID string) error {
	if err := f.ledger.RemoveParticipant(ctx, meetingID, userID, actor); err != nil {
		return err
	}
	f.audit(ctx, actor, "participant.remove", map[string]any{"meeting_id": meetingID.Hex(), "user_id": userID})
	return nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditLog lists recorded mutations, newest first.
func (f *Facade) AuditLog(ctx context.Context, actor string, since *time.Time, limit int64) ([]models.AuditEntry, error) {
	return f.store.ListAuditEntries(ctx, actor, since, limit)
}

// audit records the mutation for traceability. An audit write failure is
// logged, not surfaced: the primary write already committed.
func (f *Facade) audit(ctx context.Context, actor, action string, details map[string]any) {
	err := f.store.CreateAuditEntry(ctx, &models.AuditEntry{
		Actor:   actor,
		Action:  action,
		Details: details,
	})
	if err != nil {
		f.log.WithError(err).WithField("action", action).Warn("audit entry failed")
	}
}

// broadcastTally pushes a vote_update to the whole room.
func (f *Facade) broadcastTally(meetingID, voteID primitive.ObjectID, tally *models.Tally) {
	payload, err := json.Marshal(ws.VoteUpdate{
		Type:    "vote_update",
		VoteID:  voteID.Hex(),
		Results: tally,
	})
	if err != nil {
		return
	}
	f.hub.Broadcast(meetingID.Hex(), payload)
}

// broadcastAgenda pushes an agenda_update to the whole room. Mutations that
// arrive over HTTP have no originating connection to exclude; an optimistic
// client treats the echo as a duplicate confirmation.
func (f *Facade) broadcastAgenda(meetingID primitive.ObjectID, item any) {
	payload, err := json.Marshal(ws.AgendaUpdate{
		Type:       "agenda_update",
		AgendaItem: item,
	})
	if err != nil {
		return
	}
	f.hub.Broadcast(meetingID.Hex(), payload)
}
