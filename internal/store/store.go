// Package store is the persistence gateway for meetings, agenda items,
// participants, votes and vote responses. Two implementations exist: Mongo
// for durable deployments and Memory for tests and storage-less dev runs.
package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/models"
)

// AgendaItemUpdate carries the partial-update fields for an agenda item. Nil
// fields are left untouched.
type AgendaItemUpdate struct {
	Title       *string
	Description *string
	Content     *string
	Duration    *int
	Type        *models.ItemType
	OrderIndex  *int
	VisualLink  *string
}

// Store is the contract the coordination components consume. All reads
// return fresh state; derived values (tallies, aggregates) are never stored.
type Store interface {
	// Meetings.
	CreateMeeting(ctx context.Context, m *models.Meeting) error
	GetMeeting(ctx context.Context, id primitive.ObjectID) (*models.Meeting, error)
	ListMeetings(ctx context.Context) ([]models.Meeting, error)
	UpdateMeetingStatus(ctx context.Context, id primitive.ObjectID, status models.MeetingStatus) (*models.Meeting, error)
	// DeleteMeeting cascades to agenda items, participants, votes and
	// responses.
	DeleteMeeting(ctx context.Context, id primitive.ObjectID) error

	// Agenda items. ListAgendaItems returns rows sorted by order_index; the
	// parent/child flattening is the sequencer's concern.
	CreateAgendaItem(ctx context.Context, item *models.AgendaItem) error
	GetAgendaItem(ctx context.Context, id primitive.ObjectID) (*models.AgendaItem, error)
	ListAgendaItems(ctx context.Context, meetingID primitive.ObjectID) ([]models.AgendaItem, error)
	UpdateAgendaItem(ctx context.Context, id primitive.ObjectID, upd AgendaItemUpdate) (*models.AgendaItem, error)
	SetAgendaItemCompleted(ctx context.Context, id primitive.ObjectID, completed bool, at *time.Time) (*models.AgendaItem, error)
	// DeleteAgendaItem cascades to the item's votes and their responses.
	DeleteAgendaItem(ctx context.Context, id primitive.ObjectID) error

	// Participants, keyed by (meeting_id, user_id).
	// EnsureParticipant inserts the row if absent and reports whether it was
	// created; an existing row is left untouched.
	EnsureParticipant(ctx context.Context, p *models.Participant) (bool, error)
	SetParticipantStatus(ctx context.Context, meetingID primitive.ObjectID, userID string, status models.ParticipantStatus, proxyCompanyID, updatedBy string) (*models.Participant, error)
	GetParticipant(ctx context.Context, meetingID primitive.ObjectID, userID string) (*models.Participant, error)
	ListParticipants(ctx context.Context, meetingID primitive.ObjectID) ([]models.Participant, error)
	DeleteParticipant(ctx context.Context, meetingID primitive.ObjectID, userID string) error

	// Votes.
	CreateVote(ctx context.Context, v *models.Vote) error
	GetVote(ctx context.Context, id primitive.ObjectID) (*models.Vote, error)
	ListVotesByItem(ctx context.Context, itemID primitive.ObjectID) ([]models.Vote, error)
	// CloseVote transitions an open vote to closed, setting closed_at once.
	// Closing an already-closed vote leaves it untouched and returns the
	// stored document.
	CloseVote(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.Vote, error)
	// DeleteVote cascades to the vote's responses.
	DeleteVote(ctx context.Context, id primitive.ObjectID) error

	// Responses, keyed by (vote_id, user_id). UpsertVoteResponse is a single
	// atomic insert-or-replace; it is the hottest contention point and must
	// never be a read-then-write pair.
	UpsertVoteResponse(ctx context.Context, r *models.VoteResponse) error
	ListVoteResponses(ctx context.Context, voteID primitive.ObjectID) ([]models.VoteResponse, error)

	// Audit log.
	CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	ListAuditEntries(ctx context.Context, actor string, since *time.Time, limit int64) ([]models.AuditEntry, error)
}
