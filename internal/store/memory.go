package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/models"
)

// Memory implements Store with mutex-guarded maps. It backs tests and
// storage-less development runs; nothing survives a restart. The single
// mutex gives every operation the same atomicity the Mongo implementation
// gets from per-document upserts.
type Memory struct {
	mu           sync.Mutex
	meetings     map[primitive.ObjectID]models.Meeting
	agendaItems  map[primitive.ObjectID]models.AgendaItem
	participants map[string]models.Participant // key: meetingHex/userID
	votes        map[primitive.ObjectID]models.Vote
	responses    map[string]models.VoteResponse // key: voteHex/userID
	audit        []models.AuditEntry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		meetings:     make(map[primitive.ObjectID]models.Meeting),
		agendaItems:  make(map[primitive.ObjectID]models.AgendaItem),
		participants: make(map[string]models.Participant),
		votes:        make(map[primitive.ObjectID]models.Vote),
		responses:    make(map[string]models.VoteResponse),
	}
}

func participantKey(meetingID primitive.ObjectID, userID string) string {
	return meetingID.Hex() + "/" + userID
}

func responseKey(voteID primitive.ObjectID, userID string) string {
	return voteID.Hex() + "/" + userID
}

// ---------------------------------------------------------------------------
// Meeting operations
// ---------------------------------------------------------------------------

func (s *Memory) CreateMeeting(_ context.Context, m *models.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = primitive.NewObjectID()
	m.CreatedAt = time.Now().UTC()
	if m.Status == "" {
		m.Status = models.MeetingDraft
	}
	s.meetings[m.ID] = *m
	return nil
}

func (s *Memory) GetMeeting(_ context.Context, id primitive.ObjectID) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("get meeting: %w", domain.ErrNotFound)
	}
	return &m, nil
}

func (s *Memory) ListMeetings(_ context.Context) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meetings := make([]models.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		meetings = append(meetings, m)
	}
	sort.Slice(meetings, func(i, j int) bool {
		return meetings[i].ScheduledAt.Before(meetings[j].ScheduledAt)
	})
	return meetings, nil
}

func (s *Memory) UpdateMeetingStatus(_ context.Context, id primitive.ObjectID, status models.MeetingStatus) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("update meeting status: %w", domain.ErrNotFound)
	}
	m.Status = status
	s.meetings[id] = m
	return &m, nil
}

func (s *Memory) DeleteMeeting(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[id]; !ok {
		return fmt.Errorf("delete meeting: %w", domain.ErrNotFound)
	}
	delete(s.meetings, id)
	for itemID, item := range s.agendaItems {
		if item.MeetingID == id {
			delete(s.agendaItems, itemID)
		}
	}
	for key, p := range s.participants {
		if p.MeetingID == id {
			delete(s.participants, key)
		}
	}
	for voteID, v := range s.votes {
		if v.MeetingID == id {
			s.deleteVoteLocked(voteID)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Agenda item operations
// ---------------------------------------------------------------------------

func (s *Memory) CreateAgendaItem(_ context.Context, item *models.AgendaItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.ID = primitive.NewObjectID()
	s.agendaItems[item.ID] = *item
	return nil
}

func (s *Memory) GetAgendaItem(_ context.Context, id primitive.ObjectID) (*models.AgendaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.agendaItems[id]
	if !ok {
		return nil, fmt.Errorf("get agenda item: %w", domain.ErrNotFound)
	}
	return &item, nil
}

func (s *Memory) ListAgendaItems(_ context.Context, meetingID primitive.ObjectID) ([]models.AgendaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := []models.AgendaItem{}
	for _, item := range s.agendaItems {
		if item.MeetingID == meetingID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].OrderIndex < items[j].OrderIndex
	})
	return items, nil
}

func (s *Memory) UpdateAgendaItem(_ context.Context, id primitive.ObjectID, upd AgendaItemUpdate) (*models.AgendaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.agendaItems[id]
	if !ok {
		return nil, fmt.Errorf("update agenda item: %w", domain.ErrNotFound)
	}
	if upd.Title != nil {
		item.Title = *upd.Title
	}
	if upd.Description != nil {
		item.Description = *upd.Description
	}
	if upd.Content != nil {
		item.Content = *upd.Content
	}
	if upd.Duration != nil {
		item.Duration = *upd.Duration
	}
	if upd.Type != nil {
		item.Type = *upd.Type
	}
	if upd.OrderIndex != nil {
		item.OrderIndex = *upd.OrderIndex
	}
	if upd.VisualLink != nil {
		item.VisualLink = *upd.VisualLink
	}
	s.agendaItems[id] = item
	return &item, nil
}

func (s *Memory) SetAgendaItemCompleted(_ context.Context, id primitive.ObjectID, completed bool, at *time.Time) (*models.AgendaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.agendaItems[id]
	if !ok {
		return nil, fmt.Errorf("set agenda item completed: %w", domain.ErrNotFound)
	}
	item.Completed = completed
	if completed && at != nil {
		item.CompletedAt = at
	} else {
		item.CompletedAt = nil
	}
	s.agendaItems[id] = item
	return &item, nil
}

func (s *Memory) DeleteAgendaItem(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agendaItems[id]; !ok {
		return fmt.Errorf("delete agenda item: %w", domain.ErrNotFound)
	}
	delete(s.agendaItems, id)
	for voteID, v := range s.votes {
		if v.AgendaItemID == id {
			s.deleteVoteLocked(voteID)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Participant operations
// ---------------------------------------------------------------------------

func (s *Memory) EnsureParticipant(_ context.Context, p *models.Participant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participantKey(p.MeetingID, p.UserID)
	if _, ok := s.participants[key]; ok {
		return false, nil
	}
	p.ID = primitive.NewObjectID()
	p.UpdatedAt = time.Now().UTC()
	s.participants[key] = *p
	return true, nil
}

func (s *Memory) SetParticipantStatus(_ context.Context, meetingID primitive.ObjectID, userID string, status models.ParticipantStatus, proxyCompanyID, updatedBy string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participantKey(meetingID, userID)
	p, ok := s.participants[key]
	if !ok {
		return nil, fmt.Errorf("set participant status: %w", domain.ErrNotFound)
	}
	p.Status = status
	p.ProxyCompanyID = proxyCompanyID
	p.UpdatedBy = updatedBy
	p.UpdatedAt = time.Now().UTC()
	s.participants[key] = p
	return &p, nil
}

func (s *Memory) GetParticipant(_ context.Context, meetingID primitive.ObjectID, userID string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantKey(meetingID, userID)]
	if !ok {
		return nil, fmt.Errorf("get participant: %w", domain.ErrNotFound)
	}
	return &p, nil
}

func (s *Memory) ListParticipants(_ context.Context, meetingID primitive.ObjectID) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants := []models.Participant{}
	for _, p := range s.participants {
		if p.MeetingID == meetingID {
			participants = append(participants, p)
		}
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].CompanyID != participants[j].CompanyID {
			return participants[i].CompanyID < participants[j].CompanyID
		}
		return participants[i].UserID < participants[j].UserID
	})
	return participants, nil
}

func (s *Memory) DeleteParticipant(_ context.Context, meetingID primitive.ObjectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participantKey(meetingID, userID)
	if _, ok := s.participants[key]; !ok {
		return fmt.Errorf("delete participant: %w", domain.ErrNotFound)
	}
	delete(s.participants, key)
	return nil
}

// ---------------------------------------------------------------------------
// Vote operations
// ---------------------------------------------------------------------------

func (s *Memory) CreateVote(_ context.Context, v *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.ID = primitive.NewObjectID()
	v.CreatedAt = time.Now().UTC()
	v.IsOpen = true
	s.votes[v.ID] = *v
	return nil
}

func (s *Memory) GetVote(_ context.Context, id primitive.ObjectID) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.votes[id]
	if !ok {
		return nil, fmt.Errorf("get vote: %w", domain.ErrNotFound)
	}
	return &v, nil
}

func (s *Memory) ListVotesByItem(_ context.Context, itemID primitive.ObjectID) ([]models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	votes := []models.Vote{}
	for _, v := range s.votes {
		if v.AgendaItemID == itemID {
			votes = append(votes, v)
		}
	}
	sort.Slice(votes, func(i, j int) bool {
		return votes[i].CreatedAt.Before(votes[j].CreatedAt)
	})
	return votes, nil
}

func (s *Memory) CloseVote(_ context.Context, id primitive.ObjectID, at time.Time) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.votes[id]
	if !ok {
		return nil, fmt.Errorf("close vote: %w", domain.ErrNotFound)
	}
	if v.IsOpen {
		v.IsOpen = false
		v.ClosedAt = &at
		s.votes[id] = v
	}
	return &v, nil
}

func (s *Memory) DeleteVote(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.votes[id]; !ok {
		return fmt.Errorf("delete vote: %w", domain.ErrNotFound)
	}
	s.deleteVoteLocked(id)
	return nil
}

func (s *Memory) deleteVoteLocked(id primitive.ObjectID) {
	delete(s.votes, id)
	prefix := id.Hex() + "/"
	for key := range s.responses {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.responses, key)
		}
	}
}

// ---------------------------------------------------------------------------
// Vote response operations
// ---------------------------------------------------------------------------

func (s *Memory) UpsertVoteResponse(_ context.Context, r *models.VoteResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := responseKey(r.VoteID, r.UserID)
	r.CastAt = time.Now().UTC()
	if existing, ok := s.responses[key]; ok {
		r.ID = existing.ID
	} else {
		r.ID = primitive.NewObjectID()
	}
	s.responses[key] = *r
	return nil
}

func (s *Memory) ListVoteResponses(_ context.Context, voteID primitive.ObjectID) ([]models.VoteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	responses := []models.VoteResponse{}
	for _, r := range s.responses {
		if r.VoteID == voteID {
			responses = append(responses, r)
		}
	}
	sort.Slice(responses, func(i, j int) bool {
		return responses[i].CastAt.Before(responses[j].CastAt)
	})
	return responses, nil
}

// ---------------------------------------------------------------------------
// Audit operations
// ---------------------------------------------------------------------------

func (s *Memory) CreateAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = primitive.NewObjectID()
	entry.Timestamp = time.Now().UTC()
	s.audit = append(s.audit, *entry)
	return nil
}

func (s *Memory) ListAuditEntries(_ context.Context, actor string, since *time.Time, limit int64) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []models.AuditEntry{}
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if actor != "" && e.Actor != actor {
			continue
		}
		if since != nil && !e.Timestamp.After(*since) {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && int64(len(entries)) >= limit {
			break
		}
	}
	return entries, nil
}
