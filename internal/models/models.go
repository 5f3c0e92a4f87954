package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MeetingStatus is externally driven; the core performs no automatic
// transitions between these values.
type MeetingStatus string

const (
	MeetingDraft      MeetingStatus = "draft"
	MeetingScheduled  MeetingStatus = "scheduled"
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingCompleted  MeetingStatus = "completed"
)

// ValidMeetingStatus reports whether s is one of the known meeting statuses.
func ValidMeetingStatus(s MeetingStatus) bool {
	switch s {
	case MeetingDraft, MeetingScheduled, MeetingInProgress, MeetingCompleted:
		return true
	}
	return false
}

// Meeting represents a scheduled assembly. Deleting a meeting cascades to its
// agenda items, participants, votes and vote responses.
type Meeting struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Title       string             `json:"title" bson:"title"`
	ScheduledAt time.Time          `json:"scheduled_at" bson:"scheduled_at"`
	Status      MeetingStatus      `json:"status" bson:"status"`
	CreatedBy   string             `json:"created_by" bson:"created_by"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
}

// ItemType classifies an agenda item.
type ItemType string

const (
	ItemProcedural   ItemType = "procedural"
	ItemPresentation ItemType = "presentation"
	ItemDiscussion   ItemType = "discussion"
	ItemBreak        ItemType = "break"
	ItemOpening      ItemType = "opening"
	ItemClosing      ItemType = "closing"
	ItemDecision     ItemType = "decision"
	ItemInformation  ItemType = "information"
)

// ValidItemType reports whether t is one of the known agenda item types.
func ValidItemType(t ItemType) bool {
	switch t {
	case ItemProcedural, ItemPresentation, ItemDiscussion, ItemBreak,
		ItemOpening, ItemClosing, ItemDecision, ItemInformation:
		return true
	}
	return false
}

// AgendaItem is one row of a meeting's agenda. Items nest exactly one level:
// a top-level section, or a sub-item referencing its parent section. Order
// indices are unique within a meeting and define the flattened presentation
// sequence.
type AgendaItem struct {
	ID          primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	MeetingID   primitive.ObjectID  `json:"meeting_id" bson:"meeting_id"`
	ParentID    *primitive.ObjectID `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Title       string              `json:"title" bson:"title"`
	Description string              `json:"description" bson:"description"`
	Content     string              `json:"content" bson:"content"`
	Duration    int                 `json:"duration" bson:"duration"` // minutes
	Type        ItemType            `json:"type" bson:"type"`
	OrderIndex  int                 `json:"order_index" bson:"order_index"`
	VisualLink  string              `json:"visual_link,omitempty" bson:"visual_link,omitempty"`
	Completed   bool                `json:"completed" bson:"completed"`
	CompletedAt *time.Time          `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// ParticipantStatus is the attendance state of one user in one meeting.
type ParticipantStatus string

const (
	StatusInvited ParticipantStatus = "invited"
	StatusPresent ParticipantStatus = "present"
	StatusAbsent  ParticipantStatus = "absent"
	StatusExcused ParticipantStatus = "excused"
	StatusProxy   ParticipantStatus = "proxy"
)

// ValidParticipantStatus reports whether s is one of the known statuses.
func ValidParticipantStatus(s ParticipantStatus) bool {
	switch s {
	case StatusInvited, StatusPresent, StatusAbsent, StatusExcused, StatusProxy:
		return true
	}
	return false
}

// Participant is a ledger row keyed by (meeting, user). A participant in
// status proxy carries the company receiving its organization's mandate;
// every other status carries no target.
type Participant struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MeetingID      primitive.ObjectID `json:"meeting_id" bson:"meeting_id"`
	UserID         string             `json:"user_id" bson:"user_id"`
	CompanyID      string             `json:"company_id" bson:"company_id"`
	Status         ParticipantStatus  `json:"status" bson:"status"`
	ProxyCompanyID string             `json:"proxy_company_id,omitempty" bson:"proxy_company_id,omitempty"`
	UpdatedBy      string             `json:"updated_by" bson:"updated_by"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
}

// Vote is a poll attached to an agenda item. Options are immutable after
// creation; a closed vote accepts no further responses.
type Vote struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AgendaItemID primitive.ObjectID `json:"agenda_item_id" bson:"agenda_item_id"`
	MeetingID    primitive.ObjectID `json:"meeting_id" bson:"meeting_id"`
	Question     string             `json:"question" bson:"question"`
	Options      []string           `json:"options" bson:"options"`
	IsOpen       bool               `json:"is_open" bson:"is_open"`
	CreatedBy    string             `json:"created_by" bson:"created_by"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	ClosedAt     *time.Time         `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
}

// VoteResponse is one ballot, keyed by (vote, user). Re-casting replaces the
// row; there is never more than one ballot per user per vote.
type VoteResponse struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VoteID    primitive.ObjectID `json:"vote_id" bson:"vote_id"`
	UserID    string             `json:"user_id" bson:"user_id"`
	CompanyID string             `json:"company_id" bson:"company_id"`
	Option    string             `json:"option" bson:"option"`
	CastAt    time.Time          `json:"cast_at" bson:"cast_at"`
}

// TallyEntry is the recomputed result for a single option.
type TallyEntry struct {
	Option     string `json:"option"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Tally is the full recomputed result of a vote.
type Tally struct {
	VoteID         primitive.ObjectID `json:"vote_id"`
	TotalResponses int                `json:"total_responses"`
	Entries        []TallyEntry       `json:"entries"`
}

// CompanyAttendance is the derived, organization-level view of a meeting's
// ledger: one row per company with its aggregate status and mandate links.
type CompanyAttendance struct {
	CompanyID        string            `json:"company_id"`
	Status           ParticipantStatus `json:"status"`
	Users            []string          `json:"users"`
	MandateGiven     string            `json:"mandate_given,omitempty"`
	MandatesReceived []string          `json:"mandates_received,omitempty"`
	Participants     []Participant     `json:"participants"`
}

// Quorum carries the two counts a quorum policy is computed from. The
// pass/fail threshold itself is external to this service.
type Quorum struct {
	PresentCompanies int `json:"present_companies"`
	ProxyCompanies   int `json:"proxy_companies"`
}

// AuditEntry records a session mutation for traceability.
type AuditEntry struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Actor     string             `json:"actor" bson:"actor"`
	Action    string             `json:"action" bson:"action"`
	Details   map[string]any     `json:"details" bson:"details"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"`
}
