// Package agenda presents a meeting's agenda as a single ordered, navigable
// sequence and tracks which item a viewing session is on.
package agenda

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/store"
)

// OverviewIndex is the sentinel cursor position meaning "show the whole
// agenda". It is a valid, addressable state, not an error.
const OverviewIndex = -1

// SessionState is the transient per-viewer navigation state. It is owned by
// the caller (one per presentation connection) and passed into every
// sequencer operation; the sequencer itself keeps no state between calls.
type SessionState struct {
	MeetingID primitive.ObjectID
	Index     int
	// DurationOverrides maps item ids to a session-local duration (minutes)
	// that takes precedence over the stored estimate.
	DurationOverrides map[primitive.ObjectID]int
}

// NewSessionState creates a session positioned on the agenda overview.
func NewSessionState(meetingID primitive.ObjectID) *SessionState {
	return &SessionState{
		MeetingID:         meetingID,
		Index:             OverviewIndex,
		DurationOverrides: make(map[primitive.ObjectID]int),
	}
}

// Sequencer projects and navigates the flattened agenda.
type Sequencer struct {
	store store.Store
}

// NewSequencer creates a Sequencer over the given gateway.
func NewSequencer(st store.Store) *Sequencer {
	return &Sequencer{store: st}
}

// Flatten orders items so each top-level item is immediately followed by its
// sub-items, both levels in stored order-index order. Every item appears
// exactly once; a sub-item whose parent is missing is kept as top-level
// rather than dropped.
func Flatten(items []models.AgendaItem) []models.AgendaItem {
	children := make(map[primitive.ObjectID][]models.AgendaItem)
	known := make(map[primitive.ObjectID]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}

	var tops []models.AgendaItem
	for _, item := range items {
		if item.ParentID != nil && known[*item.ParentID] {
			children[*item.ParentID] = append(children[*item.ParentID], item)
			continue
		}
		tops = append(tops, item)
	}

	flat := make([]models.AgendaItem, 0, len(items))
	for _, top := range tops {
		flat = append(flat, top)
		flat = append(flat, children[top.ID]...)
	}
	return flat
}

// Items returns the meeting's flattened agenda, freshly loaded.
func (s *Sequencer) Items(ctx context.Context, meetingID primitive.ObjectID) ([]models.AgendaItem, error) {
	items, err := s.store.ListAgendaItems(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return Flatten(items), nil
}

// Current returns the item the session is on, or nil when the session is on
// the overview. An index beyond the current agenda length (items were
// deleted since navigation) is treated as the last item.
func (s *Sequencer) Current(ctx context.Context, sess *SessionState) (*models.AgendaItem, error) {
	if sess.Index == OverviewIndex {
		return nil, nil
	}
	items, err := s.Items(ctx, sess.MeetingID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		sess.Index = OverviewIndex
		return nil, nil
	}
	if sess.Index >= len(items) {
		sess.Index = len(items) - 1
	}
	item := items[sess.Index]
	return &item, nil
}

// Advance moves the session cursor forward one position, clamped to the last
// item. At the boundary it is a no-op. Returns the new index.
func (s *Sequencer) Advance(ctx context.Context, sess *SessionState) (int, error) {
	items, err := s.Items(ctx, sess.MeetingID)
	if err != nil {
		return sess.Index, err
	}
	if sess.Index < len(items)-1 {
		sess.Index++
	}
	return sess.Index, nil
}

// Retreat moves the session cursor back one position, clamped to the
// overview sentinel. At the boundary it is a no-op. Returns the new index.
func (s *Sequencer) Retreat(_ context.Context, sess *SessionState) (int, error) {
	if sess.Index > OverviewIndex {
		sess.Index--
	}
	return sess.Index, nil
}

// JumpTo positions the session on the given item within the flattened
// sequence. An item not in this meeting's agenda is reported, not ignored.
func (s *Sequencer) JumpTo(ctx context.Context, sess *SessionState, itemID primitive.ObjectID) (int, error) {
	items, err := s.Items(ctx, sess.MeetingID)
	if err != nil {
		return sess.Index, err
	}
	for i, item := range items {
		if item.ID == itemID {
			sess.Index = i
			return i, nil
		}
	}
	return sess.Index, fmt.Errorf("jump to item %s: %w", itemID.Hex(), domain.ErrNotFound)
}

// MarkComplete persists the completion flag, stamping the completion time
// when completing and clearing it otherwise. It never moves the cursor;
// auto-advance is a presentation policy, not a sequencer behavior.
func (s *Sequencer) MarkComplete(ctx context.Context, itemID primitive.ObjectID, completed bool) (*models.AgendaItem, error) {
	var at *time.Time
	if completed {
		now := time.Now().UTC()
		at = &now
	}
	return s.store.SetAgendaItemCompleted(ctx, itemID, completed, at)
}

// EffectiveDuration returns the session-local override for the item when one
// exists, else its stored estimate.
func EffectiveDuration(item models.AgendaItem, sess *SessionState) int {
	if sess != nil {
		if d, ok := sess.DurationOverrides[item.ID]; ok {
			return d
		}
	}
	return item.Duration
}

// TotalDuration sums the meeting's effective duration in minutes. A parent
// with children contributes the sum of its children's durations, not its
// own; its stored estimate only counts when it has no children.
func (s *Sequencer) TotalDuration(ctx context.Context, sess *SessionState) (int, error) {
	items, err := s.store.ListAgendaItems(ctx, sess.MeetingID)
	if err != nil {
		return 0, err
	}

	known := make(map[primitive.ObjectID]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}

	childSums := make(map[primitive.ObjectID]int)
	hasChildren := make(map[primitive.ObjectID]bool)
	for _, item := range items {
		if item.ParentID != nil && known[*item.ParentID] {
			childSums[*item.ParentID] += EffectiveDuration(item, sess)
			hasChildren[*item.ParentID] = true
		}
	}

	total := 0
	for _, item := range items {
		if item.ParentID != nil && known[*item.ParentID] {
			continue
		}
		if hasChildren[item.ID] {
			total += childSums[item.ID]
		} else {
			total += EffectiveDuration(item, sess)
		}
	}
	return total, nil
}
