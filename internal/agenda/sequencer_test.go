package agenda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/store"
)

// seedAgenda stores a meeting with section S (25 min, children C1=8, C2=10)
// and section T (20 min, no children).
func seedAgenda(t *testing.T) (store.Store, primitive.ObjectID, []models.AgendaItem) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	m := &models.Meeting{Title: "AG", Status: models.MeetingScheduled}
	require.NoError(t, st.CreateMeeting(ctx, m))

	s := &models.AgendaItem{MeetingID: m.ID, Title: "S", Duration: 25, Type: models.ItemDiscussion, OrderIndex: 0}
	require.NoError(t, st.CreateAgendaItem(ctx, s))
	c1 := &models.AgendaItem{MeetingID: m.ID, ParentID: &s.ID, Title: "C1", Duration: 8, Type: models.ItemPresentation, OrderIndex: 1}
	require.NoError(t, st.CreateAgendaItem(ctx, c1))
	c2 := &models.AgendaItem{MeetingID: m.ID, ParentID: &s.ID, Title: "C2", Duration: 10, Type: models.ItemPresentation, OrderIndex: 2}
	require.NoError(t, st.CreateAgendaItem(ctx, c2))
	tt := &models.AgendaItem{MeetingID: m.ID, Title: "T", Duration: 20, Type: models.ItemDecision, OrderIndex: 3}
	require.NoError(t, st.CreateAgendaItem(ctx, tt))

	return st, m.ID, []models.AgendaItem{*s, *c1, *c2, *tt}
}

func TestFlattenParentBeforeChildren(t *testing.T) {
	st, meetingID, seeded := seedAgenda(t)
	seq := NewSequencer(st)

	flat, err := seq.Items(context.Background(), meetingID)
	require.NoError(t, err)
	require.Len(t, flat, 4)

	titles := []string{flat[0].Title, flat[1].Title, flat[2].Title, flat[3].Title}
	require.Equal(t, []string{"S", "C1", "C2", "T"}, titles)

	// Every item appears exactly once.
	seen := map[primitive.ObjectID]int{}
	for _, item := range flat {
		seen[item.ID]++
	}
	for _, item := range seeded {
		require.Equal(t, 1, seen[item.ID], "item %s", item.Title)
	}
}

func TestFlattenChildrenInterleavedInStorageOrder(t *testing.T) {
	// Children stored between unrelated tops still follow their parent.
	parentA := primitive.NewObjectID()
	parentB := primitive.NewObjectID()
	items := []models.AgendaItem{
		{ID: parentA, Title: "A", OrderIndex: 0},
		{ID: parentB, Title: "B", OrderIndex: 1},
		{ID: primitive.NewObjectID(), ParentID: &parentA, Title: "A1", OrderIndex: 2},
		{ID: primitive.NewObjectID(), ParentID: &parentB, Title: "B1", OrderIndex: 3},
	}
	flat := Flatten(items)
	titles := make([]string, len(flat))
	for i, item := range flat {
		titles[i] = item.Title
	}
	require.Equal(t, []string{"A", "A1", "B", "B1"}, titles)
}

func TestFlattenOrphanKeptAsTopLevel(t *testing.T) {
	missing := primitive.NewObjectID()
	items := []models.AgendaItem{
		{ID: primitive.NewObjectID(), Title: "top", OrderIndex: 0},
		{ID: primitive.NewObjectID(), ParentID: &missing, Title: "orphan", OrderIndex: 1},
	}
	flat := Flatten(items)
	require.Len(t, flat, 2)
	require.Equal(t, "orphan", flat[1].Title)
}

func TestNavigationClamped(t *testing.T) {
	st, meetingID, _ := seedAgenda(t)
	seq := NewSequencer(st)
	ctx := context.Background()
	sess := NewSessionState(meetingID)

	require.Equal(t, OverviewIndex, sess.Index)

	// Retreat at the overview is a no-op.
	idx, err := seq.Retreat(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, OverviewIndex, idx)

	// Advance beyond the end clamps at the last item.
	for i := 0; i < 10; i++ {
		idx, err = seq.Advance(ctx, sess)
		require.NoError(t, err)
	}
	require.Equal(t, 3, idx)

	// Back down to the overview and stay there.
	for i := 0; i < 10; i++ {
		idx, err = seq.Retreat(ctx, sess)
		require.NoError(t, err)
	}
	require.Equal(t, OverviewIndex, idx)
}

func TestCurrentOverviewSentinel(t *testing.T) {
	st, meetingID, _ := seedAgenda(t)
	seq := NewSequencer(st)
	ctx := context.Background()
	sess := NewSessionState(meetingID)

	item, err := seq.Current(ctx, sess)
	require.NoError(t, err)
	require.Nil(t, item, "overview is a valid state, not an item")

	_, err = seq.Advance(ctx, sess)
	require.NoError(t, err)
	item, err = seq.Current(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "S", item.Title)
}

func TestJumpTo(t *testing.T) {
	st, meetingID, seeded := seedAgenda(t)
	seq := NewSequencer(st)
	ctx := context.Background()
	sess := NewSessionState(meetingID)

	idx, err := seq.JumpTo(ctx, sess, seeded[2].ID) // C2
	require.NoError(t, err)
	require.Equal(t, 2, idx)

	_, err = seq.JumpTo(ctx, sess, primitive.NewObjectID())
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, 2, sess.Index, "failed jump leaves the cursor in place")
}

func TestMarkComplete(t *testing.T) {
	st, _, seeded := seedAgenda(t)
	seq := NewSequencer(st)
	ctx := context.Background()

	item, err := seq.MarkComplete(ctx, seeded[0].ID, true)
	require.NoError(t, err)
	require.True(t, item.Completed)
	require.NotNil(t, item.CompletedAt)

	item, err = seq.MarkComplete(ctx, seeded[0].ID, false)
	require.NoError(t, err)
	require.False(t, item.Completed)
	require.Nil(t, item.CompletedAt)
}

func TestTotalDurationParentsDoNotDoubleCount(t *testing.T) {
	st, meetingID, _ := seedAgenda(t)
	seq := NewSequencer(st)
	sess := NewSessionState(meetingID)

	total, err := seq.TotalDuration(context.Background(), sess)
	require.NoError(t, err)
	// S contributes its children (8+10), not its own 25; T contributes 20.
	require.Equal(t, 38, total)
}

func TestTotalDurationWithSessionOverride(t *testing.T) {
	st, meetingID, seeded := seedAgenda(t)
	seq := NewSequencer(st)
	sess := NewSessionState(meetingID)
	sess.DurationOverrides[seeded[1].ID] = 15 // C1: 8 -> 15

	total, err := seq.TotalDuration(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, 45, total)
}
