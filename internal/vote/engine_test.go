package vote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/store"
)

func newEngine(t *testing.T) (*Engine, store.Store, primitive.ObjectID) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	m := &models.Meeting{Title: "AG", Status: models.MeetingInProgress}
	require.NoError(t, st.CreateMeeting(ctx, m))
	item := &models.AgendaItem{MeetingID: m.ID, Title: "Budget", Type: models.ItemDecision, Duration: 10}
	require.NoError(t, st.CreateAgendaItem(ctx, item))

	return NewEngine(st), st, item.ID
}

func TestCreateValidation(t *testing.T) {
	e, _, itemID := newEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, itemID, "", []string{"Oui", "Non"}, "admin")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Create(ctx, itemID, "   ", []string{"Oui", "Non"}, "admin")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Create(ctx, itemID, "Approve?", []string{"Oui"}, "admin")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Create(ctx, itemID, "Approve?", []string{"Oui", "  "}, "admin")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Create(ctx, primitive.NewObjectID(), "Approve?", []string{"Oui", "Non"}, "admin")
	require.ErrorIs(t, err, domain.ErrNotFound)

	v, err := e.Create(ctx, itemID, "Approve?", []string{"Oui", "Non"}, "admin")
	require.NoError(t, err)
	require.True(t, v.IsOpen)
	require.Nil(t, v.ClosedAt)
}

func TestCastReplacesPriorBallot(t *testing.T) {
	e, st, itemID := newEngine(t)
	ctx := context.Background()

	v, err := e.Create(ctx, itemID, "Approve?", []string{"Oui", "Non"}, "admin")
	require.NoError(t, err)

	_, _, err = e.Cast(ctx, v.ID, "alice", "acme", "Oui")
	require.NoError(t, err)
	_, tally, err := e.Cast(ctx, v.ID, "alice", "acme", "Non")
	require.NoError(t, err)

	responses, err := st.ListVoteResponses(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1, "re-cast replaces, never adds")
	require.Equal(t, "Non", responses[0].Option)
	require.Equal(t, 1, tally.TotalResponses)
}

func TestCastRejectsClosedAndUnknownOption(t *testing.T) {
	e, _, itemID := newEngine(t)
	ctx := context.Background()

	v, err := e.Create(ctx, itemID, "Approve?", []string{"Oui", "Non"}, "admin")
	require.NoError(t, err)

	_, _, err = e.Cast(ctx, v.ID, "alice", "acme", "Peut-être")
	require.ErrorIs(t, err, domain.ErrInvalidOption)

	_, _, err = e.Cast(ctx, v.ID, "alice", "acme", "Oui")
	require.NoError(t, err)

	_, err = e.Close(ctx, v.ID)
	require.NoError(t, err)

	_, _, err = e.Cast(ctx, v.ID, "bob", "globex", "Non")
	require.ErrorIs(t, err, domain.ErrVoteClosed)

	// The rejected cast changed nothing.
	tally, err := e.Tally(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, 1, tally.TotalResponses)
}

func TestCloseIdempotent(t *testing.T) {
	e, _, itemID := newEngine(t)
	ctx := context.Background()

	v, err := e.Create(ctx, itemID, "Approve?", []string{"Oui", "Non"}, "admin")
	require.NoError(t, err)

	closed, err := e.Close(ctx, v.ID)
	require.NoError(t, err)
	require.False(t, closed.IsOpen)
	require.NotNil(t, closed.ClosedAt)
	first := *closed.ClosedAt

	again, err := e.Close(ctx, v.ID)
	require.NoError(t, err)
	require.False(t, again.IsOpen)
	require.Equal(t, first, *again.ClosedAt, "second close leaves closed_at untouched")
}

func TestTallyCoversEveryOption(t *testing.T) {
	e, _, itemID := newEngine(t)
	ctx := context.Background()

	v, err := e.Create(ctx, itemID, "Approve budget?", []string{"Oui", "Non", "Abstention"}, "admin")
	require.NoError(t, err)

	// No responses: every entry present, all zero.
	tally, err := e.Tally(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, tally.Entries, 3)
	require.Equal(t, 0, tally.TotalResponses)
	for _, entry := range tally.Entries {
		require.Equal(t, 0, entry.Count)
		require.Equal(t, 0, entry.Percentage)
	}

	_, _, err = e.Cast(ctx, v.ID, "a", "acme", "Oui")
	require.NoError(t, err)
	_, _, err = e.Cast(ctx, v.ID, "b", "globex", "Non")
	require.NoError(t, err)
	_, tally, err = e.Cast(ctx, v.ID, "a", "acme", "Abstention")
	require.NoError(t, err)

	require.Equal(t, 2, tally.TotalResponses)
	byOption := map[string]models.TallyEntry{}
	for _, entry := range tally.Entries {
		byOption[entry.Option] = entry
	}
	require.Equal(t, 0, byOption["Oui"].Count)
	require.Equal(t, 0, byOption["Oui"].Percentage)
	require.Equal(t, 1, byOption["Non"].Count)
	require.Equal(t, 50, byOption["Non"].Percentage)
	require.Equal(t, 1, byOption["Abstention"].Count)
	require.Equal(t, 50, byOption["Abstention"].Percentage)
}

func TestTallyPercentagesSumNear100(t *testing.T) {
	e, _, itemID := newEngine(t)
	ctx := context.Background()

	v, err := e.Create(ctx, itemID, "Three ways?", []string{"A", "B", "C"}, "admin")
	require.NoError(t, err)
	for i, user := range []string{"u1", "u2", "u3"} {
		_, _, err = e.Cast(ctx, v.ID, user, "org", []string{"A", "B", "C"}[i])
		require.NoError(t, err)
	}

	tally, err := e.Tally(ctx, v.ID)
	require.NoError(t, err)
	sum := 0
	for _, entry := range tally.Entries {
		require.Equal(t, 33, entry.Percentage)
		sum += entry.Percentage
	}
	require.InDelta(t, 100, sum, 2)
}

func TestDeleteCascadesResponses(t *testing.T) {
	e, st, itemID := newEngine(t)
	ctx := context.Background()

	v, err := e.Create(ctx, itemID, "Approve?", []string{"Oui", "Non"}, "admin")
	require.NoError(t, err)
	_, _, err = e.Cast(ctx, v.ID, "alice", "acme", "Oui")
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, v.ID))

	_, err = st.GetVote(ctx, v.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	responses, err := st.ListVoteResponses(ctx, v.ID)
	require.NoError(t, err)
	require.Empty(t, responses)
}

func TestListWithTallies(t *testing.T) {
	e, _, itemID := newEngine(t)
	ctx := context.Background()

	v1, err := e.Create(ctx, itemID, "First?", []string{"Oui", "Non"}, "admin")
	require.NoError(t, err)
	_, err = e.Create(ctx, itemID, "Second?", []string{"Pour", "Contre"}, "admin")
	require.NoError(t, err)
	_, _, err = e.Cast(ctx, v1.ID, "alice", "acme", "Oui")
	require.NoError(t, err)

	votes, err := e.ListWithTallies(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	require.Equal(t, "First?", votes[0].Question)
	require.Equal(t, 1, votes[0].Tally.TotalResponses)
	require.Equal(t, 0, votes[1].Tally.TotalResponses)
}
