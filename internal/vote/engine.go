// Package vote manages the poll lifecycle: creation, open/closed state,
// single-ballot casting with replace-on-recast, and tallying. Tallies are
// recomputed from the stored responses on every call; nothing derived is
// cached between reads.
package vote

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/metrics"
	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/store"
)

// Engine drives votes through Open -> Closed. There is no transition out of
// Closed.
type Engine struct {
	store store.Store
}

// NewEngine creates an Engine over the given gateway.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// WithTally pairs a vote with its current tally for list responses.
type WithTally struct {
	models.Vote
	Tally models.Tally `json:"tally"`
}

// Create validates and stores a new vote in the open state. Options are
// immutable afterwards.
func (e *Engine) Create(ctx context.Context, itemID primitive.ObjectID, question string, options []string, createdBy string) (*models.Vote, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("create vote: question is required: %w", domain.ErrValidation)
	}
	if len(options) < 2 {
		return nil, fmt.Errorf("create vote: at least two options are required: %w", domain.ErrValidation)
	}
	for _, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return nil, fmt.Errorf("create vote: blank option: %w", domain.ErrValidation)
		}
	}

	item, err := e.store.GetAgendaItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	v := &models.Vote{
		AgendaItemID: item.ID,
		MeetingID:    item.MeetingID,
		Question:     question,
		Options:      options,
		CreatedBy:    createdBy,
	}
	if err := e.store.CreateVote(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Cast records the user's ballot, replacing any earlier choice by the same
// user on this vote. The write is a single atomic upsert against the unique
// (vote, user) key. Returns the vote and the fresh tally.
func (e *Engine) Cast(ctx context.Context, voteID primitive.ObjectID, userID, companyID, option string) (*models.Vote, *models.Tally, error) {
	v, err := e.store.GetVote(ctx, voteID)
	if err != nil {
		return nil, nil, err
	}
	if !v.IsOpen {
		return nil, nil, fmt.Errorf("cast on vote %s: %w", voteID.Hex(), domain.ErrVoteClosed)
	}
	if !contains(v.Options, option) {
		return nil, nil, fmt.Errorf("cast on vote %s: option %q: %w", voteID.Hex(), option, domain.ErrInvalidOption)
	}

	r := &models.VoteResponse{
		VoteID:    voteID,
		UserID:    userID,
		CompanyID: companyID,
		Option:    option,
	}
	if err := e.store.UpsertVoteResponse(ctx, r); err != nil {
		return nil, nil, err
	}
	metrics.VotesCast.Inc()

	tally, err := e.Tally(ctx, voteID)
	if err != nil {
		return nil, nil, err
	}
	return v, tally, nil
}

// Close transitions the vote to closed, stamping closed_at once. Closing an
// already-closed vote is a no-op that returns the stored vote, closed_at
// untouched.
func (e *Engine) Close(ctx context.Context, voteID primitive.ObjectID) (*models.Vote, error) {
	return e.store.CloseVote(ctx, voteID, time.Now().UTC())
}

// Delete removes the vote and cascades to all of its responses.
func (e *Engine) Delete(ctx context.Context, voteID primitive.ObjectID) error {
	return e.store.DeleteVote(ctx, voteID)
}

// Tally recomputes the per-option counts from the current responses. Every
// declared option gets an entry, zero-response options included; with no
// responses at all every percentage is zero.
func (e *Engine) Tally(ctx context.Context, voteID primitive.ObjectID) (*models.Tally, error) {
	v, err := e.store.GetVote(ctx, voteID)
	if err != nil {
		return nil, err
	}
	responses, err := e.store.ListVoteResponses(ctx, voteID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(v.Options))
	for _, r := range responses {
		counts[r.Option]++
	}

	total := len(responses)
	entries := make([]models.TallyEntry, len(v.Options))
	for i, opt := range v.Options {
		count := counts[opt]
		pct := 0
		if total > 0 {
			pct = int(math.Round(100 * float64(count) / float64(total)))
		}
		entries[i] = models.TallyEntry{Option: opt, Count: count, Percentage: pct}
	}

	return &models.Tally{VoteID: voteID, TotalResponses: total, Entries: entries}, nil
}

// ListWithTallies returns the item's votes, each with its current tally.
func (e *Engine) ListWithTallies(ctx context.Context, itemID primitive.ObjectID) ([]WithTally, error) {
	votes, err := e.store.ListVotesByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	result := make([]WithTally, 0, len(votes))
	for _, v := range votes {
		tally, err := e.Tally(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, WithTally{Vote: v, Tally: *tally})
	}
	return result, nil
}

func contains(options []string, option string) bool {
	for _, o := range options {
		if o == option {
			return true
		}
	}
	return false
}
