// Package ledger maintains per-meeting attendance and mandate (proxy) state
// and enforces mandate validity. Mandates are single-hop: a proxy target
// must be a company that is itself present, never one that is proxying in
// turn, so chains cannot form.
package ledger

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/store"
)

// Ledger derives all state from the gateway on every call; it holds no
// cache, so staleness is bounded by broadcast latency alone.
type Ledger struct {
	store store.Store
}

// New creates a Ledger over the given gateway.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// AddParticipant records a user in the meeting's ledger with status invited.
// Adding a user who is already a participant is a no-op; the gateway's
// unique (meeting, user) key guarantees no duplicate row. Reports whether a
// row was created.
func (l *Ledger) AddParticipant(ctx context.Context, meetingID primitive.ObjectID, userID, companyID, actor string) (bool, error) {
	if userID == "" || companyID == "" {
		return false, fmt.Errorf("add participant: user and company are required: %w", domain.ErrValidation)
	}
	p := &models.Participant{
		MeetingID: meetingID,
		UserID:    userID,
		CompanyID: companyID,
		Status:    models.StatusInvited,
		UpdatedBy: actor,
	}
	return l.store.EnsureParticipant(ctx, p)
}

// SetStatus changes a participant's attendance status. Giving a mandate
// (status proxy) requires a target company whose aggregate status is
// currently present in this meeting and which is not the participant's own
// company; the check runs before any write, so a rejected change leaves no
// partial state. Moving away from proxy clears the stored target. Changing
// a status does not touch mandates other participants may already hold
// against the previous state.
func (l *Ledger) SetStatus(ctx context.Context, meetingID primitive.ObjectID, userID string, status models.ParticipantStatus, proxyCompanyID, actor string) (*models.Participant, error) {
	if !models.ValidParticipantStatus(status) {
		return nil, fmt.Errorf("set status: unknown status %q: %w", status, domain.ErrValidation)
	}

	if status != models.StatusProxy {
		return l.store.SetParticipantStatus(ctx, meetingID, userID, status, "", actor)
	}

	if proxyCompanyID == "" {
		return nil, fmt.Errorf("set status: proxy requires a target company: %w", domain.ErrInvalidProxyTarget)
	}
	current, err := l.store.GetParticipant(ctx, meetingID, userID)
	if err != nil {
		return nil, err
	}
	if proxyCompanyID == current.CompanyID {
		return nil, fmt.Errorf("set status: company %s cannot mandate itself: %w", proxyCompanyID, domain.ErrInvalidProxyTarget)
	}

	attendance, err := l.AggregateByCompany(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	target, ok := findCompany(attendance, proxyCompanyID)
	if !ok || target.Status != models.StatusPresent {
		return nil, fmt.Errorf("set status: target company %s is not present: %w", proxyCompanyID, domain.ErrInvalidProxyTarget)
	}

	return l.store.SetParticipantStatus(ctx, meetingID, userID, models.StatusProxy, proxyCompanyID, actor)
}

// RemoveParticipant hard-deletes the ledger row. If the removed user's
// company is no longer present afterwards, every mandate pointing at that
// company is invalidated: the proxying participants revert to absent with
// their target cleared. Nothing is re-delegated on their behalf.
func (l *Ledger) RemoveParticipant(ctx context.Context, meetingID primitive.ObjectID, userID, actor string) error {
	removed, err := l.store.GetParticipant(ctx, meetingID, userID)
	if err != nil {
		return err
	}
	if err := l.store.DeleteParticipant(ctx, meetingID, userID); err != nil {
		return err
	}

	attendance, err := l.AggregateByCompany(ctx, meetingID)
	if err != nil {
		return err
	}
	if c, ok := findCompany(attendance, removed.CompanyID); ok && c.Status == models.StatusPresent {
		// Another representative keeps the company present; mandates stand.
		return nil
	}

	participants, err := l.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.Status == models.StatusProxy && p.ProxyCompanyID == removed.CompanyID {
			if _, err := l.store.SetParticipantStatus(ctx, meetingID, p.UserID, models.StatusAbsent, "", actor); err != nil {
				return err
			}
		}
	}
	return nil
}

// AggregateByCompany groups the ledger by company and derives one status per
// company with priority present > proxy > excused > absent > invited, plus
// the mandate this company has given and the mandates it holds from others.
func (l *Ledger) AggregateByCompany(ctx context.Context, meetingID primitive.ObjectID) ([]models.CompanyAttendance, error) {
	participants, err := l.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	byCompany := make(map[string]*models.CompanyAttendance)
	var order []string
	for _, p := range participants {
		c, ok := byCompany[p.CompanyID]
		if !ok {
			c = &models.CompanyAttendance{
				CompanyID: p.CompanyID,
				Status:    p.Status,
			}
			byCompany[p.CompanyID] = c
			order = append(order, p.CompanyID)
		}
		c.Users = append(c.Users, p.UserID)
		c.Participants = append(c.Participants, p)
		if statusPriority(p.Status) > statusPriority(c.Status) {
			c.Status = p.Status
		}
		if p.Status == models.StatusProxy && c.MandateGiven == "" {
			c.MandateGiven = p.ProxyCompanyID
		}
	}

	// A company whose derived status is not proxy has no effective mandate
	// given (a present representative overrides a proxying one).
	for _, id := range order {
		if byCompany[id].Status != models.StatusProxy {
			byCompany[id].MandateGiven = ""
		}
	}
	for _, id := range order {
		c := byCompany[id]
		if c.MandateGiven == "" {
			continue
		}
		if target, ok := byCompany[c.MandateGiven]; ok {
			target.MandatesReceived = append(target.MandatesReceived, c.CompanyID)
		}
	}

	result := make([]models.CompanyAttendance, 0, len(order))
	for _, id := range order {
		result = append(result, *byCompany[id])
	}
	return result, nil
}

// Quorum counts companies present in their own right and companies
// represented only through a valid mandate. The pass threshold is a policy
// decision outside this service.
func (l *Ledger) Quorum(ctx context.Context, meetingID primitive.ObjectID) (models.Quorum, error) {
	attendance, err := l.AggregateByCompany(ctx, meetingID)
	if err != nil {
		return models.Quorum{}, err
	}

	var q models.Quorum
	for _, c := range attendance {
		switch c.Status {
		case models.StatusPresent:
			q.PresentCompanies++
		case models.StatusProxy:
			if target, ok := findCompany(attendance, c.MandateGiven); ok && target.Status == models.StatusPresent {
				q.ProxyCompanies++
			}
		}
	}
	return q, nil
}

func findCompany(attendance []models.CompanyAttendance, companyID string) (models.CompanyAttendance, bool) {
	for _, c := range attendance {
		if c.CompanyID == companyID {
			return c, true
		}
	}
	return models.CompanyAttendance{}, false
}

func statusPriority(s models.ParticipantStatus) int {
	switch s {
	case models.StatusPresent:
		return 4
	case models.StatusProxy:
		return 3
	case models.StatusExcused:
		return 2
	case models.StatusAbsent:
		return 1
	default: // invited
		return 0
	}
}
