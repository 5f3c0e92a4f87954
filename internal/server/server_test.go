package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yasarts/reunion-live/internal/models"
	"github.com/yasarts/reunion-live/internal/session"
	"github.com/yasarts/reunion-live/internal/store"
	"github.com/yasarts/reunion-live/internal/ws"
)

const testSecret = "test-secret"

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st := store.NewMemory()
	hub := ws.NewHub(log)
	go hub.Run()
	facade := session.New(st, hub, log)
	return NewServer(facade, hub, testSecret, log)
}

func token(t *testing.T, subject, company string, caps ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     subject,
		"company": company,
		"caps":    caps,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, router http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthNeedsNoAuth(t *testing.T) {
	router := newRouter(t)
	rec := do(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestAPIRequiresToken(t *testing.T) {
	router := newRouter(t)
	rec := do(t, router, http.MethodGet, "/api/meetings", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCapabilityGate(t *testing.T) {
	router := newRouter(t)
	viewer := token(t, "alice", "acme", "canView")

	rec := do(t, router, http.MethodPost, "/api/meetings", viewer, map[string]any{"title": "AG"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "canCreateMeetings")

	// The same token can still read.
	rec = do(t, router, http.MethodGet, "/api/meetings", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMeetingLifecycleOverHTTP(t *testing.T) {
	router := newRouter(t)
	admin := token(t, "admin", "hq",
		"canView", "canEdit", "canCreateMeetings", "canManageAgenda", "canVote", "canSeeVoteResults")

	rec := do(t, router, http.MethodPost, "/api/meetings", admin, map[string]any{
		"title":       "Assemblée générale",
		"scheduledAt": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	meeting := decode[models.Meeting](t, rec)
	require.Equal(t, models.MeetingDraft, meeting.Status)

	rec = do(t, router, http.MethodPut, "/api/meetings/"+meeting.ID.Hex()+"/status", admin,
		map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/meetings/"+meeting.ID.Hex()+"/status", admin,
		map[string]string{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/meetings/"+meeting.ID.Hex()+"/agenda-items", admin,
		map[string]any{"title": "Budget", "type": "decision", "duration": 20})
	require.Equal(t, http.StatusCreated, rec.Code)
	item := decode[models.AgendaItem](t, rec)

	rec = do(t, router, http.MethodGet, "/api/meetings/"+meeting.ID.Hex()+"/agenda", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agendaView := decode[struct {
		Items         []models.AgendaItem `json:"items"`
		TotalDuration int                 `json:"total_duration"`
	}](t, rec)
	require.Len(t, agendaView.Items, 1)
	require.Equal(t, 20, agendaView.TotalDuration)

	rec = do(t, router, http.MethodPost, "/api/agenda-items/"+item.ID.Hex()+"/complete", admin,
		map[string]bool{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[models.AgendaItem](t, rec).Completed)
}

func TestVoteFlowOverHTTP(t *testing.T) {
	router := newRouter(t)
	admin := token(t, "admin", "hq",
		"canView", "canCreateMeetings", "canManageAgenda", "canVote", "canSeeVoteResults")
	voter := token(t, "bob", "globex", "canView", "canVote")

	rec := do(t, router, http.MethodPost, "/api/meetings", admin, map[string]any{"title": "AG"})
	require.Equal(t, http.StatusCreated, rec.Code)
	meeting := decode[models.Meeting](t, rec)

	rec = do(t, router, http.MethodPost, "/api/meetings/"+meeting.ID.Hex()+"/agenda-items", admin,
		map[string]any{"title": "Budget", "type": "decision"})
	item := decode[models.AgendaItem](t, rec)

	rec = do(t, router, http.MethodPost, "/api/agenda-items/"+item.ID.Hex()+"/votes", admin,
		map[string]any{"question": "Approve?", "options": []string{"Oui", "Non", "Abstention"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	v := decode[models.Vote](t, rec)

	castURL := "/api/votes/" + v.ID.Hex() + "/cast"

	rec = do(t, router, http.MethodPost, castURL, admin, map[string]string{"option": "Oui"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Recast replaces; total stays at one.
	rec = do(t, router, http.MethodPost, castURL, admin, map[string]string{"option": "Non"})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[struct {
		Tally models.Tally `json:"tally"`
	}](t, rec)
	require.Equal(t, 1, result.Tally.TotalResponses)

	rec = do(t, router, http.MethodPost, castURL, voter, map[string]string{"option": "Non"})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[struct {
		Tally models.Tally `json:"tally"`
	}](t, rec)
	require.Equal(t, 2, result.Tally.TotalResponses)

	rec = do(t, router, http.MethodPost, castURL, admin, map[string]string{"option": "Peut-être"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_option")

	rec = do(t, router, http.MethodPost, "/api/votes/"+v.ID.Hex()+"/close", voter, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/votes/"+v.ID.Hex()+"/close", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[models.Vote](t, rec).IsOpen)

	rec = do(t, router, http.MethodPost, castURL, voter, map[string]string{"option": "Oui"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "vote_closed")
}

func TestParticipantFlowOverHTTP(t *testing.T) {
	router := newRouter(t)
	admin := token(t, "admin", "hq",
		"canView", "canCreateMeetings", "canManageParticipants")

	rec := do(t, router, http.MethodPost, "/api/meetings", admin, map[string]any{"title": "AG"})
	meeting := decode[models.Meeting](t, rec)
	base := "/api/meetings/" + meeting.ID.Hex()

	for user, company := range map[string]string{"alice": "acme", "bob": "globex"} {
		rec = do(t, router, http.MethodPost, base+"/participants", admin,
			map[string]string{"userId": user, "companyId": company})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = do(t, router, http.MethodPut, base+"/participants/alice/status", admin,
		map[string]string{"status": "present"})
	require.Equal(t, http.StatusOK, rec.Code)

	// A mandate toward a company with nobody present is refused.
	rec = do(t, router, http.MethodPut, base+"/participants/bob/status", admin,
		map[string]string{"status": "proxy", "proxyCompanyId": "initech"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_proxy_target")

	rec = do(t, router, http.MethodPut, base+"/participants/bob/status", admin,
		map[string]string{"status": "proxy", "proxyCompanyId": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, base+"/quorum", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quorum := decode[models.Quorum](t, rec)
	require.Equal(t, 1, quorum.PresentCompanies)
	require.Equal(t, 1, quorum.ProxyCompanies)

	rec = do(t, router, http.MethodGet, base+"/participants", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	attendance := decode[[]models.CompanyAttendance](t, rec)
	require.Len(t, attendance, 2)

	rec = do(t, router, http.MethodDelete, base+"/participants/carol", admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditTrailOverHTTP(t *testing.T) {
	router := newRouter(t)
	admin := token(t, "admin", "hq", "canView", "canCreateMeetings", "canManageUsers")

	for i := 0; i < 3; i++ {
		rec := do(t, router, http.MethodPost, "/api/meetings", admin,
			map[string]any{"title": fmt.Sprintf("Meeting %d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, router, http.MethodGet, "/api/audit?actor=admin&limit=2", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]models.AuditEntry](t, rec)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, "admin", e.Actor)
	}

	rec = do(t, router, http.MethodGet, "/api/audit?since=garbage", admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/audit", token(t, "admin", "hq", "canView"), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownIDsOverHTTP(t *testing.T) {
	router := newRouter(t)
	admin := token(t, "admin", "hq", "canView")

	rec := do(t, router, http.MethodGet, "/api/meetings/not-an-id", admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/meetings/65a000000000000000000000", admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "not_found")
}
