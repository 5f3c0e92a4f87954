package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func signToken(t *testing.T, secret, subject, company string, caps []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     subject,
		"company": company,
		"caps":    caps,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseRoundTrip(t *testing.T) {
	signed := signToken(t, testSecret, "alice", "acme", []string{"canView", "canVote"})

	ident, err := Parse(signed, testSecret)
	require.NoError(t, err)
	require.Equal(t, "alice", ident.UserID)
	require.Equal(t, "acme", ident.CompanyID)
	require.True(t, ident.Can(CanView))
	require.True(t, ident.Can(CanVote))
	require.False(t, ident.Can(CanManageAgenda))
}

func TestParseRejectsBadTokens(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		signed := signToken(t, "other", "alice", "acme", nil)
		_, err := Parse(signed, testSecret)
		require.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		signed := signToken(t, testSecret, "", "acme", nil)
		_, err := Parse(signed, testSecret)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = Parse(signed, testSecret)
		require.Error(t, err)
	})

	t.Run("alg none", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "alice"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = Parse(signed, testSecret)
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Parse("not.a.token", testSecret)
		require.Error(t, err)
	})
}

func TestNilIdentityHasNoCapabilities(t *testing.T) {
	var ident *Identity
	require.False(t, ident.Can(CanView))
}

func TestMiddleware(t *testing.T) {
	var seen *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(testSecret)(next)
	signed := signToken(t, testSecret, "alice", "acme", []string{"canView"})

	t.Run("bearer header", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		require.Equal(t, "alice", seen.UserID)
	})

	t.Run("token query parameter", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+signed, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
	})

	t.Run("missing credentials", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Nil(t, seen)
		require.Contains(t, rec.Body.String(), "unauthorized")
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("forged token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "other", "mallory", "", nil))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
