package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("test-secret-key", "trailpass", 24*time.Hour, 8*time.Hour)
}

func TestGenerateAndValidateUserToken(t *testing.T) {
	mgr := newTestJWTManager()
	userID := uuid.New()

	token, err := mgr.GenerateToken(RealmUser, userID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := mgr.ValidateTokenForRealm(token, RealmUser)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, RealmUser, claims.Realm)
	assert.Equal(t, "trailpass", claims.Issuer)
}

func TestGenerateAndValidateOperatorToken(t *testing.T) {
	mgr := newTestJWTManager()

	token, err := mgr.GenerateToken(RealmOperator, uuid.New(), RoleOperator)
	require.NoError(t, err)

	claims, err := mgr.ValidateTokenForRealm(token, RealmOperator)
	require.NoError(t, err)
	assert.Equal(t, RealmOperator, claims.Realm)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestUnknownRealmRejected(t *testing.T) {
	_, err := newTestJWTManager().GenerateToken(Realm("admin"), uuid.New(), "")
	assert.Error(t, err)
}

func TestRealmMismatchRejected(t *testing.T) {
	mgr := newTestJWTManager()

	token, err := mgr.GenerateToken(RealmUser, uuid.New(), "")
	require.NoError(t, err)

	_, err = mgr.ValidateTokenForRealm(token, RealmOperator)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expected realm operator")
}

func TestInvalidSecretRejected(t *testing.T) {
	mgr1 := NewJWTManager("secret-1", "trailpass", 24*time.Hour, 8*time.Hour)
	mgr2 := NewJWTManager("secret-2", "trailpass", 24*time.Hour, 8*time.Hour)

	token, err := mgr1.GenerateToken(RealmUser, uuid.New(), "")
	require.NoError(t, err)

	_, err = mgr2.ValidateToken(token)
	assert.Error(t, err)
}

func TestWrongIssuerRejected(t *testing.T) {
	other := NewJWTManager("test-secret-key", "someone-else", time.Hour, time.Hour)
	token, err := other.GenerateToken(RealmUser, uuid.New(), "")
	require.NoError(t, err)

	_, err = newTestJWTManager().ValidateToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	mgr := NewJWTManager("secret", "trailpass", -time.Minute, -time.Minute)

	token, err := mgr.GenerateToken(RealmUser, uuid.New(), "")
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuthenticateUser(t *testing.T) {
	mgr := newTestJWTManager()
	userID := uuid.New()
	token, err := mgr.GenerateToken(RealmUser, userID, "")
	require.NoError(t, err)

	var seen uuid.UUID
	h := AuthenticateUser(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, userID, seen)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("operator token on user route", func(t *testing.T) {
		op, err := mgr.GenerateToken(RealmOperator, uuid.New(), RoleOperator)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.Header.Set("Authorization", "Bearer "+op)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	mgr := newTestJWTManager()
	h := AuthenticateOperator(mgr)(RequireRole(WriteRoles()...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	for _, tc := range []struct {
		role string
		want int
	}{
		{RoleOperator, http.StatusOK},
		{RoleViewer, http.StatusForbidden},
	} {
		t.Run(tc.role, func(t *testing.T) {
			token, err := mgr.GenerateToken(RealmOperator, uuid.New(), tc.role)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/admin/replay", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
