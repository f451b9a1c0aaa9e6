package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gatewatch/gatewatch/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret-of-adequate-length"

func protectedHandler(t *testing.T, wantSubject string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := auth.AdminSubjectFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, wantSubject, subject)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAdmin_ValidToken(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, time.Hour)
	token, err := tm.GenerateAdminToken("ops@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/admin/hosts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	auth.RequireAdmin(tm)(protectedHandler(t, "ops@example.com")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireAdmin_MissingHeader(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, time.Hour)

	req := httptest.NewRequest("POST", "/admin/hosts", nil)
	w := httptest.NewRecorder()

	auth.RequireAdmin(tm)(protectedHandler(t, "")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin_WrongSecret(t *testing.T) {
	other := auth.NewTokenManager("a-different-secret-entirely-here", time.Hour)
	token, err := other.GenerateAdminToken("ops@example.com")
	require.NoError(t, err)

	tm := auth.NewTokenManager(testSecret, time.Hour)
	req := httptest.NewRequest("POST", "/admin/hosts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	auth.RequireAdmin(tm)(protectedHandler(t, "")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin_ExpiredToken(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, -time.Minute)
	token, err := tm.GenerateAdminToken("ops@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/admin/hosts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	auth.RequireAdmin(tm)(protectedHandler(t, "")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin_NilManagerDisablesSurface(t *testing.T) {
	req := httptest.NewRequest("POST", "/admin/hosts", nil)
	w := httptest.NewRecorder()

	auth.RequireAdmin(nil)(protectedHandler(t, "")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
