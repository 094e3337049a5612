package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionEcho() (http.Handler, *[]*Session) {
	var seen []*Session
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, SessionFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	return handler, &seen
}

func perform(h http.Handler, authorization string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthenticateRequired(t *testing.T) {
	tokens := NewTokenService("middleware-secret", time.Hour)
	echo, seen := sessionEcho()
	guarded := Authenticate(tokens, true)(echo)

	// missing, malformed and invalid credentials each stop the request
	assert.Equal(t, http.StatusUnauthorized, perform(guarded, "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(guarded, "Bearer").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(guarded, "Token abcdefgh").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(guarded, "Bearer garbage").Code)
	assert.Empty(t, *seen)

	issued, err := tokens.Issue(&Session{UserID: 7, Email: "a@example.com", Role: RoleUser})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, perform(guarded, "Bearer "+issued).Code)
	require.Len(t, *seen, 1)
	assert.Equal(t, int64(7), (*seen)[0].UserID)

	// the scheme comparison is case-insensitive
	assert.Equal(t, http.StatusOK, perform(guarded, "bearer "+issued).Code)
}

func TestAuthenticateOptional(t *testing.T) {
	tokens := NewTokenService("middleware-secret", time.Hour)
	echo, seen := sessionEcho()
	open := Authenticate(tokens, false)(echo)

	// without a credential the request proceeds anonymously
	assert.Equal(t, http.StatusOK, perform(open, "").Code)
	require.Len(t, *seen, 1)
	assert.Nil(t, (*seen)[0])

	// a broken credential degrades to anonymous too
	assert.Equal(t, http.StatusOK, perform(open, "Bearer garbage").Code)
	require.Len(t, *seen, 2)
	assert.Nil(t, (*seen)[1])

	// a valid credential still resolves the identity
	issued, err := tokens.Issue(&Session{UserID: 9, Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, perform(open, "Bearer "+issued).Code)
	require.Len(t, *seen, 3)
	require.NotNil(t, (*seen)[2])
	assert.Equal(t, int64(9), (*seen)[2].UserID)
}

func TestRequireAdmin(t *testing.T) {
	echo, seen := sessionEcho()
	gated := RequireAdmin(echo)

	// no session and a standard role both answer 403
	assert.Equal(t, http.StatusForbidden, perform(gated, "").Code)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext((&Session{UserID: 1, Role: RoleUser}).ContextWithSession(r.Context()))
	w := httptest.NewRecorder()
	gated.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext((&Session{UserID: 1, Role: RoleAdmin}).ContextWithSession(r.Context()))
	w = httptest.NewRecorder()
	gated.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, *seen, 1)
}
