package backend

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gt3pedia/backend/core/access"
	"github.com/gt3pedia/backend/core/csql"
)

func createUserAsAdmin(t *testing.T, env *testEnv, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	var user map[string]interface{}
	code := env.request(t, http.MethodPost, "/users", env.adminToken, body, &user)
	require.Equal(t, http.StatusCreated, code)
	return user
}

func TestUsersRoutesAreAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/users"},
		{http.MethodGet, "/users/1"},
		{http.MethodPost, "/users"},
		{http.MethodPut, "/users/1"},
		{http.MethodDelete, "/users/1"},
	} {
		code := env.request(t, route.method, route.path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code, "%s %s without token", route.method, route.path)

		code = env.request(t, route.method, route.path, env.userToken, nil, nil)
		assert.Equal(t, http.StatusForbidden, code, "%s %s with standard role", route.method, route.path)
	}
}

func TestUsersCreateAndList(t *testing.T) {
	env := newTestEnv(t)

	created := createUserAsAdmin(t, env, map[string]interface{}{
		"email":        "Crew@Example.com",
		"password":     "secret99",
		"display_name": "Crew Chief",
		"role":         "admin",
	})
	assert.Equal(t, "crew@example.com", created["email"])
	assert.Equal(t, "admin", created["role"])
	assert.NotContains(t, created, "password_hash")

	// role defaults to user when omitted
	created = createUserAsAdmin(t, env, map[string]interface{}{
		"email":        "second@example.com",
		"password":     "secret99",
		"display_name": "Second",
	})
	assert.Equal(t, "user", created["role"])

	var response []map[string]interface{}
	code := env.request(t, http.MethodGet, "/users", env.adminToken, nil, &response)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, response, 2)
	for _, user := range response {
		assert.NotContains(t, user, "password_hash")
	}
	assert.Equal(t, "crew@example.com", response[0]["email"])
}

func TestUsersCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	var response struct {
		Errors map[string]string `json:"errors"`
	}
	code := env.request(t, http.MethodPost, "/users", env.adminToken, map[string]interface{}{
		"email":        "bad",
		"password":     "x",
		"display_name": "",
		"role":         "superuser",
	}, &response)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, response.Errors, "email")
	assert.Contains(t, response.Errors, "password")
	assert.Contains(t, response.Errors, "display_name")
	assert.Contains(t, response.Errors, "role")
}

func TestUsersUpdate(t *testing.T) {
	env := newTestEnv(t)

	created := createUserAsAdmin(t, env, map[string]interface{}{
		"email":        "member@example.com",
		"password":     "secret99",
		"display_name": "Member",
	})
	id := int64(created["id"].(float64))

	var updated map[string]interface{}
	code := env.request(t, http.MethodPut, "/users/1", env.adminToken, map[string]interface{}{
		"email": "renamed@example.com",
		"role":  "admin",
	}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "renamed@example.com", updated["email"])
	assert.Equal(t, "admin", updated["role"])
	assert.Equal(t, "Member", updated["display_name"])
	assert.EqualValues(t, id, updated["id"])

	// a recased display name of the same account is not a conflict
	code = env.request(t, http.MethodPut, "/users/1", env.adminToken, map[string]interface{}{
		"display_name": "MEMBER",
	}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "MEMBER", updated["display_name"])

	// empty payload has nothing to apply
	code = env.request(t, http.MethodPut, "/users/1", env.adminToken, map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = env.request(t, http.MethodPut, "/users/999", env.adminToken, map[string]interface{}{"role": "admin"}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUsersUpdateConflicts(t *testing.T) {
	env := newTestEnv(t)

	createUserAsAdmin(t, env, map[string]interface{}{
		"email": "first@example.com", "password": "secret99", "display_name": "First",
	})
	createUserAsAdmin(t, env, map[string]interface{}{
		"email": "second@example.com", "password": "secret99", "display_name": "Second",
	})

	var response map[string]interface{}
	code := env.request(t, http.MethodPut, "/users/2", env.adminToken, map[string]interface{}{
		"email": "FIRST@example.com",
	}, &response)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "a user with this email already exists", response["message"])

	code = env.request(t, http.MethodPut, "/users/2", env.adminToken, map[string]interface{}{
		"display_name": "first",
	}, &response)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "a user with this display name already exists", response["message"])
}

func TestUsersUpdatePasswordRehashes(t *testing.T) {
	env := newTestEnv(t)

	createUserAsAdmin(t, env, map[string]interface{}{
		"email": "member@example.com", "password": "original1", "display_name": "Member",
	})

	code := env.request(t, http.MethodPut, "/users/1", env.adminToken, map[string]interface{}{
		"password": "changed99",
	}, nil)
	require.Equal(t, http.StatusOK, code)

	// old credential no longer works, new one does
	code = env.request(t, http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email": "member@example.com", "password": "original1",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code = env.request(t, http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email": "member@example.com", "password": "changed99",
	}, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUsersDelete(t *testing.T) {
	env := newTestEnv(t)

	createUserAsAdmin(t, env, map[string]interface{}{
		"email": "victim@example.com", "password": "secret99", "display_name": "Victim",
	})

	var response map[string]interface{}
	code := env.request(t, http.MethodDelete, "/users/1", env.adminToken, nil, &response)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, response["success"])

	code = env.request(t, http.MethodDelete, "/users/1", env.adminToken, nil, &response)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "user not found", response["message"])
}

func TestUsersCannotDeleteOwnAccount(t *testing.T) {
	env := newTestEnv(t)

	created := createUserAsAdmin(t, env, map[string]interface{}{
		"email": "boss@example.com", "password": "secret99", "display_name": "Boss", "role": "admin",
	})
	id := int64(created["id"].(float64))

	selfToken, err := env.tokens.Issue(&access.Session{
		UserID: id, Email: "boss@example.com", DisplayName: "Boss", Role: access.RoleAdmin,
	})
	require.NoError(t, err)

	var response map[string]interface{}
	code := env.request(t, http.MethodDelete, "/users/1", selfToken, nil, &response)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cannot delete your own account", response["message"])

	// the account is still there
	code = env.request(t, http.MethodGet, "/users/1", env.adminToken, nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUsersStorageFaultAnswersOpaqueError(t *testing.T) {
	env := newTestEnv(t)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("disk I/O error"))

	env.backend.db = &csql.DB{DB: mockDB}

	var response map[string]interface{}
	code := env.request(t, http.MethodGet, "/users", env.adminToken, nil, &response)
	assert.Equal(t, http.StatusInternalServerError, code)
	// the cause stays in the log, the answer is an opaque error number
	assert.NotContains(t, response["message"], "disk I/O error")
	assert.Contains(t, response["message"], "Error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersExpiredTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)

	shortLived := access.NewTokenService("unit-test-secret", time.Millisecond)
	token, err := shortLived.Issue(&access.Session{UserID: 999, Email: "root@example.com", DisplayName: "Root", Role: access.RoleAdmin})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	code := env.request(t, http.MethodGet, "/users", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}
