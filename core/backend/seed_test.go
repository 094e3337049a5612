package backend

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestSeedFillsEmptyCollections(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	writeSeedFile(t, dir, "gadgets.json", `[
		{"name": "Seeded One", "vendor": "Acme", "year": 2001, "tags": ["a", "b"]},
		{"name": "Seeded Two", "vendor": "Zeta", "year": "not-a-number"},
		{"unknown_field": "only"}
	]`)
	// no widgets.json on purpose

	require.NoError(t, env.backend.Seed(dir))

	var gadgets []map[string]interface{}
	code := env.request(t, http.MethodGet, "/gadgets", "", nil, &gadgets)
	require.Equal(t, http.StatusOK, code)
	// the record with nothing recognizable is skipped, not an error
	require.Len(t, gadgets, 2)
	assert.Equal(t, "Seeded One", gadgets[0]["name"])
	assert.Equal(t, []interface{}{"a", "b"}, gadgets[0]["tags"])
	assert.Nil(t, gadgets[1]["year"], "seed records pass through the same coercion as client input")

	var widgets []map[string]interface{}
	code = env.request(t, http.MethodGet, "/widgets", "", nil, &widgets)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, widgets)
}

func TestSeedLeavesPopulatedCollectionsAlone(t *testing.T) {
	env := newTestEnv(t)
	createGadget(t, env, map[string]interface{}{"name": "Existing"})

	dir := t.TempDir()
	writeSeedFile(t, dir, "gadgets.json", `[{"name": "Intruder"}]`)

	require.NoError(t, env.backend.Seed(dir))

	var gadgets []map[string]interface{}
	env.request(t, http.MethodGet, "/gadgets", "", nil, &gadgets)
	require.Len(t, gadgets, 1)
	assert.Equal(t, "Existing", gadgets[0]["name"])

	// running twice is a no-op as well
	dir2 := t.TempDir()
	writeSeedFile(t, dir2, "gadgets.json", `[{"name": "Another"}]`)
	require.NoError(t, env.backend.Seed(dir2))
	env.request(t, http.MethodGet, "/gadgets", "", nil, &gadgets)
	assert.Len(t, gadgets, 1)
}

func TestSeedSkipsMalformedFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	writeSeedFile(t, dir, "gadgets.json", `{"this is": "not an array"`)
	writeSeedFile(t, dir, "widgets.json", `[{"label": "fine"}]`)

	require.NoError(t, env.backend.Seed(dir))

	var gadgets []map[string]interface{}
	env.request(t, http.MethodGet, "/gadgets", "", nil, &gadgets)
	assert.Empty(t, gadgets)

	var widgets []map[string]interface{}
	env.request(t, http.MethodGet, "/widgets", "", nil, &widgets)
	assert.Len(t, widgets, 1)
}

func TestEnsureAdminAccount(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.backend.EnsureAdminAccount("Boss@Example.com", "bootpass", "Administrator"))

	var login struct {
		Token string                 `json:"token"`
		User  map[string]interface{} `json:"user"`
	}
	code := env.request(t, http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email": "boss@example.com", "password": "bootpass",
	}, &login)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "admin", login.User["role"])

	// once anyone exists the bootstrap never runs again
	require.NoError(t, env.backend.EnsureAdminAccount("other@example.com", "otherpass", "Other"))
	code = env.request(t, http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email": "other@example.com", "password": "otherpass",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}
