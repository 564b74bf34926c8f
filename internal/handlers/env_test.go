package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndListEnvVars(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	w := f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/env", map[string]any{
		"key":   "LOG_LEVEL",
		"value": "debug",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "debug", decode(t, w)["value"])

	w = f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/env", map[string]any{
		"key":       "API_TOKEN",
		"value":     "s3cret",
		"is_secret": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "********", decode(t, w)["value"])

	w = f.do(t, http.MethodGet, "/api/projects/"+p.ID+"/env", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeList(t, w)
	require.Len(t, list, 2)
	assert.Equal(t, "API_TOKEN", list[0]["key"])
	assert.Equal(t, "********", list[0]["value"])
	assert.Equal(t, "LOG_LEVEL", list[1]["key"])
	assert.Equal(t, "debug", list[1]["value"])

	// Injection still sees the real value.
	env, err := f.store.EnvMap(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", env["API_TOKEN"])
}

func TestSetEnvVarUpsert(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	w := f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/env", map[string]any{
		"key": "K", "value": "v1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	first := decode(t, w)

	w = f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/env", map[string]any{
		"key": "K", "value": "v2",
	})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode(t, w)

	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, first["created_at"], second["created_at"])
	assert.Equal(t, "v2", second["value"])
}

func TestSetEnvVarRejectsBadKeys(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	for _, key := range []string{"", "9LEADING", "WITH SPACE", "WITH=EQUALS", "dash-key"} {
		w := f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/env", map[string]any{
			"key": key, "value": "x",
		})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, "key %q", key)
		assert.Equal(t, "Invalid environment variable key", decode(t, w)["detail"])
	}
}

func TestDeleteEnvVar(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")
	_, err := f.store.SetEnvVar(context.Background(), p.ID, "DOOMED", "x", false)
	require.NoError(t, err)

	w := f.do(t, http.MethodDelete, "/api/projects/"+p.ID+"/env/DOOMED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Env var 'DOOMED' deleted", decode(t, w)["message"])

	w = f.do(t, http.MethodDelete, "/api/projects/"+p.ID+"/env/DOOMED", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Env var 'DOOMED' not found", decode(t, w)["detail"])
}
