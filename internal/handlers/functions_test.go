package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clowdy/pkg/models"
)

func TestCreateFunction(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/functions", map[string]any{
		"name": "greet",
		"code": "def handler(input):\n    return {\"hello\": input}\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, "greet", body["name"])
	assert.Equal(t, "python3.11", body["runtime"])
	assert.Equal(t, "active", body["status"])
	assert.Nil(t, body["project_id"])
	assert.Equal(t, testOwner, body["owner_id"])
}

func TestCreateFunctionInProject(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	w := f.do(t, http.MethodPost, "/api/functions", map[string]any{
		"name":       "scoped",
		"code":       "def handler(input):\n    return 1\n",
		"project_id": p.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, p.ID, decode(t, w)["project_id"])
}

func TestCreateFunctionInForeignProject(t *testing.T) {
	f := newFixture(t)
	other := &models.Project{OwnerID: "someone-else", Name: "Theirs", Slug: "theirs"}
	require.NoError(t, f.store.CreateProject(context.Background(), other))

	w := f.do(t, http.MethodPost, "/api/functions", map[string]any{
		"name":       "sneaky",
		"code":       "def handler(input):\n    return 1\n",
		"project_id": other.ID,
	})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Project not found", decode(t, w)["detail"])
}

func TestCreateFunctionValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		body   map[string]any
		detail string
	}{
		{"missing name", map[string]any{"code": "x"}, "Function name is required"},
		{"blank name", map[string]any{"name": "  ", "code": "x"}, "Function name is required"},
		{"missing code", map[string]any{"name": "f"}, "Function code is required"},
		{"bad runtime", map[string]any{"name": "f", "code": "x", "runtime": "node20"}, "Unsupported runtime: node20"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/functions", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Equal(t, tc.detail, decode(t, w)["detail"])
		})
	}
}

func TestCreateFunctionNameConflict(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")
	f.seedFunction(t, &p.ID, "taken")

	w := f.do(t, http.MethodPost, "/api/functions", map[string]any{
		"name":       "taken",
		"code":       "def handler(input):\n    return 1\n",
		"project_id": p.ID,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	// The same name is free in another scope.
	w = f.do(t, http.MethodPost, "/api/functions", map[string]any{
		"name": "taken",
		"code": "def handler(input):\n    return 1\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestListFunctionsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.seedFunction(t, nil, "mine")
	foreign := &models.Function{OwnerID: "someone-else", Name: "theirs", Code: "x", Status: models.FunctionStatusActive}
	require.NoError(t, f.store.CreateFunction(context.Background(), foreign))

	w := f.do(t, http.MethodGet, "/api/functions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := decodeList(t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "mine", list[0]["name"])
}

func TestUpdateFunction(t *testing.T) {
	f := newFixture(t)
	fn := f.seedFunction(t, nil, "v1")

	w := f.do(t, http.MethodPut, "/api/functions/"+fn.ID, map[string]any{
		"name": "v2",
		"code": "def handler(input):\n    return 2\n",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "v2", body["name"])
	assert.Contains(t, body["code"], "return 2")
}

func TestUpdateFunctionRenameConflict(t *testing.T) {
	f := newFixture(t)
	f.seedFunction(t, nil, "existing")
	fn := f.seedFunction(t, nil, "renaming")

	w := f.do(t, http.MethodPut, "/api/functions/"+fn.ID, map[string]any{"name": "existing"})
	require.Equal(t, http.StatusConflict, w.Code)

	// Re-sending its own name is not a conflict.
	w = f.do(t, http.MethodPut, "/api/functions/"+fn.ID, map[string]any{"name": "renaming"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateFunctionStatus(t *testing.T) {
	f := newFixture(t)
	fn := f.seedFunction(t, nil, "toggle")

	w := f.do(t, http.MethodPut, "/api/functions/"+fn.ID, map[string]any{"status": "disabled"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disabled", decode(t, w)["status"])

	// A disabled function refuses direct invocation.
	w = f.do(t, http.MethodPost, "/api/invoke/"+fn.ID, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/functions/"+fn.ID, map[string]any{"status": "sleeping"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Invalid status: sleeping", decode(t, w)["detail"])
}

func TestUpdateFunctionEmptyCode(t *testing.T) {
	f := newFixture(t)
	fn := f.seedFunction(t, nil, "keepcode")

	w := f.do(t, http.MethodPut, "/api/functions/"+fn.ID, map[string]any{"code": "   "})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Function code cannot be empty", decode(t, w)["detail"])
}

func TestDeleteFunction(t *testing.T) {
	f := newFixture(t)
	fn := f.seedFunction(t, nil, "gone")

	w := f.do(t, http.MethodDelete, "/api/functions/"+fn.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Function deleted", decode(t, w)["message"])

	w = f.do(t, http.MethodGet, "/api/functions/"+fn.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFunctionOwnershipHidden(t *testing.T) {
	f := newFixture(t)
	foreign := &models.Function{OwnerID: "someone-else", Name: "theirs", Code: "x", Status: models.FunctionStatusActive}
	require.NoError(t, f.store.CreateFunction(context.Background(), foreign))

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		var body map[string]any
		if method == http.MethodPut {
			body = map[string]any{"description": "x"}
		}
		w := f.do(t, method, "/api/functions/"+foreign.ID, body)
		assert.Equal(t, http.StatusNotFound, w.Code, method)
	}
}
