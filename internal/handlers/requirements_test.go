package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clowdy/internal/docker"
	"clowdy/internal/images"
)

func TestGetRequirementsInitialState(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	w := f.do(t, http.MethodGet, "/api/projects/"+p.ID+"/requirements", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "", body["requirements_text"])
	assert.Equal(t, "none", body["image_build_status"])
	assert.Equal(t, false, body["has_custom_image"])
}

func TestUpdateRequirementsBuildsImage(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	w := f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/requirements", map[string]any{
		"requirements_text": "# web\nrequests==2.31.0\n\nflask==3.0.0\n",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "flask==3.0.0\nrequests==2.31.0", body["requirements_text"])
	assert.Equal(t, "ready", body["image_build_status"])
	assert.Equal(t, true, body["has_custom_image"])
	assert.Equal(t, "", body["image_build_error"])

	require.Len(t, f.imageHost.built, 1)
	canonical := "flask==3.0.0\nrequests==2.31.0"
	assert.Equal(t, images.Tag(p.ID, images.Hash(canonical)), f.imageHost.built[0])
}

func TestUpdateRequirementsBuildFailure(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")
	f.imageHost.buildErr = &docker.BuildError{
		Tag:     "whatever",
		Message: "build step failed",
		Output:  []string{"ERROR: No matching distribution found for nosuchpkg==1.0"},
	}

	w := f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/requirements", map[string]any{
		"requirements_text": "nosuchpkg==1.0",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	detail := decode(t, w)["detail"].(string)
	assert.Contains(t, detail, "Failed to build image: ")
	assert.Contains(t, detail, "No matching distribution found")

	// The manifest and the failure are persisted; state reflects the
	// attempt, not the rejection.
	w = f.do(t, http.MethodGet, "/api/projects/"+p.ID+"/requirements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "nosuchpkg==1.0", body["requirements_text"])
	assert.Equal(t, "failed", body["image_build_status"])
	assert.Contains(t, body["image_build_error"], "No matching distribution found")
	assert.Equal(t, false, body["has_custom_image"])
}

func TestUpdateRequirementsEmptyClearsImage(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	w := f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/requirements", map[string]any{
		"requirements_text": "requests==2.31.0",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/requirements", map[string]any{
		"requirements_text": "# only comments\n\n",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "", body["requirements_text"])
	assert.Equal(t, "none", body["image_build_status"])
	assert.Equal(t, false, body["has_custom_image"])
}

func TestUpdateRequirementsSkipsRebuildWhenUnchanged(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "P", "p")

	manifest := map[string]any{"requirements_text": "requests==2.31.0"}
	w := f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/requirements", manifest)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.imageHost.built, 1)

	// Same manifest, reordered comments: same canonical form, image still
	// present, no second build.
	w = f.do(t, http.MethodPut, "/api/projects/"+p.ID+"/requirements", map[string]any{
		"requirements_text": "\n# pinned\nrequests==2.31.0\n",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.imageHost.built, 1)
}
