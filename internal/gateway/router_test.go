package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clowdy/pkg/models"
)

func route(id, method, pattern, functionID string) models.Route {
	return models.Route{ID: id, Method: method, PathPattern: pattern, FunctionID: functionID}
}

func TestCompilePatternExtractsParams(t *testing.T) {
	compiled := Compile([]models.Route{route("r1", "GET", "/users/:id/posts/:postId", "fn-a")})

	match := compiled.Match("GET", "/users/7/posts/42")
	require.NotNil(t, match)
	assert.Equal(t, "fn-a", match.Route.FunctionID)
	assert.Equal(t, map[string]string{"id": "7", "postId": "42"}, match.Params)

	assert.Nil(t, compiled.Match("GET", "/users/7"))
	assert.Nil(t, compiled.Match("GET", "/users/7/posts/42/extra"))
}

func TestLiteralSegmentsBeatParameters(t *testing.T) {
	// Parameter route inserted first; the literal route still wins for the
	// exact path.
	compiled := Compile([]models.Route{
		route("r1", "GET", "/users/:id", "fn-param"),
		route("r2", "GET", "/users/me", "fn-literal"),
	})

	me := compiled.Match("GET", "/users/me")
	require.NotNil(t, me)
	assert.Equal(t, "fn-literal", me.Route.FunctionID)
	assert.Empty(t, me.Params)

	byID := compiled.Match("GET", "/users/42")
	require.NotNil(t, byID)
	assert.Equal(t, "fn-param", byID.Route.FunctionID)
	assert.Equal(t, map[string]string{"id": "42"}, byID.Params)
}

func TestExactMethodBeatsAny(t *testing.T) {
	compiled := Compile([]models.Route{
		route("r1", "ANY", "/ping", "fn-any"),
		route("r2", "GET", "/ping", "fn-get"),
	})

	get := compiled.Match("GET", "/ping")
	require.NotNil(t, get)
	assert.Equal(t, "fn-get", get.Route.FunctionID)

	del := compiled.Match("DELETE", "/ping")
	require.NotNil(t, del)
	assert.Equal(t, "fn-any", del.Route.FunctionID)
}

func TestInsertionOrderBreaksTies(t *testing.T) {
	// Both routes have one literal and one parameter; the older route wins.
	compiled := Compile([]models.Route{
		route("r1", "GET", "/a/:x", "fn-old"),
		route("r2", "GET", "/:y/b", "fn-new"),
	})

	match := compiled.Match("GET", "/a/b")
	require.NotNil(t, match)
	assert.Equal(t, "fn-old", match.Route.FunctionID)
}

func TestMatchIsCaseInsensitiveOnMethod(t *testing.T) {
	compiled := Compile([]models.Route{route("r1", "GET", "/x", "fn")})
	assert.NotNil(t, compiled.Match("get", "/x"))
}

func TestRootPattern(t *testing.T) {
	compiled := Compile([]models.Route{route("r1", "GET", "/", "fn-root")})

	match := compiled.Match("GET", "/")
	require.NotNil(t, match)
	assert.Equal(t, "fn-root", match.Route.FunctionID)
	assert.Nil(t, compiled.Match("GET", "/anything"))
}

func TestTrailingSlashesAreEquivalent(t *testing.T) {
	compiled := Compile([]models.Route{route("r1", "GET", "/users/", "fn")})
	assert.NotNil(t, compiled.Match("GET", "/users"))
	assert.NotNil(t, compiled.Match("GET", "/users/"))
}

func TestLiteralDotsDoNotActAsWildcards(t *testing.T) {
	compiled := Compile([]models.Route{route("r1", "GET", "/data.json", "fn")})
	assert.NotNil(t, compiled.Match("GET", "/data.json"))
	assert.Nil(t, compiled.Match("GET", "/dataXjson"))
}

func TestParamDoesNotMatchEmptyOrSlashedSegment(t *testing.T) {
	compiled := Compile([]models.Route{route("r1", "GET", "/users/:id", "fn")})
	assert.Nil(t, compiled.Match("GET", "/users/"))
	assert.Nil(t, compiled.Match("GET", "/users/1/2"))
}

func TestEmptyTable(t *testing.T) {
	compiled := Compile(nil)
	assert.True(t, compiled.Empty())
	assert.Nil(t, compiled.Match("GET", "/"))
}

func TestInvalidPatternIsSkipped(t *testing.T) {
	compiled := Compile([]models.Route{
		route("r1", "GET", "/ok", "fn-ok"),
		route("r2", "GET", "/bad/:1name", "fn-bad"),
	})
	assert.False(t, compiled.Empty())
	assert.NotNil(t, compiled.Match("GET", "/ok"))
	assert.Nil(t, compiled.Match("GET", "/bad/x"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"users", "/users"},
		{"/users", "/users"},
		{"/users/", "/users"},
		{"/users///", "/users"},
		{"/users/42", "/users/42"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), "input %q", tt.in)
	}
}

func TestValidatePathPattern(t *testing.T) {
	normalized, err := ValidatePathPattern("users/:id/")
	require.NoError(t, err)
	assert.Equal(t, "/users/:id", normalized)

	normalized, err = ValidatePathPattern("/")
	require.NoError(t, err)
	assert.Equal(t, "/", normalized)

	_, err = ValidatePathPattern("/users/:")
	assert.Error(t, err)

	_, err = ValidatePathPattern("/users/:1bad")
	assert.Error(t, err)
}
