// Package gateway turns per-project route tables into HTTP dispatch:
// compiling path patterns into anchored matchers, selecting the target
// function for an incoming method and path, and shaping the function's
// return value into an HTTP response.
package gateway

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"clowdy/pkg/models"
)

// paramNameRe bounds :name segments to identifier characters so user
// patterns can never produce an uncompilable matcher.
var paramNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// compiledRoute is one route with its anchored matcher. Parameter values
// are captured positionally; params holds the names in capture order.
type compiledRoute struct {
	route    models.Route
	re       *regexp.Regexp
	params   []string
	literals int
}

// CompiledRoutes is a project's route table compiled and sorted for
// first-match-wins dispatch. Immutable once built; safe to share across
// requests.
type CompiledRoutes struct {
	byMethod map[string][]compiledRoute
	total    int
}

// RouteMatch is a dispatch decision: the winning route and the extracted
// path parameters.
type RouteMatch struct {
	Route  models.Route
	Params map[string]string
}

// Compile builds the matcher set for a route table. Routes must arrive in
// insertion order; priority within a method is literal segment count
// descending, with insertion order as the stable tie-break. Routes whose
// pattern does not compile are skipped.
func Compile(routes []models.Route) *CompiledRoutes {
	byMethod := make(map[string][]compiledRoute)
	total := 0
	for _, route := range routes {
		re, params, literals, err := compilePattern(route.PathPattern)
		if err != nil {
			continue
		}
		method := strings.ToUpper(route.Method)
		byMethod[method] = append(byMethod[method], compiledRoute{
			route:    route,
			re:       re,
			params:   params,
			literals: literals,
		})
		total++
	}

	for method := range byMethod {
		group := byMethod[method]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].literals > group[j].literals
		})
	}

	return &CompiledRoutes{byMethod: byMethod, total: total}
}

// Empty reports whether the table has no usable routes.
func (cr *CompiledRoutes) Empty() bool {
	return cr.total == 0
}

// Match returns the highest-priority route matching method and path, or
// nil. Routes declared with the exact method win over ANY routes
// regardless of literal count.
func (cr *CompiledRoutes) Match(method, path string) *RouteMatch {
	method = strings.ToUpper(method)
	path = NormalizePath(path)

	for _, class := range [2]string{method, models.MethodAny} {
		for _, candidate := range cr.byMethod[class] {
			groups := candidate.re.FindStringSubmatch(path)
			if groups == nil {
				continue
			}
			params := make(map[string]string, len(candidate.params))
			for i, name := range candidate.params {
				params[name] = groups[i+1]
			}
			return &RouteMatch{Route: candidate.route, Params: params}
		}
	}
	return nil
}

// compilePattern translates a pattern like /users/:id into an anchored
// regexp. Each :name segment captures one non-empty path segment; literal
// segments are quoted verbatim.
func compilePattern(pattern string) (re *regexp.Regexp, params []string, literals int, err error) {
	var parts []string
	for _, segment := range strings.Split(pattern, "/") {
		if segment == "" {
			continue
		}
		if strings.HasPrefix(segment, ":") {
			name := segment[1:]
			if !paramNameRe.MatchString(name) {
				return nil, nil, 0, fmt.Errorf("invalid parameter segment %q", segment)
			}
			params = append(params, name)
			parts = append(parts, "([^/]+)")
		} else {
			literals++
			parts = append(parts, regexp.QuoteMeta(segment))
		}
	}

	re, err = regexp.Compile("^/" + strings.Join(parts, "/") + "$")
	if err != nil {
		return nil, nil, 0, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	return re, params, literals, nil
}

// NormalizePath gives every match target the same shape: leading slash
// required, trailing slash stripped, empty means root.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// ValidatePathPattern normalizes a pattern at route creation time and
// rejects anything the compiler would not accept. Returns the normalized
// form to persist.
func ValidatePathPattern(pattern string) (string, error) {
	pattern = NormalizePath(pattern)
	if _, _, _, err := compilePattern(pattern); err != nil {
		return "", err
	}
	return pattern, nil
}
