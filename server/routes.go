package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/saiset-co/sai-pipeline/types"
)

type compiledRoute struct {
	method     string
	pattern    string
	handler    types.Invoker
	paramNames []string
	segments   []string
}

// routeTable resolves static paths with a map lookup and falls back to a
// segment match for patterns holding {name} or :name parameters.
type routeTable struct {
	mu      sync.RWMutex
	static  map[string]types.Invoker
	dynamic []*compiledRoute
	infos   []types.RouteInfo
}

func newRouteTable() *routeTable {
	return &routeTable{static: make(map[string]types.Invoker)}
}

func (t *routeTable) add(method, path string, handler types.Invoker) {
	method = strings.ToUpper(method)
	path = normalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.infos = append(t.infos, types.RouteInfo{Method: method, Path: path})

	if !strings.ContainsAny(path, "{}:") {
		t.static[method+":"+path] = handler
		return
	}

	t.dynamic = append(t.dynamic, &compiledRoute{
		method:     method,
		pattern:    path,
		handler:    handler,
		paramNames: extractParamNames(path),
		segments:   parsePathSegments(path),
	})
}

func (t *routeTable) lookup(method, path string) (types.Invoker, map[string]string) {
	path = normalizePath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if handler, ok := t.static[method+":"+path]; ok {
		return handler, nil
	}

	segments := parsePathSegments(path)
	for _, route := range t.dynamic {
		if route.method != method {
			continue
		}
		if params, ok := matchRoute(segments, route); ok {
			return route.handler, params
		}
	}

	return nil, nil
}

func (t *routeTable) routes() []types.RouteInfo {
	t.mu.RLock()
	out := make([]types.RouteInfo, len(t.infos))
	copy(out, t.infos)
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})

	return out
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func parsePathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}

func isParam(segment string) bool {
	return strings.HasPrefix(segment, ":") ||
		(strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}"))
}

func extractParamNames(pattern string) []string {
	var params []string
	for _, seg := range parsePathSegments(pattern) {
		switch {
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			params = append(params, seg[1:len(seg)-1])
		case strings.HasPrefix(seg, ":"):
			params = append(params, seg[1:])
		}
	}
	return params
}

func matchRoute(pathSegments []string, route *compiledRoute) (map[string]string, bool) {
	if len(pathSegments) != len(route.segments) {
		return nil, false
	}

	params := make(map[string]string, len(route.paramNames))
	paramIdx := 0

	for i, routeSegment := range route.segments {
		if isParam(routeSegment) {
			if paramIdx < len(route.paramNames) {
				params[route.paramNames[paramIdx]] = pathSegments[i]
				paramIdx++
			}
			continue
		}
		if routeSegment != pathSegments[i] {
			return nil, false
		}
	}

	return params, true
}

// Group registers routes under a shared path prefix.
type Group struct {
	app    types.WebApp
	prefix string
}

func NewGroup(app types.WebApp, prefix string) *Group {
	return &Group{app: app, prefix: strings.TrimRight(prefix, "/")}
}

func (g *Group) Route(method, path string, handler types.Invoker) {
	g.app.Route(method, g.prefix+path, handler)
}

func (g *Group) GET(path string, handler types.Invoker) {
	g.Route("GET", path, handler)
}

func (g *Group) POST(path string, handler types.Invoker) {
	g.Route("POST", path, handler)
}

func (g *Group) Group(prefix string) *Group {
	return &Group{app: g.app, prefix: g.prefix + strings.TrimRight(prefix, "/")}
}
