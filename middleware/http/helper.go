package middleware

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

type prefixPath struct {
	prefix    string
	prefixLen int
}

// PathMatcher matches request paths against a fixed list of rules.
type PathMatcher struct {
	exactPaths  map[string]struct{}
	prefixPaths []prefixPath
	patterns    []string
}

// NewPathMatcher compiles paths. Three forms are supported:
//   - exact: "/health" matches only "/health"
//   - prefix: "/app/**" matches "/app" and everything below it
//   - glob: "/app/*/edit" uses path.Match syntax
func NewPathMatcher(paths []string) *PathMatcher {
	pm := &PathMatcher{exactPaths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		switch prefix, ok := strings.CutSuffix(p, "/**"); {
		case ok:
			pm.prefixPaths = append(pm.prefixPaths, prefixPath{prefix: prefix, prefixLen: len(prefix)})
		case strings.ContainsAny(p, "*?["):
			pm.patterns = append(pm.patterns, p)
		default:
			pm.exactPaths[p] = struct{}{}
		}
	}
	return pm
}

// Match reports whether urlPath matches any rule. A nil matcher matches nothing.
func (pm *PathMatcher) Match(urlPath string) bool {
	if pm == nil {
		return false
	}

	if _, ok := pm.exactPaths[urlPath]; ok {
		return true
	}

	for i := range pm.prefixPaths {
		pp := &pm.prefixPaths[i]
		switch {
		case len(urlPath) < pp.prefixLen:
		case len(urlPath) == pp.prefixLen:
			if urlPath == pp.prefix {
				return true
			}
		case urlPath[pp.prefixLen] == '/' && strings.HasPrefix(urlPath, pp.prefix):
			return true
		}
	}

	for _, pattern := range pm.patterns {
		if matched, _ := path.Match(pattern, urlPath); matched {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no rules.
func (pm *PathMatcher) Empty() bool {
	return pm == nil || len(pm.exactPaths)+len(pm.prefixPaths)+len(pm.patterns) == 0
}

func shouldSkip(c *gin.Context, matcher *PathMatcher, skipFunc func(*gin.Context) bool) bool {
	if skipFunc != nil && skipFunc(c) {
		return true
	}
	return matcher.Match(c.Request.URL.Path)
}
