// Package ignore evaluates include/exclude glob rules against
// project-relative paths, the way trivy's skip-path matching does, but
// layered with the bundle's fixed defaults and force-add override.
package ignore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/modelops/bundle/bundle"
)

// RuleKind is whether a Rule includes or excludes matching paths.
type RuleKind int

const (
	Exclude RuleKind = iota
	Include
)

// Rule is one ordered glob rule. A trailing "/" in Pattern restricts the
// match to directories (and everything beneath them).
type Rule struct {
	Kind    RuleKind
	Pattern string
}

// defaultExcludes are always applied first, lowest precedence: the
// project's own metadata directory, VCS directories, OS junk files, and
// common editor autosave patterns.
var defaultExcludes = []string{
	".modelops-bundle/**",
	".git/**",
	".hg/**",
	".svn/**",
	"**/.DS_Store",
	"**/Thumbs.db",
	"**/*~",
	"**/.#*",
	"**/#*#",
}

// Matcher evaluates a path against the built-in defaults plus a set of
// user rules, in precedence order: explicit includes override explicit
// excludes override the defaults.
type Matcher struct {
	rules []Rule
}

// New builds a Matcher from user-supplied rules, applied after (and at
// higher precedence than) the built-in defaults.
func New(userRules []Rule) *Matcher {
	rules := make([]Rule, 0, len(defaultExcludes)+len(userRules))
	for _, p := range defaultExcludes {
		rules = append(rules, Rule{Kind: Exclude, Pattern: p})
	}
	rules = append(rules, userRules...)
	return &Matcher{rules: rules}
}

// Ignored reports whether path should be excluded from the working-tree
// inventory. Force-added paths (TrackedSet layer) bypass this check
// entirely; Matcher itself has no notion of force-add.
func (m *Matcher) Ignored(path bundle.Path) bool {
	p := string(path)
	excluded, included := false, false
	for _, r := range m.rules {
		if !matches(r.Pattern, p) {
			continue
		}
		switch r.Kind {
		case Exclude:
			excluded = true
		case Include:
			included = true
		}
	}
	return excluded && !included
}

func matches(pattern, path string) bool {
	dirOnly := strings.HasSuffix(pattern, "/")
	trimmed := strings.TrimSuffix(pattern, "/")

	if ok, _ := doublestar.Match(trimmed, path); ok {
		return true
	}
	if dirOnly {
		if ok, _ := doublestar.Match(trimmed+"/**", path); ok {
			return true
		}
	}
	// A pattern with no slash matches the basename at any depth, the
	// common gitignore-style shorthand.
	if !strings.Contains(trimmed, "/") {
		if ok, _ := doublestar.Match("**/"+trimmed, path); ok {
			return true
		}
		if ok, _ := doublestar.Match(trimmed, path); ok {
			return true
		}
	}
	return false
}
