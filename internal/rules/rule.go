// Package rules holds the ordered rewrite table applied to every module
// before minification.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type Category int

const (
	// Patch fixes or adapts one known module.
	Patch Category = iota
	// Capability strips host facilities the browser does not have.
	Capability
	// DeadCode narrows fallback paths into if(0) branches for the minifier.
	DeadCode
	// Substitution redirects imports in every module.
	Substitution
)

func (c Category) String() string {
	switch c {
	case Patch:
		return "patch"
	case Capability:
		return "capability"
	case DeadCode:
		return "dead-code"
	case Substitution:
		return "substitution"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Matcher tests a module identity.
type Matcher func(id string) bool

// Transform rewrites module text. Returning src unchanged is always legal.
type Transform func(ctx context.Context, u *Unit, src string) (string, error)

type Rule struct {
	Name     string
	Category Category
	// Match selects the modules the rule applies to; nil applies everywhere.
	Match Matcher
	// Pattern describes Match for listings.
	Pattern string
	Apply   Transform
}

func (r Rule) Universal() bool {
	return r.Match == nil
}

func (r Rule) Applies(id string) bool {
	return r.Match == nil || r.Match(id)
}

// Transpiler downgrades module syntax for the target runtime.
type Transpiler interface {
	Transpile(ctx context.Context, filename, src string) (string, error)
}

// Unit is the per-module state rules can read and adjust.
type Unit struct {
	// ID is the module path relative to the build root, with forward slashes.
	ID string
	// Path is the OS path of the module.
	Path string
	// Shim is the expression that evaluates to the runtime shim exports.
	Shim string
	// Beautify is cleared by rules for modules that should be emitted compact.
	Beautify bool

	Transpiler Transpiler
	ReadFile   func(name string) ([]byte, error)
}

func Always(string) bool { return true }

// Contains matches identities holding fragment.
func Contains(fragment string) Matcher {
	return func(id string) bool {
		return strings.Contains(id, fragment)
	}
}

func AnyOf(ms ...Matcher) Matcher {
	return func(id string) bool {
		for _, m := range ms {
			if m(id) {
				return true
			}
		}
		return false
	}
}

func AllOf(ms ...Matcher) Matcher {
	return func(id string) bool {
		for _, m := range ms {
			if !m(id) {
				return false
			}
		}
		return true
	}
}

// ContainsAny matches identities holding any of the fragments.
func ContainsAny(fragments ...string) Matcher {
	ms := make([]Matcher, len(fragments))
	for i, f := range fragments {
		ms[i] = Contains(f)
	}
	return AnyOf(ms...)
}

// Table is an ordered rule list. Later rules observe earlier output.
type Table []Rule

// Matching returns the rules that apply to id, in table order.
func (t Table) Matching(id string) Table {
	var out Table
	for _, r := range t {
		if r.Applies(id) {
			out = append(out, r)
		}
	}
	return out
}

// Engine applies a Table to module content.
type Engine struct {
	Rules Table
	Log   zerolog.Logger
}

func NewEngine(rules Table, log zerolog.Logger) *Engine {
	return &Engine{Rules: rules, Log: log}
}

// Run applies every matching rule to src in order. A failing rule leaves
// the text it was given untouched and the remaining rules still run; the
// failures are returned so the caller can count them.
func (e *Engine) Run(ctx context.Context, u *Unit, src string) (string, []error) {
	var errs []error
	for _, r := range e.Rules {
		if !r.Applies(u.ID) {
			continue
		}
		out, err := apply(ctx, r, u, src)
		if err != nil {
			e.Log.Error().Err(err).Str("module", u.ID).Str("rule", r.Name).Msg("Rule failed")
			errs = append(errs, err)
			continue
		}
		src = out
	}
	return src, errs
}

func apply(ctx context.Context, r Rule, u *Unit, src string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule %q panicked: %v", r.Name, p)
		}
	}()
	out, err = r.Apply(ctx, u, src)
	if err != nil {
		err = fmt.Errorf("rule %q: %w", r.Name, err)
	}
	return out, err
}
