// Package shim renders the runtime compatibility module that patched
// modules require in place of node-only helpers (process.nextTick,
// inherits, util-deprecate, debug, the Uint8Array checks).
package shim

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"text/template"

	"github.com/dop251/goja"
)

// ID is the import specifier rewritten modules use to reach the shim.
const ID = "vs:compat"

//go:embed shim.js
var source string

var tmpl = template.Must(template.New("shim.js").Parse(source))

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

type Options struct {
	// Global names the window property the scheduler is published under.
	Global string
	// DebugVar is the host global holding the debug verbosity.
	DebugVar string
	// DebugLevel is the verbosity debuglog loggers require to be active.
	DebugLevel int
	// LoggerRegistry is the host global that hands out named loggers.
	LoggerRegistry string
}

func DefaultOptions() Options {
	return Options{
		Global:         "vsNT",
		DebugVar:       "d",
		DebugLevel:     8,
		LoggerRegistry: "Logger",
	}
}

// Require returns the expression rules splice into module text to reach the shim.
func Require() string {
	return `require("` + ID + `")`
}

// Render produces the shim module source for opts.
func Render(opts Options) (string, error) {
	for _, name := range []string{opts.Global, opts.DebugVar, opts.LoggerRegistry} {
		if !identRe.MatchString(name) {
			return "", fmt.Errorf("shim: %q is not a valid identifier", name)
		}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return "", fmt.Errorf("shim: rendering template: %w", err)
	}
	return buf.String(), nil
}

// Check compiles src the way it will be wrapped by the bundler, surfacing
// syntax errors before any module is loaded.
func Check(src string) error {
	_, err := goja.Compile(ID, wrap(src), true)
	if err != nil {
		return fmt.Errorf("shim: %w", err)
	}
	return nil
}

func wrap(src string) string {
	return "(function(module, exports) {\n" + src + "\n})"
}
