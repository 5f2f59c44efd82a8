// Package transpile downgrades module syntax for older browsers and folds
// the compiler's inheritance helper into the runtime shim.
package transpile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Compiler performs the actual syntax downgrade.
type Compiler interface {
	Compile(ctx context.Context, filename, src string) (string, error)
}

var (
	inheritsLooseDefRe = regexp.MustCompile(`function _inheritsLoose[^\n]+`)
	inheritsLooseRe    = regexp.MustCompile(`\b_inheritsLoose\b`)
)

// RewireInherits drops the compiler's single-line _inheritsLoose definition
// and points its call sites at the shim's inherit, which takes the same
// (derived, base) arguments.
func RewireInherits(src, shim string) string {
	src = inheritsLooseDefRe.ReplaceAllLiteralString(src, "")
	return inheritsLooseRe.ReplaceAllLiteralString(src, shim+".inherit")
}

// Adapter runs a Compiler and rewires its output onto the shim.
type Adapter struct {
	Compiler Compiler
	// Shim is the expression evaluating to the shim exports.
	Shim string
}

func (a *Adapter) Transpile(ctx context.Context, filename, src string) (string, error) {
	out, err := a.Compiler.Compile(ctx, filename, src)
	if err != nil {
		return "", fmt.Errorf("transpiling %s: %w", filename, err)
	}
	return RewireInherits(out, a.Shim), nil
}

// Esbuild compiles in-process, to ES5 unless Target says otherwise. esbuild
// cannot lower classes to ES5, so class syntax fails to compile.
type Esbuild struct {
	Target api.Target
}

func (e Esbuild) Compile(_ context.Context, filename, src string) (string, error) {
	target := e.Target
	if target == api.DefaultTarget {
		target = api.ES5
	}
	result := api.Transform(src, api.TransformOptions{
		Loader:     api.LoaderJS,
		Platform:   api.PlatformBrowser,
		Target:     target,
		Sourcefile: filename,
		Charset:    api.CharsetASCII,
	})
	if len(result.Errors) > 0 {
		return "", errors.New(strings.Join(api.FormatMessages(result.Errors, api.FormatMessagesOptions{
			Kind: api.ErrorMessage,
		}), ""))
	}
	return string(result.Code), nil
}

// BabelConfig is the preset profile handed to babel: preset-env in loose
// mode targeting IE 11.
var BabelConfig = map[string]any{
	"presets": []any{
		[]any{"@babel/preset-env", map[string]any{
			"loose":   true,
			"targets": map[string]string{"ie": "11"},
		}},
	},
}

// Babel shells out to the babel CLI, feeding the module on stdin.
type Babel struct {
	// Command is the argv prefix; defaults to npx babel.
	Command []string
	Dir     string
}

func (b Babel) Compile(ctx context.Context, filename, src string) (string, error) {
	config, err := writeConfig()
	if err != nil {
		return "", err
	}
	defer os.Remove(config)

	argv := b.Command
	if len(argv) == 0 {
		argv = []string{"npx", "babel"}
	}
	args := append(append([]string{}, argv[1:]...),
		"--no-babelrc",
		"--config-file", config,
		"--filename", filename,
	)

	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = b.Dir
	cmd.Stdin = strings.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func writeConfig() (string, error) {
	f, err := os.CreateTemp("", "vsbundle-babel-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(BabelConfig); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
