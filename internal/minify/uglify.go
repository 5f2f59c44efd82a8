package minify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// UglifyOptions returns the minify() options handed to uglify-js. Sequence
// joining and comparison folding are disabled, as are loop optimizations.
func UglifyOptions(beautify bool) map[string]any {
	return map[string]any{
		"warnings": true,
		"mangle":   false,
		"compress": map[string]any{
			"passes":        3,
			"loops":         false,
			"sequences":     false,
			"comparisons":   false,
			"pure_getters":  true,
			"keep_infinity": true,
		},
		"output": map[string]any{
			"indent_level": 2,
			"ascii_only":   true,
			"comments":     "some",
			"beautify":     beautify,
		},
	}
}

// Uglify shells out to the uglify-js CLI, feeding the module on stdin.
type Uglify struct {
	// Command is the argv prefix; defaults to npx uglifyjs.
	Command []string
	Dir     string
}

func (u Uglify) Minify(ctx context.Context, src string, opts Options) Result {
	config, err := writeOptions(UglifyOptions(opts.Beautify))
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	defer os.Remove(config)

	argv := u.Command
	if len(argv) == 0 {
		argv = []string{"npx", "uglifyjs"}
	}
	args := append(append([]string{}, argv[1:]...), "--config-file", config)

	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = u.Dir
	cmd.Stdin = strings.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		return Result{Errors: []string{fmt.Sprintf("%s: %s: %v: %s", opts.Filename, strings.Join(argv, " "), err, msg)}}
	}

	r := Result{Code: stdout.String()}
	for _, line := range strings.Split(stderr.String(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "WARN: "))
		if line != "" {
			r.Warnings = append(r.Warnings, line)
		}
	}
	return r
}

func writeOptions(options map[string]any) (string, error) {
	f, err := os.CreateTemp("", "vsbundle-uglify-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(options); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
