// Package minify compresses each module with identifier mangling off, so
// output stays diffable against upstream.
package minify

import (
	"context"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

type Options struct {
	// Beautify keeps whitespace and indentation in the output.
	Beautify bool
	// Filename labels messages.
	Filename string
}

type Result struct {
	Code     string
	Warnings []string
	Errors   []string
}

func (r Result) Failed() bool {
	return len(r.Errors) > 0
}

// Minifier compresses one module. On failure Code is empty and Errors is set.
type Minifier interface {
	Minify(ctx context.Context, src string, opts Options) Result
}

// Esbuild minifies in-process. esbuild has no switches for sequence joining
// or comparison folding, so its syntax pass joins adjacent statements with
// commas and rewrites negated conditions; Uglify keeps both off.
type Esbuild struct{}

func (Esbuild) Minify(_ context.Context, src string, opts Options) Result {
	result := api.Transform(src, api.TransformOptions{
		Loader:            api.LoaderJS,
		Sourcefile:        opts.Filename,
		Target:            api.ES5,
		MinifySyntax:      true,
		MinifyIdentifiers: false,
		MinifyWhitespace:  !opts.Beautify,
		Charset:           api.CharsetASCII,
		LegalComments:     api.LegalCommentsInline,
	})

	r := Result{
		Warnings: format(result.Warnings, api.WarningMessage),
		Errors:   format(result.Errors, api.ErrorMessage),
	}
	if !r.Failed() {
		r.Code = string(result.Code)
	}
	return r
}

// Minify runs the in-process minifier.
func Minify(src string, opts Options) Result {
	return Esbuild{}.Minify(context.Background(), src, opts)
}

func format(msgs []api.Message, kind api.MessageKind) []string {
	if len(msgs) == 0 {
		return nil
	}
	out := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
	for i, m := range out {
		out[i] = strings.TrimSpace(m)
	}
	return out
}
