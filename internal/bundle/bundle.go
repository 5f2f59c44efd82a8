// Package bundle drives esbuild over the entry point, routes every loaded
// module through the transform pipeline and assembles the final artifact.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"

	"github.com/videostream/vsbundle/internal/minify"
	"github.com/videostream/vsbundle/internal/rules"
	"github.com/videostream/vsbundle/internal/shim"
	"github.com/videostream/vsbundle/internal/transform"
	"github.com/videostream/vsbundle/internal/transpile"
)

// ErrBuildFailed marks failures that abort the whole build.
var ErrBuildFailed = errors.New("bundle failed")

const (
	shimNamespace    = "vs-compat"
	virtualNamespace = "virtual"
	virtualEntry     = "virtual:entry"
)

type Options struct {
	// Root is the build root; module identities are relative to it and it
	// is scrubbed from the artifact. Defaults to the working directory.
	Root string
	// Entry is the entry module, relative to Root.
	Entry string
	// EntryCode, when set, replaces Entry with in-memory source.
	EntryCode string
	External  []string
	Header    HeaderInfo
	Shim      shim.Options
	// Compiler handles modules that need a syntax downgrade. Defaults to
	// babel run from Root.
	Compiler transpile.Compiler
	// Minifier defaults to the in-process esbuild minifier.
	Minifier minify.Minifier
	// Rules defaults to rules.Default().
	Rules     rules.Table
	ChunkSize int
	Log       zerolog.Logger
	Now       func() time.Time
}

type Result struct {
	Artifact string
	Manifest *Manifest
}

// Status is the process exit status the build earned.
func (r *Result) Status() int {
	if r.Manifest.Errors() > 0 {
		return 1
	}
	return 0
}

func (r *Result) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.Artifact)
	return int64(n), err
}

// Summary logs the closing line of the build.
func (r *Result) Summary(log zerolog.Logger, now time.Time) {
	elapsed := now.Sub(r.Manifest.Start)
	log.Info().
		Int("size", len(r.Artifact)).
		Int64("files", r.Manifest.Files()).
		Int64("bytes", r.Manifest.Bytes()).
		Int64("errors", r.Manifest.Errors()).
		Dur("elapsed", elapsed).
		Msgf("Bundle created with size %d bytes, from %d files with a sum of %d bytes. Process took: %dms",
			len(r.Artifact), r.Manifest.Files(), r.Manifest.Bytes(), elapsed.Milliseconds())
}

// Build bundles opts.Entry. Errors wrapping ErrBuildFailed mean no artifact
// was produced; per-module failures are only counted on the manifest.
func Build(ctx context.Context, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	manifest := NewManifest(now())

	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	shimSrc, err := shim.Render(opts.Shim)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	if err := shim.Check(shimSrc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	table := opts.Rules
	if table == nil {
		table = rules.Default()
	}
	compiler := opts.Compiler
	if compiler == nil {
		compiler = transpile.Babel{Dir: root}
	}
	pipeline := &transform.Pipeline{
		Root:       root,
		Rules:      rules.NewEngine(table, opts.Log),
		Transpiler: &transpile.Adapter{Compiler: compiler, Shim: shim.Require()},
		Minifier:   opts.Minifier,
		Shim:       shim.Require(),
		ChunkSize:  opts.ChunkSize,
		Tally:      manifest,
		Log:        opts.Log,
	}

	entry := opts.Entry
	if opts.EntryCode != "" {
		entry = virtualEntry
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:   []string{entry},
		AbsWorkingDir: root,
		Bundle:        true,
		Write:         false,
		Outfile:       "bundle.js",
		Format:        api.FormatIIFE,
		Platform:      api.PlatformBrowser,
		Target:        api.ES5,
		Charset:       api.CharsetASCII,
		External:      opts.External,
		Plugins: []api.Plugin{
			plugin(ctx, pipeline, root, shimSrc, opts.EntryCode),
		},
	})

	for _, w := range api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
		opts.Log.Warn().Msg(strings.TrimSpace(w))
	}
	if len(result.Errors) > 0 {
		msg := ""
		for _, e := range api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage}) {
			msg += e
		}
		return nil, fmt.Errorf("%w: %s", ErrBuildFailed, strings.TrimSpace(msg))
	}
	if len(result.OutputFiles) == 0 {
		return nil, fmt.Errorf("%w: bundle is not present in outputs", ErrBuildFailed)
	}

	h := opts.Header
	h.Time = manifest.Start
	artifact := Header(h) + StripRoot(string(result.OutputFiles[0].Contents), root)

	return &Result{Artifact: artifact, Manifest: manifest}, nil
}

func plugin(ctx context.Context, pipeline *transform.Pipeline, root, shimSrc, entryCode string) api.Plugin {
	return api.Plugin{
		Name: "vsbundle",
		Setup: func(pb api.PluginBuild) {
			redirectLoad := func(namespace, contents string) {
				pb.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: namespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					return api.OnLoadResult{
						ResolveDir: root,
						Contents:   &contents,
						Loader:     api.LoaderJS,
					}, nil
				})
			}

			pb.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(shim.ID) + "$"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				return api.OnResolveResult{
					Path:      shim.ID,
					Namespace: shimNamespace,
				}, nil
			})
			redirectLoad(shimNamespace, shimSrc)

			if entryCode != "" {
				pb.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(virtualEntry) + "$"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      args.Path,
						Namespace: virtualNamespace,
					}, nil
				})
				redirectLoad(virtualNamespace, entryCode)
			}

			pb.OnLoad(api.OnLoadOptions{Filter: `\.[cm]?js$`, Namespace: "file"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				contents, err := pipeline.Load(ctx, args.Path)
				if err != nil {
					return api.OnLoadResult{}, err
				}
				return api.OnLoadResult{
					Contents:   &contents,
					ResolveDir: filepath.Dir(args.Path),
					Loader:     api.LoaderJS,
				}, nil
			})
		},
	}
}
