package transform

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/videostream/vsbundle/internal/minify"
	"github.com/videostream/vsbundle/internal/rules"
)

// DefaultChunkSize is the read size used when a Pipeline sets none.
const DefaultChunkSize = 64 << 10

// Tally receives the per-module counts the bundle summary is built from.
type Tally interface {
	AddModule(size int64)
	AddError()
}

// Pipeline is the per-module transform. A single Pipeline serves every
// module; it holds no per-module state.
type Pipeline struct {
	Root       string
	Rules      *rules.Engine
	Transpiler rules.Transpiler
	// Minifier defaults to the in-process esbuild minifier.
	Minifier minify.Minifier
	// Shim is the expression rewritten modules use to reach the shim.
	Shim      string
	ChunkSize int
	Tally     Tally
	Log       zerolog.Logger
}

// Load reads the module at path and returns its transformed text. Only
// filesystem failures are returned; rule and minifier failures are counted
// on the Tally and the best available text is returned instead.
func (p *Pipeline) Load(ctx context.Context, path string) (string, error) {
	m, err := NewModule(p.Root, path)
	if err != nil {
		return "", err
	}
	p.Tally.AddModule(m.Size)
	p.Log.Info().Str("module", m.ID).Int64("size", m.Size).
		Msgf("Bundling %q (%d bytes)", m.ID, m.Size)

	f, err := os.Open(m.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	content, err := NewBuffer(m.ID, m.Size, p.Log).Collect(f, p.ChunkSize)
	if err != nil {
		return "", err
	}
	return p.Process(ctx, m, string(content)), nil
}

// Process applies the rules and the minifier to complete module content.
func (p *Pipeline) Process(ctx context.Context, m *Module, content string) string {
	u := &rules.Unit{
		ID:         m.ID,
		Path:       m.Path,
		Shim:       p.Shim,
		Beautify:   true,
		Transpiler: p.Transpiler,
		ReadFile:   os.ReadFile,
	}

	content, errs := p.Rules.Run(ctx, u, content)
	for range errs {
		p.Tally.AddError()
	}

	minifier := p.Minifier
	if minifier == nil {
		minifier = minify.Esbuild{}
	}
	r := minifier.Minify(ctx, content, minify.Options{Beautify: u.Beautify, Filename: m.ID})
	for _, w := range r.Warnings {
		p.Log.Warn().Str("module", m.ID).Msg(w)
	}
	if r.Failed() {
		p.Tally.AddError()
		for _, e := range r.Errors {
			p.Log.Error().Str("module", m.ID).Msg(e)
		}
		return content
	}
	return r.Code
}
