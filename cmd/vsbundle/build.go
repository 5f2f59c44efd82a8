package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/videostream/vsbundle/internal/bundle"
	"github.com/videostream/vsbundle/internal/config"
	"github.com/videostream/vsbundle/internal/minify"
	"github.com/videostream/vsbundle/internal/transpile"
)

var buildCmd = &cobra.Command{
	Use:   "build [entry]",
	Short: "Bundle the entry module into a single browser script",
	Long: `Bundle the entry module and everything it requires.

The artifact goes to stdout unless output is configured. A module that
fails to patch or minify is still emitted; the build then exits with
status 1 after writing the artifact.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Entry = args[0]
	}
	log := newLogger(cfg.Debug)

	var compiler transpile.Compiler = transpile.Babel{Command: cfg.Babel.Command, Dir: root}
	if cfg.Transpiler == "esbuild" {
		compiler = transpile.Esbuild{}
	}
	var minifier minify.Minifier = minify.Uglify{Command: cfg.Uglify.Command, Dir: root}
	if cfg.Minifier == "esbuild" {
		minifier = minify.Esbuild{}
	}

	res, err := bundle.Build(context.Background(), bundle.Options{
		Root:     root,
		Entry:    cfg.Entry,
		External: cfg.External,
		Header: bundle.HeaderInfo{
			Name:    cfg.Name,
			Version: cfg.Version,
			Builder: cfg.Builder,
		},
		Shim:      cfg.Shim.Options(),
		Compiler:  compiler,
		Minifier:  minifier,
		ChunkSize: cfg.ChunkSize,
		Log:       log,
	})
	if err != nil {
		if errors.Is(err, bundle.ErrBuildFailed) {
			log.Error().Err(err).Msg("Build failed")
			return exitStatus(1)
		}
		return err
	}

	if cfg.Output == "-" {
		if _, err := res.WriteTo(cmd.OutOrStdout()); err != nil {
			return err
		}
	} else if err := os.WriteFile(cfg.Output, []byte(res.Artifact), 0o644); err != nil {
		return err
	}

	res.Summary(log, time.Now())
	if status := res.Status(); status != 0 {
		return exitStatus(status)
	}
	return nil
}
