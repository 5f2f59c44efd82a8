package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/videostream/vsbundle/internal/config"
	"github.com/videostream/vsbundle/internal/shim"
)

var shimCheck bool

var shimCmd = &cobra.Command{
	Use:   "shim",
	Short: "Print the runtime compatibility module linked into bundles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(".")
		if err != nil {
			return err
		}
		src, err := shim.Render(cfg.Shim.Options())
		if err != nil {
			return err
		}
		if !shimCheck {
			fmt.Fprint(cmd.OutOrStdout(), src)
			return nil
		}

		log := newLogger(cfg.Debug)
		sb, err := shim.NewSandbox(src, log)
		if err != nil {
			return err
		}
		if err := sb.SelfTest(); err != nil {
			return fmt.Errorf("shim self-test: %w", err)
		}
		log.Info().Msg("Shim self-test passed")
		return nil
	},
}

func init() {
	shimCmd.Flags().BoolVar(&shimCheck, "check", false, "run the shim self-test instead of printing it")
}
