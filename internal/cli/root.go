package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BartekS5/refpull/internal/config"
	"github.com/BartekS5/refpull/pkg/logger"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "refpull",
		Short: "refpull - deterministic reference-data extraction",
		Long: `refpull pulls reference datasets from SQL databases, MongoDB and paged
JSON APIs and writes them as byte-stable CSV files with a JSON metadata
sidecar. Runs retry flaky pages, cache version handshakes and can publish
their artifacts to an S3-compatible bucket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			level := logger.ParseLevel(cfg.LogLevel)
			if cfg.LogFile != "" {
				return logger.InitFile(cfg.LogFile, level, cfg.LogFormat)
			}
			logger.Init(level, cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(NewRunCmd(), NewVerifyCmd(), NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the refpull version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "refpull", Version)
		},
	}
}
