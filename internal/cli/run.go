package cli

import (
	"github.com/spf13/cobra"
)

type RunOptions struct {
	JobFiles  []string
	OutputDir string
	DryRun    bool
	Strict    bool
	Parallel  int
}

func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one or more extraction jobs",
		Example: `  refpull run -j jobs/species.yaml
  refpull run -j jobs/countries.yaml -j jobs/currencies.yaml --parallel 2 --output data`,
		RunE: func(c *cobra.Command, args []string) error {
			return runJobs(c.Context(), c.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.JobFiles, "job", "j", nil, "Path to a job file (repeatable)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "Output directory for jobs without their own (default $REFPULL_OUTPUT_DIR)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Run every stage but do not write or publish artifacts")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Fail a job when a page exhausts its retries")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 1, "Number of jobs run at once")
	_ = cmd.MarkFlagRequired("job")

	return cmd
}
