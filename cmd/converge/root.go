package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose bool
	dryRun  bool
	region  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "converge",
		Short:         "Converge reconciles AWS serverless resources from declarative task files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Report what would change without touching AWS")
	cmd.PersistentFlags().StringVar(&flags.region, "region", "", "AWS region (defaults to the SDK configuration chain)")

	cmd.AddCommand(newApplyCmd(flags))
	cmd.AddCommand(newPlanCmd(flags))
	cmd.AddCommand(newFactsCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
