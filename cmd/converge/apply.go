package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/awsfacts"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/engine"
	"github.com/convergetool/converge/internal/logger"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
	"github.com/convergetool/converge/internal/render"
)

type applyOptions struct {
	ConfigPath string
	DryRun     bool
	Verbose    bool
	Region     string
}

var applyCmdRunner = runApply

func newApplyCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a task file against AWS",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DryRun = root.dryRun
			opts.Verbose = root.verbose
			opts.Region = root.region
			return applyCmdRunner(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to task file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func newPlanCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change without touching AWS",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DryRun = true
			opts.Verbose = root.verbose
			opts.Region = root.region
			return applyCmdRunner(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to task file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func runApply(ctx context.Context, opts applyOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	clients, err := awsapi.Load(ctx, opts.Region)
	if err != nil {
		return err
	}

	cfg, err := loadTaskFile(ctx, opts.ConfigPath, clients)
	if err != nil {
		return err
	}

	level := "info"
	if opts.Verbose || cfg.Settings.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{
		Level:         level,
		HumanReadable: term.IsTerminal(int(os.Stderr.Fd())),
	})
	if err != nil {
		return err
	}

	registry := plugin.NewRegistry()
	if err := registerPlugins(registry, clients); err != nil {
		return err
	}

	execCtx := &engine.ExecutionContext{
		Context:  ctx,
		Config:   cfg,
		Registry: registry,
		Logger:   log,
		DryRun:   opts.DryRun,
	}

	results, execErr := engine.Execute(execCtx)
	reportResults(out, results, opts.Verbose)
	return execErr
}

// loadTaskFile renders the task file as a template with provider facts in
// scope, then parses and validates the result.
func loadTaskFile(ctx context.Context, path string, clients *awsapi.Clients) (*config.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	account, err := awsfacts.CallerAccount(ctx, clients.STS)
	if err != nil {
		return nil, err
	}
	zones, err := awsfacts.AvailabilityZones(ctx, clients.EC2)
	if err != nil {
		return nil, err
	}

	rendered, err := render.Render(string(raw), &render.Context{
		AWS: render.AWSContext{
			AccountID: account.AccountID,
			Region:    clients.Region,
			Zones:     awsfacts.ZoneNames(zones),
		},
	})
	if err != nil {
		return nil, err
	}

	return config.ParseBytes([]byte(rendered), path)
}

func reportResults(out io.Writer, results []model.StepResult, verbose bool) {
	changed := 0
	for _, res := range results {
		fmt.Fprintf(out, "%-13s %s", res.Status, res.StepID)
		if res.Message != "" {
			fmt.Fprintf(out, "  %s", res.Message)
		}
		fmt.Fprintln(out)

		if res.Changed {
			changed++
		}
		if verbose && res.Diff != "" {
			fmt.Fprintln(out, res.Diff)
		}
	}
	fmt.Fprintf(out, "%d steps, %d changed\n", len(results), changed)
}
