package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Runner is implemented by App; tests substitute a mock.
type Runner interface {
	RunRank(ctx context.Context, opts RankOptions, out io.Writer) error
	RunService(ctx context.Context, opts ServiceOptions) error
}

// GlobalOptions are shared by every subcommand
type GlobalOptions struct {
	ConfigFile string
	LogLevel   string
}

// RankOptions are the flags of the rank command. Pointer fields are only set
// when the flag was given and override the configuration file.
type RankOptions struct {
	GlobalOptions
	Gallery      string
	TopK         *int
	Workers      *int
	Seed         *int64
	Threshold    *float64
	IncludeEmpty bool
	RenderDir    string
	RenderFormat string
	ChartFile    string
	JSON         bool
}

// ServiceOptions are the flags of the serve command
type ServiceOptions struct {
	GlobalOptions
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, NewApp()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to app
func run(ctx context.Context, args []string, out io.Writer, app Runner) error {
	cmd := newRootCommand(app)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(app Runner) *cobra.Command {
	var global GlobalOptions

	rootCmd := &cobra.Command{
		Use:           "rugmatch",
		Short:         "Rank gallery images against a query by verified keypoint matches",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&global.ConfigFile, "config", "c", "", "Configuration file path (default: config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&global.LogLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newRankCommand(app, &global))
	rootCmd.AddCommand(newServeCommand(app, &global))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newRankCommand(app Runner, global *GlobalOptions) *cobra.Command {
	var (
		opts      RankOptions
		topK      int
		workers   int
		seed      int64
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "rank --gallery FILE",
		Short: "Rank a gallery fixture and print the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.GlobalOptions = *global
			flags := cmd.Flags()
			if flags.Changed("top-k") {
				opts.TopK = &topK
			}
			if flags.Changed("workers") {
				opts.Workers = &workers
			}
			if flags.Changed("seed") {
				opts.Seed = &seed
			}
			if flags.Changed("threshold") {
				opts.Threshold = &threshold
			}
			return app.RunRank(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Gallery, "gallery", "g", "", "Gallery file (YAML or JSON) with query, candidates and correspondences")
	flags.IntVarP(&topK, "top-k", "k", 0, "Number of candidates shown in detail")
	flags.IntVarP(&workers, "workers", "w", 0, "Candidates evaluated concurrently (0 = number of CPUs)")
	flags.Int64Var(&seed, "seed", 0, "Seed for RANSAC sampling")
	flags.Float64Var(&threshold, "threshold", 0, "Inlier threshold in pixels")
	flags.BoolVar(&opts.IncludeEmpty, "include-empty", false, "Rank candidates without correspondences instead of skipping them")
	flags.StringVar(&opts.RenderDir, "render-dir", "", "Write match visualizations and GeoJSON for the top candidates to this directory")
	flags.StringVar(&opts.RenderFormat, "render-format", "", "Visualization format: svg or png")
	flags.StringVar(&opts.ChartFile, "chart", "", "Write a PNG bar chart of the ranking")
	flags.BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("gallery")

	return cmd
}

func newServeCommand(app Runner, global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve rank requests over MQTT until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunService(cmd.Context(), ServiceOptions{GlobalOptions: *global})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rugmatch %s\n", Version)
		},
	}
}
