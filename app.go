package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kwv/rugmatch/match"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	// DefaultConfigPath is read when --config is not given and the file exists
	DefaultConfigPath string
	// LogOutput receives log records (stderr by default)
	LogOutput io.Writer
	// ConnectMQTT opens the service connection; replaced in tests
	ConnectMQTT func(cfg *match.Config, handler match.RequestHandler, logger *slog.Logger) (*match.MQTTClient, error)
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		DefaultConfigPath: defaultConfigFile,
		LogOutput:         os.Stderr,
		ConnectMQTT:       match.InitMQTT,
	}
}

// loadConfig reads the configuration named by --config, falling back to the
// default path when present and to built-in defaults otherwise.
func (a *App) loadConfig(global GlobalOptions) (*match.Config, error) {
	path := global.ConfigFile
	if path == "" && a.DefaultConfigPath != "" {
		if _, err := os.Stat(a.DefaultConfigPath); err == nil {
			path = a.DefaultConfigPath
		}
	}
	if path != "" {
		return match.LoadConfig(path)
	}

	cfg := match.DefaultConfig()
	if url := os.Getenv("MATCHER_URL"); url != "" {
		cfg.Matcher.URL = url
	}
	return cfg, nil
}

func (a *App) logger(cfg *match.Config, global GlobalOptions) (*slog.Logger, error) {
	w := a.LogOutput
	if w == nil {
		w = os.Stderr
	}
	return newLogger(cfg.Log, global.LogLevel, w)
}

// fallbackMatcher returns the remote matcher, or nil when none is configured.
func fallbackMatcher(cfg *match.Config) (match.Matcher, error) {
	remote, err := cfg.NewRemoteMatcher()
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, nil
	}
	return remote, nil
}

// applyRankOptions lets command-line flags override the configuration.
func applyRankOptions(cfg *match.Config, opts RankOptions) error {
	if opts.TopK != nil {
		cfg.Ranking.TopK = *opts.TopK
	}
	if opts.Workers != nil {
		cfg.Workers = *opts.Workers
	}
	if opts.Seed != nil {
		cfg.Estimator.Seed = *opts.Seed
	}
	if opts.Threshold != nil {
		cfg.Estimator.Threshold = *opts.Threshold
	}
	if opts.IncludeEmpty {
		cfg.Ranking.IncludeEmpty = true
	}
	if opts.RenderFormat != "" {
		cfg.Render.Format = opts.RenderFormat
	}
	return cfg.Validate()
}

// RunRank evaluates a gallery file and prints the ranking to out.
func (a *App) RunRank(ctx context.Context, opts RankOptions, out io.Writer) error {
	cfg, err := a.loadConfig(opts.GlobalOptions)
	if err != nil {
		return err
	}
	if err := applyRankOptions(cfg, opts); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	logger, err := a.logger(cfg, opts.GlobalOptions)
	if err != nil {
		return err
	}

	gallery, err := match.LoadGallery(opts.Gallery)
	if err != nil {
		return err
	}
	fallback, err := fallbackMatcher(cfg)
	if err != nil {
		return err
	}
	matcher, err := gallery.Matcher(fallback)
	if err != nil {
		return fmt.Errorf("gallery %s: %w", opts.Gallery, err)
	}

	evaluator := cfg.NewEvaluator(matcher, logger, match.WithEvidence(opts.RenderDir != ""))
	report, evalErr := evaluator.Evaluate(ctx, gallery.Query, gallery.Entries())
	if report == nil {
		return evalErr
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(match.NewRankResponse("", report, evalErr)); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	} else {
		printReport(out, report, shouldColorize(out))
	}

	if opts.RenderDir != "" {
		written, err := renderEvidence(opts.RenderDir, cfg.Render, report)
		if err != nil {
			return err
		}
		if !opts.JSON {
			for _, path := range written {
				fmt.Fprintf(out, "Wrote %s\n", path)
			}
		}
	}

	if opts.ChartFile != "" {
		if err := match.NewSummaryChart(report.Ranked, report.TopK).SavePNG(opts.ChartFile); err != nil {
			return fmt.Errorf("writing chart: %w", err)
		}
		if !opts.JSON {
			fmt.Fprintf(out, "Wrote %s\n", opts.ChartFile)
		}
	}

	return evalErr
}

// printReport writes the skip warnings, the detailed top-K view and, when
// more candidates were ranked, the full summary table.
func printReport(out io.Writer, report *match.Report, colorize bool) {
	for _, s := range report.Skipped {
		fmt.Fprintln(out, warningLine(fmt.Sprintf("skipped %s: %s", s.CandidateID, s.Reason), colorize))
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintln(out)
	}

	if report.Ranked.Empty() {
		fmt.Fprintln(out, "No similar images found.")
		return
	}

	top := report.Top()
	fmt.Fprintf(out, "Top %d matches for %s:\n", len(top), report.Query.Key())
	for i, s := range top {
		line := fmt.Sprintf("%d. %s  total matches: %d  inlier matches: %d", i+1, s.CandidateID, s.MatchCount, s.InlierCount)
		if !s.Verified {
			line += "  (unverified)"
		}
		fmt.Fprintln(out, line)
	}

	if report.Ranked.Len() > len(top) {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Summary of all matches:")
		fmt.Fprintln(out, summaryTable(report.Ranked.Summary(), colorize))
	}
}

// renderEvidence writes a visualization and a GeoJSON file for each top-K
// candidate. It returns the written paths.
func renderEvidence(dir string, cfg match.RenderConfig, report *match.Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating render directory: %w", err)
	}

	var written []string
	for i, ev := range report.Evidence {
		s := report.Ranked.Scores[i]
		base := filepath.Join(dir, fmt.Sprintf("%d-%s", i+1, safeFileName(s.CandidateID)))

		r := match.NewMatchRenderer(report.Query, ev)
		r.Scale = cfg.Scale
		imgPath := base + "." + cfg.Format
		if err := writeFile(imgPath, func(w io.Writer) error { return r.Render(w, cfg.Format) }); err != nil {
			return written, err
		}
		written = append(written, imgPath)

		geoPath := base + ".geojson"
		if err := writeFile(geoPath, func(w io.Writer) error {
			return match.WriteEvidenceGeoJSON(w, report.Query, ev)
		}); err != nil {
			return written, err
		}
		written = append(written, geoPath)
	}
	return written, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// safeFileName replaces characters that are awkward in file names.
func safeFileName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
}
