package match

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func validConfigYAML() string {
	return `estimator:
  threshold: 0.8
  confidence: 0.99
  residual: sampson
  seed: 42
ranking:
  topK: 5
  includeEmpty: true
workers: 4
matcher:
  url: http://matcher:8080/match
  timeout: 5s
mqtt:
  broker: tcp://localhost:1883
  requestTopic: rugs/in
log:
  level: debug
  format: json
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	t.Setenv("MATCHER_URL", "")
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Estimator.Threshold != 0.8 || cfg.Estimator.Confidence != 0.99 {
		t.Errorf("Estimator = %+v", cfg.Estimator)
	}
	if cfg.Estimator.Residual != ResidualSampson || cfg.Estimator.Seed != 42 {
		t.Errorf("Residual/Seed = %q/%d", cfg.Estimator.Residual, cfg.Estimator.Seed)
	}
	if cfg.Ranking.TopK != 5 || !cfg.Ranking.IncludeEmpty {
		t.Errorf("Ranking = %+v", cfg.Ranking)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.Matcher.URL != "http://matcher:8080/match" || cfg.Matcher.Timeout != 5*time.Second {
		t.Errorf("Matcher = %+v", cfg.Matcher)
	}
	if cfg.MQTT.RequestTopic != "rugs/in" {
		t.Errorf("RequestTopic = %q", cfg.MQTT.RequestTopic)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadConfig_MissingKeysKeepDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "workers: 2\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	d := DefaultConfig()
	if cfg.Estimator != d.Estimator {
		t.Errorf("Estimator = %+v, want defaults %+v", cfg.Estimator, d.Estimator)
	}
	if cfg.Ranking.TopK != DefaultTopK {
		t.Errorf("TopK = %d, want %d", cfg.Ranking.TopK, DefaultTopK)
	}
	if cfg.MQTT.PublishPrefix != "rugmatch" || cfg.Render.Format != "svg" {
		t.Errorf("MQTT/Render defaults lost: %+v %+v", cfg.MQTT, cfg.Render)
	}
}

func TestLoadConfig_NormalizesUnusableValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `estimator:
  threshold: -1
  confidence: 1.5
  minCorrespondences: 3
ranking:
  topK: 0
workers: -2
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	d := DefaultEstimatorConfig()
	if cfg.Estimator.Threshold != d.Threshold || cfg.Estimator.Confidence != d.Confidence {
		t.Errorf("Estimator not normalized: %+v", cfg.Estimator)
	}
	if cfg.Estimator.MinCorrespondences != 8 {
		t.Errorf("MinCorrespondences = %d, want 8", cfg.Estimator.MinCorrespondences)
	}
	if cfg.Ranking.TopK != DefaultTopK || cfg.Workers != 0 {
		t.Errorf("TopK=%d Workers=%d", cfg.Ranking.TopK, cfg.Workers)
	}
}

func TestLoadConfig_EnvMatcherURL(t *testing.T) {
	t.Setenv("MATCHER_URL", "http://override:9000/match")
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Matcher.URL != "http://override:9000/match" {
		t.Errorf("URL = %q, want env override", cfg.Matcher.URL)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "estimator: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "render:\n  format: gif\nlog:\n  level: loud\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"render.format", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Validate / ValidateService
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"threshold", func(c *Config) { c.Estimator.Threshold = 0 }, "estimator.threshold"},
		{"confidence", func(c *Config) { c.Estimator.Confidence = 1 }, "estimator.confidence"},
		{"iterations", func(c *Config) { c.Estimator.MaxIterations = 0 }, "estimator.maxIterations"},
		{"min correspondences", func(c *Config) { c.Estimator.MinCorrespondences = 7 }, "estimator.minCorrespondences"},
		{"residual", func(c *Config) { c.Estimator.Residual = "manhattan" }, "estimator.residual"},
		{"topK", func(c *Config) { c.Ranking.TopK = -1 }, "ranking.topK"},
		{"workers", func(c *Config) { c.Workers = -1 }, "workers"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestConfig_ValidateService(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	cfg := DefaultConfig()
	if err := cfg.ValidateService(); err == nil {
		t.Error("expected error without a broker")
	}

	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	if err := cfg.ValidateService(); err != nil {
		t.Errorf("MQTT_BROKER should satisfy the broker requirement: %v", err)
	}

	cfg.MQTT.RequestTopic = ""
	if err := cfg.ValidateService(); err == nil || !strings.Contains(err.Error(), "requestTopic") {
		t.Errorf("expected requestTopic error, got %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// ---------------------------------------------------------------------------
// SaveConfig / builders
// ---------------------------------------------------------------------------

func TestSaveConfig_LoadsBack(t *testing.T) {
	t.Setenv("MATCHER_URL", "")
	cfg := DefaultConfig()
	cfg.Ranking.TopK = 7
	cfg.Estimator.Residual = ResidualSampson
	cfg.Matcher.URL = "http://m/match"

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Ranking.TopK != 7 || loaded.Estimator.Residual != ResidualSampson || loaded.Matcher.URL != "http://m/match" {
		t.Errorf("saved config did not load back: %+v", loaded)
	}
}

func TestConfig_NewRemoteMatcher(t *testing.T) {
	cfg := DefaultConfig()
	m, err := cfg.NewRemoteMatcher()
	if err != nil || m != nil {
		t.Errorf("NewRemoteMatcher() without URL = %v, %v; want nil, nil", m, err)
	}

	cfg.Matcher.URL = "http://localhost:1/match"
	m, err = cfg.NewRemoteMatcher()
	if err != nil || m == nil {
		t.Fatalf("NewRemoteMatcher() = %v, %v", m, err)
	}
}

func TestConfig_NewEvaluatorUsesSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranking.TopK = 1
	cfg.Estimator.Seed = 9
	ev := cfg.NewEvaluator(staticMatcher{}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	report, err := ev.Evaluate(t.Context(), testQuery, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.TopK != 1 {
		t.Errorf("TopK = %d, want 1", report.TopK)
	}
}
