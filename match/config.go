package match

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config represents the full configuration file
type Config struct {
	Estimator EstimatorConfig `yaml:"estimator" json:"estimator"`
	Ranking   RankingConfig   `yaml:"ranking" json:"ranking"`
	Workers   int             `yaml:"workers,omitempty" json:"workers,omitempty"` // Concurrent candidates (0 = NumCPU)
	Matcher   MatcherConfig   `yaml:"matcher" json:"matcher"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Render    RenderConfig    `yaml:"render" json:"render"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// RankingConfig controls the ranked output
type RankingConfig struct {
	TopK         int  `yaml:"topK" json:"topK"`                 // Candidates shown in detail
	IncludeEmpty bool `yaml:"includeEmpty" json:"includeEmpty"` // Rank candidates with zero matches instead of skipping them
}

// MatcherConfig points at the remote feature-matching service
type MatcherConfig struct {
	URL         string        `yaml:"url,omitempty" json:"url,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries  int           `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	BaseBackoff time.Duration `yaml:"baseBackoff,omitempty" json:"baseBackoff,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	RequestTopic  string `yaml:"requestTopic,omitempty" json:"requestTopic,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
}

// RenderConfig controls match visualizations
type RenderConfig struct {
	Format string  `yaml:"format,omitempty" json:"format,omitempty"` // svg or png
	Scale  float64 `yaml:"scale,omitempty" json:"scale,omitempty"`   // PNG pixels per image pixel
}

// LogConfig selects log verbosity and encoding
type LogConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // text or json
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Estimator: DefaultEstimatorConfig(),
		Ranking: RankingConfig{
			TopK: DefaultTopK,
		},
		Matcher: MatcherConfig{
			Timeout:     DefaultMatchTimeout,
			MaxRetries:  DefaultMaxRetries,
			BaseBackoff: time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:      "rugmatch",
			RequestTopic:  "rugmatch/requests",
			PublishPrefix: "rugmatch",
		},
		Render: RenderConfig{
			Format: "svg",
			Scale:  1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Normalize replaces unusable optional values with defaults in place.
func (c *Config) Normalize() {
	d := DefaultConfig()
	c.Estimator = c.Estimator.normalized()
	if c.Ranking.TopK <= 0 {
		c.Ranking.TopK = d.Ranking.TopK
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.Matcher.Timeout <= 0 {
		c.Matcher.Timeout = d.Matcher.Timeout
	}
	if c.Matcher.MaxRetries <= 0 {
		c.Matcher.MaxRetries = d.Matcher.MaxRetries
	}
	if c.Matcher.BaseBackoff <= 0 {
		c.Matcher.BaseBackoff = d.Matcher.BaseBackoff
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.RequestTopic == "" {
		c.MQTT.RequestTopic = d.MQTT.RequestTopic
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = d.MQTT.PublishPrefix
	}
	if c.Render.Format == "" {
		c.Render.Format = d.Render.Format
	}
	if c.Render.Scale <= 0 {
		c.Render.Scale = d.Render.Scale
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Validate reports values that are present but wrong.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Estimator.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Ranking.TopK <= 0 {
		errs = append(errs, fmt.Errorf("ranking.topK must be positive, got %d", c.Ranking.TopK))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	switch c.Render.Format {
	case "svg", "png":
	default:
		errs = append(errs, fmt.Errorf("render.format must be svg or png, got %q", c.Render.Format))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// NewEstimator builds an estimator from the estimator section.
func (c *Config) NewEstimator(logger *slog.Logger) *Estimator {
	return NewEstimator(c.Estimator, WithEstimatorLogger(logger))
}

// NewEvaluator builds an evaluator from the configuration.
func (c *Config) NewEvaluator(m Matcher, logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	base := []EvaluatorOption{
		WithEstimator(c.NewEstimator(logger)),
		WithWorkers(c.Workers),
		WithTopK(c.Ranking.TopK),
		WithIncludeEmpty(c.Ranking.IncludeEmpty),
		WithLogger(logger),
	}
	return NewEvaluator(m, append(base, opts...)...)
}

// NewRemoteMatcher builds the HTTP matcher, or returns nil when no URL is
// configured.
func (c *Config) NewRemoteMatcher() (*RemoteMatcher, error) {
	if c.Matcher.URL == "" {
		return nil, nil
	}
	return NewRemoteMatcher(c.Matcher.URL,
		WithTimeout(c.Matcher.Timeout),
		WithMaxRetries(c.Matcher.MaxRetries),
		WithBaseBackoff(c.Matcher.BaseBackoff),
	)
}
