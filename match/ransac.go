package match

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/paulmach/orb"
)

// EstimatorConfig holds configuration for robust fundamental-matrix
// estimation. Distances are in pixels at the matcher's working resolution.
type EstimatorConfig struct {
	Threshold          float64      `yaml:"threshold" json:"threshold"`                   // Max epipolar residual for an inlier (px)
	Confidence         float64      `yaml:"confidence" json:"confidence"`                 // Probability of having drawn an all-inlier sample
	MaxIterations      int          `yaml:"maxIterations" json:"maxIterations"`           // Hard cap on hypotheses per estimate
	MinCorrespondences int          `yaml:"minCorrespondences" json:"minCorrespondences"` // Below this, RANSAC is not attempted
	Residual           ResidualKind `yaml:"residual" json:"residual"`                     // symmetric or sampson
	Seed               int64        `yaml:"seed" json:"seed"`                             // Seed of the per-estimate random source
}

// DefaultEstimatorConfig returns the defaults used by the matching pipeline.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Threshold:          0.5,    // 0.5px at 512x512
		Confidence:         0.999,  // 99.9% chance of an all-inlier sample
		MaxIterations:      100000, // bounds worst-case latency on all-outlier sets
		MinCorrespondences: minimalSample,
		Residual:           ResidualSymmetric,
		Seed:               0,
	}
}

// normalized replaces invalid values with defaults.
func (c EstimatorConfig) normalized() EstimatorConfig {
	d := DefaultEstimatorConfig()
	if c.Threshold <= 0 || !finite(c.Threshold) {
		c.Threshold = d.Threshold
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		c.Confidence = d.Confidence
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MinCorrespondences < minimalSample {
		c.MinCorrespondences = minimalSample
	}
	if c.Residual != ResidualSymmetric && c.Residual != ResidualSampson {
		c.Residual = d.Residual
	}
	return c
}

// Validate reports configuration values that cannot be used as given.
func (c EstimatorConfig) Validate() error {
	var errs []error
	if c.Threshold <= 0 || !finite(c.Threshold) {
		errs = append(errs, fmt.Errorf("estimator.threshold must be positive, got %v", c.Threshold))
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		errs = append(errs, fmt.Errorf("estimator.confidence must be in (0,1), got %v", c.Confidence))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("estimator.maxIterations must be positive, got %d", c.MaxIterations))
	}
	if c.MinCorrespondences < minimalSample {
		errs = append(errs, fmt.Errorf("estimator.minCorrespondences must be at least %d, got %d", minimalSample, c.MinCorrespondences))
	}
	if c.Residual != ResidualSymmetric && c.Residual != ResidualSampson {
		errs = append(errs, fmt.Errorf("estimator.residual must be %q or %q, got %q", ResidualSymmetric, ResidualSampson, c.Residual))
	}
	return errors.Join(errs...)
}

// Estimator performs RANSAC fundamental-matrix estimation. It is safe for
// concurrent use: every call to Estimate draws its own random source.
type Estimator struct {
	cfg     EstimatorConfig
	newRand func() *rand.Rand
	logger  *slog.Logger
}

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithRandSource sets the factory that supplies the random source for each
// estimate. The factory must return a new, unshared *rand.Rand per call.
func WithRandSource(fn func() *rand.Rand) EstimatorOption {
	return func(e *Estimator) {
		if fn != nil {
			e.newRand = fn
		}
	}
}

// WithEstimatorLogger sets the logger for fallback diagnostics.
func WithEstimatorLogger(l *slog.Logger) EstimatorOption {
	return func(e *Estimator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEstimator creates an estimator. Invalid configuration values are
// replaced with defaults.
func NewEstimator(cfg EstimatorConfig, opts ...EstimatorOption) *Estimator {
	cfg = cfg.normalized()
	e := &Estimator{
		cfg:    cfg,
		logger: slog.Default(),
	}
	seed := cfg.Seed
	e.newRand = func() *rand.Rand { return rand.New(rand.NewSource(seed)) }
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Estimator) Config() EstimatorConfig { return e.cfg }

// Estimate fits a fundamental matrix to cs and classifies every
// correspondence as inlier or outlier.
//
// Sets smaller than MinCorrespondences, and degenerate configurations such as
// collinear or coincident points, are not treated as errors: the estimate has
// UsedRANSAC=false and every correspondence marked as an inlier. The only
// error returned is ErrNonFiniteCoordinates.
func (e *Estimator) Estimate(cs CorrespondenceSet) (GeometryEstimate, error) {
	if err := cs.validate(); err != nil {
		return GeometryEstimate{}, err
	}

	n := cs.Len()
	if n < e.cfg.MinCorrespondences {
		return unverified(n, FallbackBelowMinimum), nil
	}

	// If the whole set has no unique solution, no subset has one either.
	if _, err := eightPoint(cs.query, cs.candidate); err != nil {
		e.logger.Debug("degenerate correspondence set", "matches", n, "error", err)
		return unverified(n, FallbackDegenerate), nil
	}

	est, err := e.ransac(cs)
	if err != nil {
		e.logger.Debug("robust fit failed", "matches", n, "error", err)
		return unverified(n, FallbackDegenerate), nil
	}
	return est, nil
}

func (e *Estimator) ransac(cs CorrespondenceSet) (GeometryEstimate, error) {
	n := cs.Len()
	rng := e.newRand()
	thresh2 := e.cfg.Threshold * e.cfg.Threshold

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sampleQ := make([]orb.Point, minimalSample)
	sampleC := make([]orb.Point, minimalSample)

	mask := make([]bool, n)
	bestMask := make([]bool, n)
	var best Matrix3
	bestCount := -1

	limit := e.cfg.MaxIterations
	iter := 0
	for iter < limit {
		iter++
		drawSample(rng, idx, minimalSample)
		for k := 0; k < minimalSample; k++ {
			sampleQ[k] = cs.query[idx[k]]
			sampleC[k] = cs.candidate[idx[k]]
		}

		f, err := eightPoint(sampleQ, sampleC)
		if err != nil {
			continue
		}

		count := classify(&f, cs, thresh2, e.cfg.Residual, mask)
		if count > bestCount {
			bestCount = count
			best = f
			copy(bestMask, mask)
			limit = min(e.cfg.MaxIterations, adaptiveIterations(float64(count)/float64(n), e.cfg.Confidence, minimalSample))
		}
	}

	if bestCount < 0 {
		return GeometryEstimate{}, fmt.Errorf("%w: no sample produced a model in %d iterations", ErrDegenerateGeometry, iter)
	}

	// Refit on the consensus set; keep it only if support does not shrink.
	if bestCount >= minimalSample {
		inQ := make([]orb.Point, 0, bestCount)
		inC := make([]orb.Point, 0, bestCount)
		for i, in := range bestMask {
			if in {
				inQ = append(inQ, cs.query[i])
				inC = append(inC, cs.candidate[i])
			}
		}
		if f, err := eightPoint(inQ, inC); err == nil {
			if count := classify(&f, cs, thresh2, e.cfg.Residual, mask); count >= bestCount {
				best = f
				copy(bestMask, mask)
			}
		}
	}

	return GeometryEstimate{
		InlierMask: bestMask,
		Matrix:     best,
		UsedRANSAC: true,
		Iterations: iter,
	}, nil
}

// classify fills mask and returns the number of inliers under f.
func classify(f *Matrix3, cs CorrespondenceSet, thresh2 float64, kind ResidualKind, mask []bool) int {
	count := 0
	for i := range cs.query {
		in := epipolarResidual(f, cs.query[i], cs.candidate[i], kind) <= thresh2
		mask[i] = in
		if in {
			count++
		}
	}
	return count
}

// drawSample moves k distinct random indices to the front of idx using a
// partial Fisher-Yates shuffle.
func drawSample(rng *rand.Rand, idx []int, k int) {
	n := len(idx)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
}

// adaptiveIterations returns the number of samples needed to draw at least one
// all-inlier sample with the given confidence.
func adaptiveIterations(inlierRatio, confidence float64, sampleSize int) int {
	if inlierRatio >= 1 {
		return 1
	}
	if inlierRatio <= 0 {
		return math.MaxInt32
	}
	good := math.Pow(inlierRatio, float64(sampleSize))
	denom := math.Log1p(-good)
	if denom >= 0 {
		return math.MaxInt32
	}
	n := math.Ceil(math.Log(1-confidence) / denom)
	if n > math.MaxInt32 || math.IsNaN(n) {
		return math.MaxInt32
	}
	return max(int(n), 1)
}

// unverified returns the lenient estimate used when no robust fit is possible.
func unverified(n int, reason FallbackReason) GeometryEstimate {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return GeometryEstimate{
		InlierMask: mask,
		UsedRANSAC: false,
		Fallback:   reason,
	}
}
