package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

const reasonCanceled = "evaluation canceled"

// Report is the full outcome of evaluating one query against a gallery.
type Report struct {
	Query    ImageRef           `json:"query"`
	Ranked   RankedResult       `json:"ranked"`
	Skipped  []SkippedCandidate `json:"skipped"`
	Evidence []Evidence         `json:"-"` // parallel to Top(), when enabled
	TopK     int                `json:"topK"`
	Duration time.Duration      `json:"duration"`
}

// Top returns the detailed view of the report.
func (r *Report) Top() []CandidateScore {
	return r.Ranked.TopK(r.TopK)
}

// Evaluator runs the matcher, estimator and scorer over a gallery with a
// bounded number of workers and ranks the results.
type Evaluator struct {
	matcher      Matcher
	estimator    *Estimator
	workers      int
	topK         int
	includeEmpty bool
	keepEvidence bool
	logger       *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEstimator sets the geometry estimator.
func WithEstimator(est *Estimator) EvaluatorOption {
	return func(e *Evaluator) {
		if est != nil {
			e.estimator = est
		}
	}
}

// WithWorkers bounds the number of candidates evaluated concurrently.
// n <= 0 selects runtime.NumCPU().
func WithWorkers(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n <= 0 {
			n = runtime.NumCPU()
		}
		e.workers = n
	}
}

// WithTopK sets how many candidates are reported in detail.
func WithTopK(k int) EvaluatorOption {
	return func(e *Evaluator) {
		if k <= 0 {
			k = DefaultTopK
		}
		e.topK = k
	}
}

// WithIncludeEmpty ranks candidates without correspondences (0 matches)
// instead of skipping them.
func WithIncludeEmpty(include bool) EvaluatorOption {
	return func(e *Evaluator) { e.includeEmpty = include }
}

// WithEvidence keeps correspondences and geometry for the top-K candidates.
func WithEvidence(keep bool) EvaluatorOption {
	return func(e *Evaluator) { e.keepEvidence = keep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator creates an evaluator around the given matcher.
func NewEvaluator(m Matcher, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		matcher: m,
		workers: runtime.NumCPU(),
		topK:    DefaultTopK,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.estimator == nil {
		e.estimator = NewEstimator(DefaultEstimatorConfig(), WithEstimatorLogger(e.logger))
	}
	return e
}

type outcomeKind int

const (
	outcomePending outcomeKind = iota // never started or abandoned on cancel
	outcomeScored
	outcomeSkipped
)

// candidateOutcome is the per-candidate result: exactly one of score or skip
// is meaningful, selected by kind.
type candidateOutcome struct {
	kind     outcomeKind
	score    CandidateScore
	skip     SkippedCandidate
	evidence *Evidence
}

func skippedOutcome(id, reason string) candidateOutcome {
	return candidateOutcome{kind: outcomeSkipped, skip: SkippedCandidate{CandidateID: id, Reason: reason}}
}

// EvaluateGallery scores every candidate against query and returns the
// ranking together with the candidates that could not be scored.
//
// A failing candidate never aborts the batch. The returned error is non-nil
// only when a matcher violates its contract (ErrMalformedInput) or when ctx is
// canceled before every candidate was evaluated; in the latter case the
// partial ranking is still returned.
func (e *Evaluator) EvaluateGallery(ctx context.Context, query ImageRef, candidates []Candidate) (RankedResult, []SkippedCandidate, error) {
	report, err := e.Evaluate(ctx, query, candidates)
	if report == nil {
		return RankedResult{}, nil, err
	}
	return report.Ranked, report.Skipped, err
}

// Evaluate is like EvaluateGallery but returns the full report.
func (e *Evaluator) Evaluate(ctx context.Context, query ImageRef, candidates []Candidate) (*Report, error) {
	start := time.Now()

	// Each worker owns exactly one slot, so writes never race and the
	// reassembly below sees candidates in input order.
	outcomes := make([]candidateOutcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := e.evaluateCandidate(gctx, query, candidates[i])
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("gallery evaluation aborted", "query", query.Key(), "error", err)
		return nil, err
	}

	scores := make([]CandidateScore, 0, len(candidates))
	skipped := make([]SkippedCandidate, 0)
	// Evidence follows scores by position; candidate IDs need not be unique.
	evidence := make([]*Evidence, 0, len(candidates))
	canceled := 0
	for i, out := range outcomes {
		switch out.kind {
		case outcomeScored:
			scores = append(scores, out.score)
			evidence = append(evidence, out.evidence)
		case outcomeSkipped:
			skipped = append(skipped, out.skip)
		default:
			canceled++
			skipped = append(skipped, SkippedCandidate{CandidateID: candidates[i].ID, Reason: reasonCanceled})
		}
	}

	order := rankOrder(scores)
	ranked := make([]CandidateScore, len(order))
	for i, idx := range order {
		ranked[i] = scores[idx]
	}
	report := &Report{
		Query:   query,
		Ranked:  RankedResult{Scores: ranked},
		Skipped: skipped,
		TopK:    e.topK,
	}
	if e.keepEvidence {
		top := len(report.Top())
		report.Evidence = make([]Evidence, top)
		for i, idx := range order[:top] {
			if ev := evidence[idx]; ev != nil {
				report.Evidence[i] = *ev
			}
		}
	}
	report.Duration = time.Since(start)

	e.logger.Info("gallery evaluated",
		"query", query.Key(),
		"candidates", len(candidates),
		"ranked", report.Ranked.Len(),
		"skipped", len(skipped),
		"duration", report.Duration)

	if canceled > 0 {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		return report, fmt.Errorf("gallery evaluation interrupted with %d candidates pending: %w", canceled, cause)
	}
	return report, nil
}

// evaluateCandidate runs one candidate through matcher, estimator and scorer.
// Only contract violations are returned as errors.
func (e *Evaluator) evaluateCandidate(ctx context.Context, query ImageRef, c Candidate) (candidateOutcome, error) {
	if ctx.Err() != nil {
		return candidateOutcome{}, nil
	}
	log := e.logger.With("candidate", c.ID)

	cs, err := e.matcher.Match(ctx, query, c.Image)
	if err != nil {
		if errors.Is(err, ErrMalformedInput) {
			return candidateOutcome{}, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return candidateOutcome{}, nil
		}
		log.Warn("skipping candidate", "reason", "matcher failure", "error", err)
		return skippedOutcome(c.ID, fmt.Sprintf("matcher failure: %v", err)), nil
	}

	if cs.Empty() && !e.includeEmpty {
		log.Warn("skipping candidate", "reason", "no correspondences")
		return skippedOutcome(c.ID, "no correspondences found"), nil
	}

	geom, err := e.estimator.Estimate(cs)
	if err != nil {
		log.Warn("skipping candidate", "reason", "invalid correspondences", "error", err)
		return skippedOutcome(c.ID, fmt.Sprintf("invalid correspondences: %v", err)), nil
	}

	score := Score(c.ID, cs, geom)
	log.Debug("candidate scored",
		"matches", score.MatchCount,
		"inliers", score.InlierCount,
		"verified", score.Verified,
		"iterations", geom.Iterations,
		"fallback", string(geom.Fallback))

	out := candidateOutcome{kind: outcomeScored, score: score}
	if e.keepEvidence {
		out.evidence = &Evidence{Candidate: c, Correspondences: cs, Geometry: geom}
	}
	return out, nil
}
