package match

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
)

// twoViewPoints projects random scene points into two calibrated cameras
// (f=500, principal point at the center of a 512px image). The second camera
// is rotated about the y axis and translated, so the pairs satisfy a unique
// fundamental matrix.
func twoViewPoints(n int, seed int64) ([]orb.Point, []orb.Point) {
	rng := rand.New(rand.NewSource(seed))
	const f, c = 500.0, 256.0
	sin, cos := math.Sincos(0.1)

	query := make([]orb.Point, n)
	candidate := make([]orb.Point, n)
	for i := range n {
		x := rng.Float64()*2 - 1
		y := rng.Float64()*2 - 1
		z := 4 + rng.Float64()*4
		query[i] = orb.Point{f*x/z + c, f*y/z + c}

		x2 := cos*x + sin*z - 0.5
		y2 := y + 0.1
		z2 := -sin*x + cos*z
		candidate[i] = orb.Point{f*x2/z2 + c, f*y2/z2 + c}
	}
	return query, candidate
}

// withOutliers replaces the candidate point of the given indices with a
// random location far from its epipolar line.
func withOutliers(candidate []orb.Point, idx []int, seed int64) []orb.Point {
	rng := rand.New(rand.NewSource(seed))
	out := make([]orb.Point, len(candidate))
	copy(out, candidate)
	for _, i := range idx {
		out[i] = orb.Point{out[i][0] + 40 + rng.Float64()*60, out[i][1] - 40 - rng.Float64()*60}
	}
	return out
}

func geometricSet(t *testing.T, n int, seed int64) CorrespondenceSet {
	t.Helper()
	q, c := twoViewPoints(n, seed)
	cs, err := NewCorrespondenceSet(q, c)
	if err != nil {
		t.Fatalf("NewCorrespondenceSet() error: %v", err)
	}
	return cs
}

func seededEstimator(seed int64) *Estimator {
	cfg := DefaultEstimatorConfig()
	cfg.Seed = seed
	return NewEstimator(cfg)
}

// staticMatcher returns a fixed result per candidate ID.
type staticMatcher map[string]staticResult

type staticResult struct {
	cs  CorrespondenceSet
	err error
}

func (m staticMatcher) Match(ctx context.Context, query, candidate ImageRef) (CorrespondenceSet, error) {
	if err := ctx.Err(); err != nil {
		return CorrespondenceSet{}, err
	}
	r := m[candidate.ID]
	return r.cs, r.err
}

// sampleEvidence has three correspondences on 512x512 images, the middle one
// an outlier.
func sampleEvidence(t *testing.T) Evidence {
	t.Helper()
	cs, err := NewCorrespondenceSet(
		[]orb.Point{{10, 20}, {100, 200}, {400, 300}},
		[]orb.Point{{12, 22}, {300, 50}, {398, 305}},
	)
	if err != nil {
		t.Fatalf("NewCorrespondenceSet: %v", err)
	}
	return Evidence{
		Candidate:       Candidate{ID: "rug-1", Image: ImageRef{ID: "rug-1", URI: "file:///rug-1.jpg"}},
		Correspondences: cs,
		Geometry:        GeometryEstimate{InlierMask: []bool{true, false, true}, UsedRANSAC: true},
	}
}
