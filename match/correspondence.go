package match

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// CorrespondenceSet holds tentative keypoint pairs between a query and a
// candidate image. Index i of the query and candidate sequences refers to the
// same correspondence. The zero value is an empty, valid set.
type CorrespondenceSet struct {
	query     []orb.Point
	candidate []orb.Point
}

// NewCorrespondenceSet copies the given point sequences into a new set.
// Sequences of different length yield an error wrapping ErrMalformedInput.
func NewCorrespondenceSet(query, candidate []orb.Point) (CorrespondenceSet, error) {
	if len(query) != len(candidate) {
		return CorrespondenceSet{}, fmt.Errorf("%w: %d query points vs %d candidate points",
			ErrMalformedInput, len(query), len(candidate))
	}
	cs := CorrespondenceSet{
		query:     make([]orb.Point, len(query)),
		candidate: make([]orb.Point, len(candidate)),
	}
	copy(cs.query, query)
	copy(cs.candidate, candidate)
	return cs, nil
}

// MustCorrespondenceSet is like NewCorrespondenceSet but panics on mismatched
// input. Intended for fixtures and tests.
func MustCorrespondenceSet(query, candidate []orb.Point) CorrespondenceSet {
	cs, err := NewCorrespondenceSet(query, candidate)
	if err != nil {
		panic(err)
	}
	return cs
}

// Len returns the number of correspondences.
func (cs CorrespondenceSet) Len() int { return len(cs.query) }

// Empty reports whether the matcher found no correspondences.
func (cs CorrespondenceSet) Empty() bool { return len(cs.query) == 0 }

// Pair returns the i-th correspondence.
func (cs CorrespondenceSet) Pair(i int) (orb.Point, orb.Point) {
	return cs.query[i], cs.candidate[i]
}

// QueryPoints returns a copy of the query keypoints.
func (cs CorrespondenceSet) QueryPoints() []orb.Point {
	out := make([]orb.Point, len(cs.query))
	copy(out, cs.query)
	return out
}

// CandidatePoints returns a copy of the candidate keypoints.
func (cs CorrespondenceSet) CandidatePoints() []orb.Point {
	out := make([]orb.Point, len(cs.candidate))
	copy(out, cs.candidate)
	return out
}

// QueryBound returns the bounding box of the query keypoints.
func (cs CorrespondenceSet) QueryBound() orb.Bound {
	return orb.MultiPoint(cs.query).Bound()
}

// CandidateBound returns the bounding box of the candidate keypoints.
func (cs CorrespondenceSet) CandidateBound() orb.Bound {
	return orb.MultiPoint(cs.candidate).Bound()
}

// validate checks that every coordinate is finite.
func (cs CorrespondenceSet) validate() error {
	for i := range cs.query {
		q, c := cs.query[i], cs.candidate[i]
		if !finite(q[0]) || !finite(q[1]) || !finite(c[0]) || !finite(c[1]) {
			return fmt.Errorf("%w: correspondence %d", ErrNonFiniteCoordinates, i)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
