package match

import "fmt"

// DefaultWorkingSize is the square working resolution images are matched at.
const DefaultWorkingSize = 512

// ImageRef identifies an image handed to the matcher. The core never decodes
// images; Width and Height describe the working resolution the matcher used
// and are only needed for rendering.
type ImageRef struct {
	ID     string `yaml:"id,omitempty" json:"id,omitempty"`
	URI    string `yaml:"uri,omitempty" json:"uri,omitempty"`
	Width  int    `yaml:"width,omitempty" json:"width,omitempty"`
	Height int    `yaml:"height,omitempty" json:"height,omitempty"`
}

// Key returns the identifier used to look the image up in fixtures.
func (r ImageRef) Key() string {
	if r.URI != "" {
		return r.URI
	}
	return r.ID
}

// Size returns the image dimensions, falling back to the working resolution.
func (r ImageRef) Size() (int, int) {
	w, h := r.Width, r.Height
	if w <= 0 {
		w = DefaultWorkingSize
	}
	if h <= 0 {
		h = DefaultWorkingSize
	}
	return w, h
}

// Candidate is one gallery entry to be compared against the query.
type Candidate struct {
	ID    string   `yaml:"id" json:"id"`
	Image ImageRef `yaml:"image" json:"image"`
}

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// FallbackReason records why the estimator did not run a robust fit.
type FallbackReason string

const (
	FallbackNone         FallbackReason = ""
	FallbackBelowMinimum FallbackReason = "below-minimum"
	FallbackDegenerate   FallbackReason = "degenerate-geometry"
)

// GeometryEstimate is the result of robust fundamental-matrix estimation for
// one correspondence set.
type GeometryEstimate struct {
	InlierMask []bool         `json:"inlierMask"` // one entry per correspondence
	Matrix     Matrix3        `json:"matrix"`     // fundamental matrix, zero when UsedRANSAC is false
	UsedRANSAC bool           `json:"usedRansac"`
	Iterations int            `json:"iterations"`         // hypotheses drawn
	Fallback   FallbackReason `json:"fallback,omitempty"` // set when UsedRANSAC is false
}

// InlierCount returns the number of true entries in the mask.
func (g GeometryEstimate) InlierCount() int {
	n := 0
	for _, in := range g.InlierMask {
		if in {
			n++
		}
	}
	return n
}

// CandidateScore is the reduced outcome for one candidate.
type CandidateScore struct {
	CandidateID string `json:"candidateId"`
	MatchCount  int    `json:"matchCount"`
	InlierCount int    `json:"inlierCount"`
	Verified    bool   `json:"verified"` // geometry was verified with RANSAC
}

func (s CandidateScore) String() string {
	return fmt.Sprintf("%s(matches=%d, inliers=%d)", s.CandidateID, s.MatchCount, s.InlierCount)
}

// SkippedCandidate records a candidate that could not be scored.
type SkippedCandidate struct {
	CandidateID string `json:"candidateId"`
	Reason      string `json:"reason"`
}

// Evidence keeps the correspondences and geometry of a ranked candidate so
// that it can be visualized or exported.
type Evidence struct {
	Candidate       Candidate
	Correspondences CorrespondenceSet
	Geometry        GeometryEstimate
}
