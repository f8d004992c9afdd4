package match

import "sort"

// DefaultTopK is the number of candidates shown in detail.
const DefaultTopK = 3

// RankedResult is the ordered list of candidate scores for one query.
type RankedResult struct {
	Scores []CandidateScore `json:"scores"`
}

// SummaryRow is one line of the full ranking table.
type SummaryRow struct {
	Rank        int    `json:"rank"`
	CandidateID string `json:"candidateId"`
	MatchCount  int    `json:"matchCount"`
	InlierCount int    `json:"inlierCount"`
	Verified    bool   `json:"verified"`
}

// Rank orders scores by match count, highest first. Candidates with equal
// match counts keep their input order, so ranking a ranked result is a no-op.
// Inlier counts do not influence the order. The input slice is not modified.
func Rank(scores []CandidateScore) RankedResult {
	out := make([]CandidateScore, len(scores))
	for i, idx := range rankOrder(scores) {
		out[i] = scores[idx]
	}
	return RankedResult{Scores: out}
}

// rankOrder returns the input positions of scores in ranked order.
func rankOrder(scores []CandidateScore) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]].MatchCount > scores[order[b]].MatchCount
	})
	return order
}

// Len returns the number of ranked candidates.
func (r RankedResult) Len() int { return len(r.Scores) }

// Empty reports whether no candidate produced a score.
func (r RankedResult) Empty() bool { return len(r.Scores) == 0 }

// TopK returns the first k scores. k <= 0 selects DefaultTopK.
func (r RankedResult) TopK(k int) []CandidateScore {
	if k <= 0 {
		k = DefaultTopK
	}
	k = min(k, len(r.Scores))
	out := make([]CandidateScore, k)
	copy(out, r.Scores[:k])
	return out
}

// Summary returns every score with its 1-based rank.
func (r RankedResult) Summary() []SummaryRow {
	rows := make([]SummaryRow, len(r.Scores))
	for i, s := range r.Scores {
		rows[i] = SummaryRow{
			Rank:        i + 1,
			CandidateID: s.CandidateID,
			MatchCount:  s.MatchCount,
			InlierCount: s.InlierCount,
			Verified:    s.Verified,
		}
	}
	return rows
}
