package match

// Score reduces a candidate's correspondences and estimated geometry to its
// match and inlier counts.
func Score(candidateID string, cs CorrespondenceSet, g GeometryEstimate) CandidateScore {
	matches := cs.Len()
	inliers := 0
	for i, in := range g.InlierMask {
		if i >= matches {
			break
		}
		if in {
			inliers++
		}
	}
	return CandidateScore{
		CandidateID: candidateID,
		MatchCount:  matches,
		InlierCount: inliers,
		Verified:    g.UsedRANSAC,
	}
}
