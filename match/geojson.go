package match

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// panelGap is the horizontal space between the query and candidate panels.
const panelGap = 16.0

// panelLayout places the query panel at the origin and the candidate panel to
// its right, both in image coordinates (y down).
type panelLayout struct {
	queryW, queryH         float64
	candidateW, candidateH float64
}

func newPanelLayout(query ImageRef, ev Evidence) panelLayout {
	qw, qh := query.Size()
	cw, ch := ev.Candidate.Image.Size()
	// Keypoints outside the declared size grow the panel.
	qb := ev.Correspondences.QueryBound()
	cb := ev.Correspondences.CandidateBound()
	return panelLayout{
		queryW:     max(float64(qw), qb.Max[0]),
		queryH:     max(float64(qh), qb.Max[1]),
		candidateW: max(float64(cw), cb.Max[0]),
		candidateH: max(float64(ch), cb.Max[1]),
	}
}

func (l panelLayout) width() float64  { return l.queryW + panelGap + l.candidateW }
func (l panelLayout) height() float64 { return max(l.queryH, l.candidateH) }

func (l panelLayout) queryPanel() orb.Bound {
	return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{l.queryW, l.queryH}}
}

func (l panelLayout) candidatePanel() orb.Bound {
	x := l.queryW + panelGap
	return orb.Bound{Min: orb.Point{x, 0}, Max: orb.Point{x + l.candidateW, l.candidateH}}
}

// toCandidatePanel shifts a candidate keypoint into the shared plane.
func (l panelLayout) toCandidatePanel(p orb.Point) orb.Point {
	return orb.Point{p[0] + l.queryW + panelGap, p[1]}
}

// EvidenceFeatureCollection exports a candidate's correspondences as GeoJSON
// in image coordinates. Each correspondence is a LineString from the query
// keypoint to the candidate keypoint, shifted into the right-hand panel, with
// "index" and "inlier" properties. The two panels are Polygon features.
func EvidenceFeatureCollection(query ImageRef, ev Evidence) *geojson.FeatureCollection {
	layout := newPanelLayout(query, ev)
	fc := geojson.NewFeatureCollection()

	qp := geojson.NewFeature(layout.queryPanel().ToPolygon())
	qp.Properties["panel"] = "query"
	qp.Properties["image"] = query.Key()
	fc.Append(qp)

	cp := geojson.NewFeature(layout.candidatePanel().ToPolygon())
	cp.Properties["panel"] = "candidate"
	cp.Properties["image"] = ev.Candidate.Image.Key()
	fc.Append(cp)

	mask := ev.Geometry.InlierMask
	for i := 0; i < ev.Correspondences.Len(); i++ {
		q, c := ev.Correspondences.Pair(i)
		f := geojson.NewFeature(orb.LineString{q, layout.toCandidatePanel(c)})
		f.Properties["candidate"] = ev.Candidate.ID
		f.Properties["index"] = i
		f.Properties["inlier"] = i < len(mask) && mask[i]
		fc.Append(f)
	}
	return fc
}

// WriteEvidenceGeoJSON writes the evidence feature collection to w.
func WriteEvidenceGeoJSON(w io.Writer, query ImageRef, ev Evidence) error {
	data, err := json.MarshalIndent(EvidenceFeatureCollection(query, ev), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling GeoJSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing GeoJSON: %w", err)
	}
	return nil
}
