package match

import (
	"fmt"
	"image/color"
	"image/png"
	"io"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

var (
	inlierColor  = color.NRGBA{R: 26, G: 255, B: 26, A: 128}
	featureColor = color.NRGBA{R: 51, G: 51, B: 255, A: 128}
	outlierColor = color.NRGBA{R: 255, G: 64, B: 64, A: 64}
	panelColor   = color.NRGBA{R: 235, G: 235, B: 235, A: 255}
)

// nrgbaToRGBA premultiplies alpha; canvas expects premultiplied colors.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	if c.A == 255 {
		return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

// MatchRenderer draws the query and a candidate side by side with their
// correspondences: inlier pairs joined by green lines, keypoints in blue.
type MatchRenderer struct {
	Query        ImageRef
	Evidence     Evidence
	Scale        float64 // output pixels per image pixel (PNG only)
	PointRadius  float64 // keypoint radius in image pixels
	LineWidth    float64 // correspondence line width in image pixels
	ShowOutliers bool    // also draw outlier pairs, faintly
}

// NewMatchRenderer creates a renderer with default settings
func NewMatchRenderer(query ImageRef, ev Evidence) *MatchRenderer {
	return &MatchRenderer{
		Query:       query,
		Evidence:    ev,
		Scale:       1.0,
		PointRadius: 2.0,
		LineWidth:   1.0,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// Render writes the visualization in the given format ("svg" or "png").
func (r *MatchRenderer) Render(w io.Writer, format string) error {
	switch format {
	case "svg":
		return r.RenderToSVG(w)
	case "png":
		return r.RenderToPNG(w)
	}
	return fmt.Errorf("unsupported render format %q", format)
}

// RenderToSVG writes the visualization as SVG
func (r *MatchRenderer) RenderToSVG(w io.Writer) error {
	layout := newPanelLayout(r.Query, r.Evidence)
	svgRenderer := svg.New(w, layout.width(), layout.height(), nil)
	r.renderToCanvas(svgRenderer, layout)
	return svgRenderer.Close()
}

// RenderToPNG writes the visualization as PNG
func (r *MatchRenderer) RenderToPNG(w io.Writer) error {
	layout := newPanelLayout(r.Query, r.Evidence)
	scale := r.Scale
	if scale <= 0 {
		scale = 1.0
	}
	// One canvas unit (mm) per image pixel.
	rast := rasterizer.New(layout.width(), layout.height(), canvas.DPMM(scale), canvas.DefaultColorSpace)
	r.renderToCanvas(rast, layout)
	return png.Encode(w, rast)
}

func (r *MatchRenderer) renderToCanvas(renderer canvasRenderer, layout panelLayout) {
	height := layout.height()
	// canvas has y pointing up; image coordinates point down.
	toCanvas := func(p orb.Point) (float64, float64) {
		return p[0], height - p[1]
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(layout.width(), height), bgStyle, canvas.Identity)

	panelStyle := bgStyle
	panelStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(panelColor)}
	for _, b := range []orb.Bound{layout.queryPanel(), layout.candidatePanel()} {
		x, y := toCanvas(orb.Point{b.Min[0], b.Max[1]})
		renderer.RenderPath(canvas.Rectangle(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]).Translate(x, y), panelStyle, canvas.Identity)
	}

	lineStyle := canvas.DefaultStyle
	lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	lineStyle.StrokeWidth = r.LineWidth

	cs := r.Evidence.Correspondences
	mask := r.Evidence.Geometry.InlierMask
	for i := 0; i < cs.Len(); i++ {
		inlier := i < len(mask) && mask[i]
		if !inlier && !r.ShowOutliers {
			continue
		}
		if inlier {
			lineStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(inlierColor)}
		} else {
			lineStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(outlierColor)}
		}
		q, c := cs.Pair(i)
		x1, y1 := toCanvas(q)
		x2, y2 := toCanvas(layout.toCandidatePanel(c))
		p := &canvas.Path{}
		p.MoveTo(x1, y1)
		p.LineTo(x2, y2)
		renderer.RenderPath(p, lineStyle, canvas.Identity)
	}

	pointStyle := canvas.DefaultStyle
	pointStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(featureColor)}
	pointStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for i := 0; i < cs.Len(); i++ {
		q, c := cs.Pair(i)
		for _, p := range []orb.Point{q, layout.toCandidatePanel(c)} {
			x, y := toCanvas(p)
			renderer.RenderPath(canvas.Circle(r.PointRadius).Translate(x, y), pointStyle, canvas.Identity)
		}
	}
}
