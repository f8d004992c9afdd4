package match

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	chartMargin   = 10
	chartLabelW   = 160
	chartValueW   = 90
	chartRowH     = 22
	chartBarH     = 14
	chartTitleH   = 24
	chartMinWidth = chartLabelW + chartValueW + 2*chartMargin + 100
)

var (
	matchBarColor  = color.RGBA{190, 190, 190, 255}
	inlierBarColor = color.RGBA{26, 200, 26, 255}
	textColor      = color.RGBA{0, 0, 0, 255}
	topRowColor    = color.RGBA{255, 248, 220, 255}
)

// SummaryChart renders a ranking as a horizontal bar chart: one row per
// candidate, a grey bar for total matches with the inlier share in green.
type SummaryChart struct {
	Rows  []SummaryRow
	TopK  int // rows highlighted as detailed results
	Width int // image width in pixels
}

// NewSummaryChart creates a chart for the ranked result
func NewSummaryChart(ranked RankedResult, topK int) *SummaryChart {
	return &SummaryChart{
		Rows:  ranked.Summary(),
		TopK:  topK,
		Width: 640,
	}
}

// Render draws the chart
func (c *SummaryChart) Render() *image.RGBA {
	width := max(c.Width, chartMinWidth)
	rows := max(len(c.Rows), 1)
	height := chartTitleH + rows*chartRowH + 2*chartMargin

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	drawText(img, chartMargin, chartMargin+12, "Rank  Image                 Matches / Inliers", textColor)

	if len(c.Rows) == 0 {
		drawText(img, chartMargin, chartTitleH+chartMargin+14, "No similar images found.", textColor)
		return img
	}

	maxMatches := 0
	for _, r := range c.Rows {
		maxMatches = max(maxMatches, r.MatchCount)
	}
	barSpace := width - chartLabelW - chartValueW - 2*chartMargin

	for i, r := range c.Rows {
		top := chartTitleH + chartMargin + i*chartRowH
		if i < c.TopK {
			fillRect(img, image.Rect(0, top, width, top+chartRowH), topRowColor)
		}

		drawText(img, chartMargin, top+15, truncateLabel(fmt.Sprintf("%2d. %s", r.Rank, r.CandidateID), chartLabelW/7), textColor)

		x0 := chartMargin + chartLabelW
		barTop := top + (chartRowH-chartBarH)/2
		if maxMatches > 0 {
			matchW := r.MatchCount * barSpace / maxMatches
			inlierW := r.InlierCount * barSpace / maxMatches
			fillRect(img, image.Rect(x0, barTop, x0+matchW, barTop+chartBarH), matchBarColor)
			fillRect(img, image.Rect(x0, barTop, x0+inlierW, barTop+chartBarH), inlierBarColor)
		}

		drawText(img, x0+barSpace+6, top+15, fmt.Sprintf("%d / %d", r.MatchCount, r.InlierCount), textColor)
	}
	return img
}

// SavePNG renders the chart to a PNG file
func (c *SummaryChart) SavePNG(path string) error {
	img := c.Render()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// truncateLabel shortens s to at most n runes.
func truncateLabel(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 4 {
		return s
	}
	return string(r[:n-3]) + "..."
}

// drawText renders text with its baseline at y
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
