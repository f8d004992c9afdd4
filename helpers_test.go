package main

import (
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/kwv/rugmatch/match"
	"github.com/paulmach/orb"
)

// twoViewPoints projects random scene points into two calibrated cameras and
// returns the corresponding image points.
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

func geometricEntry(id string, n int, seed int64) match.GalleryEntry {
	q, c := twoViewPoints(n, seed)
	return match.GalleryEntry{ID: id, QueryPoints: q, CandidatePoints: c}
}

func writeGallery(t *testing.T, g match.Gallery) string {
	t.Helper()
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal gallery: %v", err)
	}
	path := filepath.Join(t.TempDir(), "gallery.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write gallery: %v", err)
	}
	return path
}

func testApp() *App {
	app := NewApp()
	app.DefaultConfigPath = ""
	app.LogOutput = io.Discard
	return app
}
