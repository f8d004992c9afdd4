package match

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// GalleryEntry is a candidate together with the correspondences a matcher
// produced for it. Entries without points and without Error are left to the
// fallback matcher.
type GalleryEntry struct {
	ID              string      `yaml:"id" json:"id"`
	Image           ImageRef    `yaml:"image,omitempty" json:"image,omitempty"`
	QueryPoints     []orb.Point `yaml:"queryPoints,omitempty" json:"queryPoints,omitempty"`
	CandidatePoints []orb.Point `yaml:"candidatePoints,omitempty" json:"candidatePoints,omitempty"`
	Error           string      `yaml:"error,omitempty" json:"error,omitempty"` // simulated matcher failure
}

// Candidate returns the gallery candidate described by the entry.
func (e GalleryEntry) Candidate() Candidate {
	img := e.Image
	if img.ID == "" {
		img.ID = e.ID
	}
	return Candidate{ID: e.ID, Image: img}
}

func (e GalleryEntry) hasPoints() bool {
	return e.QueryPoints != nil || e.CandidatePoints != nil
}

// Gallery is a query plus its candidates, as read from a fixture file or a
// service request.
type Gallery struct {
	Query      ImageRef       `yaml:"query" json:"query"`
	Candidates []GalleryEntry `yaml:"candidates" json:"candidates"`
}

// LoadGallery reads a gallery from a YAML or JSON file.
func LoadGallery(path string) (*Gallery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("gallery file not found: %s", path)
		}
		return nil, fmt.Errorf("reading gallery file: %w", err)
	}
	g, err := ParseGallery(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return g, nil
}

// ParseGallery decodes a gallery document. JSON documents are accepted since
// they are valid YAML.
func ParseGallery(data []byte) (*Gallery, error) {
	var g Gallery
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing gallery: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks candidate IDs and image keys.
func (g *Gallery) Validate() error {
	seen := make(map[string]bool, len(g.Candidates))
	keys := make(map[string]bool, len(g.Candidates))
	for i, e := range g.Candidates {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("candidates[%d].id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("candidates[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		key := e.Candidate().Image.Key()
		if keys[key] {
			return fmt.Errorf("candidates[%d]: duplicate image %q", i, key)
		}
		keys[key] = true
	}
	return nil
}

// Entries returns the candidates in gallery order.
func (g *Gallery) Entries() []Candidate {
	out := make([]Candidate, len(g.Candidates))
	for i, e := range g.Candidates {
		out[i] = e.Candidate()
	}
	return out
}

// Matcher returns a FixtureMatcher serving the embedded correspondences.
// Entries without points are delegated to fallback, which may be nil.
// Mismatched point lists yield an error wrapping ErrMalformedInput.
func (g *Gallery) Matcher(fallback Matcher) (*FixtureMatcher, error) {
	m := NewFixtureMatcher()
	m.Fallback = fallback
	for _, e := range g.Candidates {
		img := e.Candidate().Image
		switch {
		case e.Error != "":
			m.Fail(img, fmt.Errorf("%s", e.Error))
		case e.hasPoints():
			cs, err := NewCorrespondenceSet(e.QueryPoints, e.CandidatePoints)
			if err != nil {
				return nil, fmt.Errorf("candidate %s: %w", e.ID, err)
			}
			m.Set(img, cs)
		}
	}
	return m, nil
}
