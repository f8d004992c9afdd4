package match

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const galleryYAML = `query:
  id: living-room
  uri: file:///photos/query.jpg
candidates:
  - id: persian
    image: {uri: "file:///rugs/persian.jpg", width: 640, height: 480}
    queryPoints: [[10, 20], [30, 40]]
    candidatePoints: [[11, 21], [31, 41]]
  - id: kilim
    error: matcher timed out
  - id: shag
`

func TestParseGallery_YAML(t *testing.T) {
	g, err := ParseGallery([]byte(galleryYAML))
	require.NoError(t, err)

	assert.Equal(t, "living-room", g.Query.ID)
	require.Len(t, g.Candidates, 3)
	assert.Equal(t, []orb.Point{{10, 20}, {30, 40}}, g.Candidates[0].QueryPoints)
	assert.Equal(t, "matcher timed out", g.Candidates[1].Error)

	entries := g.Entries()
	assert.Equal(t, Candidate{ID: "persian", Image: ImageRef{ID: "persian", URI: "file:///rugs/persian.jpg", Width: 640, Height: 480}}, entries[0])
	assert.Equal(t, Candidate{ID: "shag", Image: ImageRef{ID: "shag"}}, entries[2])
}

func TestParseGallery_JSON(t *testing.T) {
	g, err := ParseGallery([]byte(`{"query":{"id":"q"},"candidates":[{"id":"a","queryPoints":[[1,2]],"candidatePoints":[[3,4]]}]}`))
	require.NoError(t, err)
	require.Len(t, g.Candidates, 1)
	assert.Equal(t, []orb.Point{{3, 4}}, g.Candidates[0].CandidatePoints)
}

func TestParseGallery_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"syntax", "candidates: [", "parsing gallery"},
		{"missing id", "candidates:\n  - image: {uri: a.jpg}\n", "candidates[0].id is required"},
		{"duplicate id", "candidates:\n  - id: a\n  - id: a\n", `duplicate id "a"`},
		{"duplicate image", "candidates:\n  - id: a\n    image: {uri: x.jpg}\n  - id: b\n    image: {uri: x.jpg}\n", `duplicate image "x.jpg"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGallery([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadGallery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(galleryYAML), 0644))

	g, err := LoadGallery(path)
	require.NoError(t, err)
	assert.Len(t, g.Candidates, 3)

	_, err = LoadGallery(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "gallery file not found")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("candidates:\n  - id: ''\n"), 0644))
	_, err = LoadGallery(bad)
	assert.ErrorContains(t, err, "bad.yaml")
}

func TestGallery_Matcher(t *testing.T) {
	g, err := ParseGallery([]byte(galleryYAML))
	require.NoError(t, err)

	var fallbackCalls []string
	fallback := MatcherFunc(func(ctx context.Context, q, c ImageRef) (CorrespondenceSet, error) {
		fallbackCalls = append(fallbackCalls, c.ID)
		return CorrespondenceSet{}, nil
	})
	m, err := g.Matcher(fallback)
	require.NoError(t, err)

	entries := g.Entries()
	cs, err := m.Match(context.Background(), g.Query, entries[0].Image)
	require.NoError(t, err)
	assert.Equal(t, 2, cs.Len())

	_, err = m.Match(context.Background(), g.Query, entries[1].Image)
	assert.ErrorIs(t, err, ErrMatcherFailure)
	assert.ErrorContains(t, err, "matcher timed out")

	_, err = m.Match(context.Background(), g.Query, entries[2].Image)
	require.NoError(t, err)
	assert.Equal(t, []string{"shag"}, fallbackCalls)
}

func TestGallery_MatcherMismatchedPoints(t *testing.T) {
	g := &Gallery{Candidates: []GalleryEntry{{
		ID:              "broken",
		QueryPoints:     []orb.Point{{1, 1}, {2, 2}},
		CandidatePoints: []orb.Point{{1, 1}},
	}}}
	_, err := g.Matcher(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedInput))
	assert.Contains(t, err.Error(), "candidate broken")
}

func TestGallery_EmptyPointListsAreEmptySet(t *testing.T) {
	g, err := ParseGallery([]byte("candidates:\n  - id: blank\n    queryPoints: []\n    candidatePoints: []\n"))
	require.NoError(t, err)
	m, err := g.Matcher(nil)
	require.NoError(t, err)

	cs, err := m.Match(context.Background(), ImageRef{}, g.Entries()[0].Image)
	require.NoError(t, err)
	assert.Equal(t, 0, cs.Len())
}
