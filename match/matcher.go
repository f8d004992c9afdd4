package match

import (
	"context"
	"fmt"
	"sync"
)

// Matcher produces tentative correspondences between a query and a candidate
// image. Implementations may block on I/O and must honor ctx. A matcher may
// return an empty set; any error is treated as a failure of that candidate.
type Matcher interface {
	Match(ctx context.Context, query, candidate ImageRef) (CorrespondenceSet, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, query, candidate ImageRef) (CorrespondenceSet, error)

// Match calls f.
func (f MatcherFunc) Match(ctx context.Context, query, candidate ImageRef) (CorrespondenceSet, error) {
	return f(ctx, query, candidate)
}

// FixtureMatcher serves precomputed correspondences keyed by candidate image
// (URI, or ID when no URI is set). Unknown candidates are delegated to
// Fallback when it is set.
type FixtureMatcher struct {
	Fallback Matcher

	mu   sync.RWMutex
	sets map[string]CorrespondenceSet
	errs map[string]error
}

// NewFixtureMatcher creates an empty fixture matcher.
func NewFixtureMatcher() *FixtureMatcher {
	return &FixtureMatcher{
		sets: make(map[string]CorrespondenceSet),
		errs: make(map[string]error),
	}
}

// Set registers the correspondences returned for a candidate image.
func (m *FixtureMatcher) Set(candidate ImageRef, cs CorrespondenceSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[candidate.Key()] = cs
	delete(m.errs, candidate.Key())
}

// Fail registers an error returned for a candidate image.
func (m *FixtureMatcher) Fail(candidate ImageRef, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[candidate.Key()] = err
	delete(m.sets, candidate.Key())
}

// Match implements Matcher.
func (m *FixtureMatcher) Match(ctx context.Context, query, candidate ImageRef) (CorrespondenceSet, error) {
	if err := ctx.Err(); err != nil {
		return CorrespondenceSet{}, err
	}

	key := candidate.Key()
	m.mu.RLock()
	cs, ok := m.sets[key]
	failure := m.errs[key]
	m.mu.RUnlock()

	switch {
	case failure != nil:
		return CorrespondenceSet{}, &MatcherError{Candidate: key, Err: failure}
	case ok:
		return cs, nil
	case m.Fallback != nil:
		return m.Fallback.Match(ctx, query, candidate)
	}
	return CorrespondenceSet{}, &MatcherError{Candidate: key, Err: fmt.Errorf("no correspondences registered")}
}
