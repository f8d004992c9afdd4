package match

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/paulmach/orb"
)

const (
	// DefaultMatchTimeout is the default HTTP request timeout for one match.
	DefaultMatchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts per candidate.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20
)

// RemoteOption configures a RemoteMatcher.
type RemoteOption func(*remoteConfig)

type remoteConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultRemoteConfig() remoteConfig {
	return remoteConfig{
		timeout:     DefaultMatchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(c *remoteConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) RemoteOption {
	return func(c *remoteConfig) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) RemoteOption {
	return func(c *remoteConfig) {
		if d > 0 {
			c.baseBackoff = d
		}
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(c *remoteConfig) {
		c.client = client
	}
}

// matchRequest is the body posted to the matching service.
type matchRequest struct {
	Query     ImageRef `json:"query"`
	Candidate ImageRef `json:"candidate"`
}

// matchResponse is the matching service's answer.
type matchResponse struct {
	QueryPoints     []orb.Point `json:"queryPoints"`
	CandidatePoints []orb.Point `json:"candidatePoints"`
}

// RemoteMatcher calls an HTTP feature-matching service. Network errors and
// 5xx responses are retried with exponential backoff; 4xx responses and
// undecodable bodies are not.
type RemoteMatcher struct {
	url    string
	cfg    remoteConfig
	client *http.Client
}

// NewRemoteMatcher creates a matcher posting to url.
func NewRemoteMatcher(url string, opts ...RemoteOption) (*RemoteMatcher, error) {
	if url == "" {
		return nil, fmt.Errorf("remote matcher: URL is empty")
	}
	cfg := defaultRemoteConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &RemoteMatcher{url: url, cfg: cfg, client: client}, nil
}

// Match implements Matcher.
func (m *RemoteMatcher) Match(ctx context.Context, query, candidate ImageRef) (CorrespondenceSet, error) {
	body, err := json.Marshal(matchRequest{Query: query, Candidate: candidate})
	if err != nil {
		return CorrespondenceSet{}, fmt.Errorf("encoding match request: %w", err)
	}

	var lastErr error
	for attempt := range m.cfg.maxRetries {
		if attempt > 0 {
			backoff := m.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return CorrespondenceSet{}, fmt.Errorf("match %s: %w", candidate.Key(), ctx.Err())
			case <-time.After(backoff):
			}
		}

		cs, err := m.doMatch(ctx, body, candidate)
		if err == nil {
			return cs, nil
		}
		if ctx.Err() != nil {
			return CorrespondenceSet{}, fmt.Errorf("match %s: %w", candidate.Key(), ctx.Err())
		}
		lastErr = err
		var me *MatcherError
		if errors.As(err, &me) && !me.Retryable {
			return CorrespondenceSet{}, err
		}
	}

	return CorrespondenceSet{}, &MatcherError{
		Candidate: candidate.Key(),
		Err:       fmt.Errorf("all %d attempts failed: %w", m.cfg.maxRetries, lastErr),
	}
}

// doMatch performs a single POST and decodes the correspondences.
func (m *RemoteMatcher) doMatch(ctx context.Context, body []byte, candidate ImageRef) (CorrespondenceSet, error) {
	key := candidate.Key()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return CorrespondenceSet{}, &MatcherError{Candidate: key, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return CorrespondenceSet{}, &MatcherError{Candidate: key, Retryable: true, Err: fmt.Errorf("HTTP POST %s: %w", m.url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return CorrespondenceSet{}, &MatcherError{
			Candidate: key,
			Retryable: resp.StatusCode >= 500,
			Err:       fmt.Errorf("HTTP POST %s: status %d", m.url, resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return CorrespondenceSet{}, &MatcherError{Candidate: key, Retryable: true, Err: fmt.Errorf("reading response: %w", err)}
	}

	var mr matchResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return CorrespondenceSet{}, &MatcherError{Candidate: key, Err: fmt.Errorf("decoding response: %w", err)}
	}

	// A mismatched response is bad data from one candidate, not a caller bug.
	cs, err := NewCorrespondenceSet(mr.QueryPoints, mr.CandidatePoints)
	if err != nil {
		return CorrespondenceSet{}, &MatcherError{Candidate: key, Err: fmt.Errorf("invalid response: %v", err)}
	}
	return cs, nil
}
