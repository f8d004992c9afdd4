package match

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RankRequest asks the service to rank a gallery against a query. Candidates
// may embed the correspondences produced by an upstream matcher.
type RankRequest struct {
	RequestID  string         `json:"requestId"`
	Query      ImageRef       `json:"query"`
	Candidates []GalleryEntry `json:"candidates"`
	TopK       int            `json:"topK,omitempty"`
}

// latestResultID is the topic level of the retained latest response.
const latestResultID = "latest"

// checkRequestID rejects IDs that cannot be used as a single MQTT topic level.
func checkRequestID(id string) error {
	if id == latestResultID {
		return fmt.Errorf("requestId %q is reserved", id)
	}
	if strings.ContainsAny(id, "/+#\x00") {
		return fmt.Errorf("requestId %q must not contain '/', '+', '#' or NUL", id)
	}
	return nil
}

// DecodeRankRequest parses a JSON request and assigns a request ID when the
// sender did not provide one. An unusable request ID is replaced by a fresh
// one and reported as an error, so the rejection can still be published.
func DecodeRankRequest(payload []byte) (*RankRequest, error) {
	var req RankRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding rank request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := checkRequestID(req.RequestID); err != nil {
		req.RequestID = uuid.NewString()
		return &req, fmt.Errorf("request %s: %w", req.RequestID, err)
	}
	if err := req.Gallery().Validate(); err != nil {
		return &req, fmt.Errorf("request %s: %w", req.RequestID, err)
	}
	return &req, nil
}

// Gallery returns the request's query and candidates.
func (r *RankRequest) Gallery() *Gallery {
	return &Gallery{Query: r.Query, Candidates: r.Candidates}
}

// RankResponse is published once per request.
type RankResponse struct {
	RequestID  string             `json:"requestId"`
	Query      ImageRef           `json:"query"`
	Ranked     []SummaryRow       `json:"ranked"`
	Top        []CandidateScore   `json:"top"`
	Skipped    []SkippedCandidate `json:"skipped"`
	Error      string             `json:"error,omitempty"`
	DurationMS int64              `json:"durationMs"`
	Timestamp  int64              `json:"timestamp"`
}

// NewRankResponse builds the response for a finished evaluation. err may be
// set together with a partial report.
func NewRankResponse(requestID string, report *Report, err error) *RankResponse {
	resp := &RankResponse{
		RequestID: requestID,
		Ranked:    []SummaryRow{},
		Top:       []CandidateScore{},
		Skipped:   []SkippedCandidate{},
		Timestamp: time.Now().Unix(),
	}
	if report != nil {
		resp.Query = report.Query
		resp.Ranked = report.Ranked.Summary()
		resp.Top = report.Top()
		resp.Skipped = report.Skipped
		resp.DurationMS = report.Duration.Milliseconds()
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
