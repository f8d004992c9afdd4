package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kwv/rugmatch/match"
)

func TestSummaryTable(t *testing.T) {
	got := summaryTable([]match.SummaryRow{
		{Rank: 1, CandidateID: "persian", MatchCount: 120, InlierCount: 97},
		{Rank: 2, CandidateID: "kilim", MatchCount: 8, InlierCount: 3},
	}, false)

	for _, want := range []string{"RANK", "IMAGE NAME", "TOTAL MATCHES", "INLIER MATCHES", "persian", "kilim"} {
		if !strings.Contains(strings.ToUpper(got), strings.ToUpper(want)) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Error("uncolored table should not contain escape sequences")
	}

	// Counts are right aligned, so the short count is padded on the left.
	var kilim string
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, "kilim") {
			kilim = line
		}
	}
	if !strings.Contains(kilim, "   8 ") {
		t.Errorf("match count not right aligned: %q", kilim)
	}
	if strings.Index(got, "persian") > strings.Index(got, "kilim") {
		t.Error("rows should keep ranking order")
	}
}

func TestSummaryTable_Colorized(t *testing.T) {
	got := summaryTable([]match.SummaryRow{{Rank: 1, CandidateID: "rya", MatchCount: 1}}, true)
	if !strings.Contains(got, "rya") {
		t.Errorf("colorized table missing row:\n%s", got)
	}
}

func TestWarningLine(t *testing.T) {
	if got := warningLine("skipped a: timeout", false); got != "Warning: skipped a: timeout" {
		t.Errorf("warningLine() = %q", got)
	}
	if got := warningLine("x", true); !strings.Contains(got, "Warning: x") {
		t.Errorf("colorized warningLine() = %q", got)
	}
}

func TestShouldColorize_NotATerminal(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Error("a buffer is never a terminal")
	}
}
