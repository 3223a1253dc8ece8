// Package signal implements the terminal-grammar scanner shared by the
// iteration loop and the review engine: it scans raw agent text for a
// small set of inline tokens rather than requiring structured output, and
// reports the first one found.
package signal

import "regexp"

// Kind identifies which terminal token was found.
type Kind int

const (
	// Continue is the default in iteration context when no token matches.
	Continue Kind = iota
	Complete
	Blocked
	Approve
	Reject
)

func (k Kind) String() string {
	switch k {
	case Complete:
		return "complete"
	case Blocked:
		return "blocked"
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	default:
		return "continue"
	}
}

// Result is the outcome of scanning one response for a terminal signal.
// Reason carries a <blocked reason="…"/> or <reject reason="…"/> payload;
// Summary carries a <approve summary="…"/> payload. At most one is set.
type Result struct {
	Kind    Kind
	Reason  string
	Summary string
}

// Default reason used when the review context finds no signal at all.
const noReviewSignalReason = "no review signal"

// token describes one entry of the grammar table: a compiled pattern and
// what Kind/field it produces on match. Parse evaluates every pattern and
// keeps the one whose match starts earliest in the text: first match in
// document order wins.
type token struct {
	kind    Kind
	pattern *regexp.Regexp
	// group is the index of the capturing group holding reason/summary,
	// or 0 if the token carries no payload.
	group int
}

// grammar is the one-place table shared by iteration and review contexts.
// Patterns are case-insensitive and whitespace-tolerant around the
// closing slash.
var grammar = []token{
	{Complete, regexp.MustCompile(`(?i)<complete\s*/?>`), 0},
	{Continue, regexp.MustCompile(`(?i)<continue\s*/?>`), 0},
	{Blocked, regexp.MustCompile(`(?i)<blocked\s+reason="([^"]*)"\s*/?>`), 1},
	{Approve, regexp.MustCompile(`(?i)<approve\s+summary="([^"]*)"\s*/?>`), 1},
	{Reject, regexp.MustCompile(`(?i)<reject\s+reason="([^"]*)"\s*/?>`), 1},
}

// Parse scans text for the earliest occurrence of any grammar token and
// returns the corresponding Result. If no token is present, it returns
// Continue — callers in review context should use ParseReview instead,
// since the review default differs.
//
// Parse is a pure function: deterministic, side-effect free, and its
// result never depends on anything but the input text.
func Parse(text string) Result {
	best := -1
	var bestTok token
	var bestLoc []int

	for _, tok := range grammar {
		loc := tok.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			bestTok = tok
			bestLoc = loc
		}
	}

	if best == -1 {
		return Result{Kind: Continue}
	}

	r := Result{Kind: bestTok.kind}
	if bestTok.group > 0 {
		start, end := bestLoc[2*bestTok.group], bestLoc[2*bestTok.group+1]
		payload := text[start:end]
		switch bestTok.kind {
		case Blocked, Reject:
			r.Reason = payload
		case Approve:
			r.Summary = payload
		}
	}
	return r
}

// ParseReview scans text the same way as Parse, but in review context:
// Approve/Reject are the only meaningful outcomes, and the absence of any
// signal defaults to Reject with a fixed reason.
func ParseReview(text string) Result {
	r := Parse(text)
	switch r.Kind {
	case Approve, Reject:
		return r
	default:
		return Result{Kind: Reject, Reason: noReviewSignalReason}
	}
}
