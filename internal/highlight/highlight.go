// Package highlight picks the best-scoring fragment of a field value for a
// set of query terms and wraps every matched token in a marker pair.
package highlight

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
)

const (
	DefaultPre          = "<font color='red'>"
	DefaultPost         = "</font>"
	DefaultFragmentSize = 100
)

// Highlighter is safe for concurrent use.
type Highlighter struct {
	Analyzer     analysis.Analyzer
	Pre          string
	Post         string
	FragmentSize int
}

// New returns a Highlighter with the default markers and fragment size.
func New(a analysis.Analyzer) *Highlighter {
	return &Highlighter{
		Analyzer:     a,
		Pre:          DefaultPre,
		Post:         DefaultPost,
		FragmentSize: DefaultFragmentSize,
	}
}

// WithMarkers returns a copy of h using pre and post around matches.
func (h *Highlighter) WithMarkers(pre, post string) *Highlighter {
	c := *h
	c.Pre, c.Post = pre, post
	return &c
}

type fragment struct {
	start, end int
	first      int // index of the first token
	last       int // index one past the last token
	distinct   int
	hits       int
}

func (f fragment) better(o fragment) bool {
	if f.distinct != o.distinct {
		return f.distinct > o.distinct
	}
	return f.hits > o.hits
}

// Fragment returns the best fragment of text for terms, as analyzed for
// field, with each matching token wrapped. When no token matches it returns
// text unchanged and false.
func (h *Highlighter) Fragment(field, text string, terms []string) (string, bool) {
	if text == "" || len(terms) == 0 {
		return text, false
	}
	wanted := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		wanted[t] = struct{}{}
	}
	tokens := h.Analyzer.Analyze(field, text)
	if len(tokens) == 0 {
		return text, false
	}

	frags := h.split(text, tokens)
	best := -1
	for i := range frags {
		seen := make(map[string]struct{})
		for _, tok := range tokens[frags[i].first:frags[i].last] {
			if _, ok := wanted[tok.Term]; ok {
				frags[i].hits++
				seen[tok.Term] = struct{}{}
			}
		}
		frags[i].distinct = len(seen)
		if frags[i].distinct > 0 && (best < 0 || frags[i].better(frags[best])) {
			best = i
		}
	}
	if best < 0 {
		return text, false
	}

	f := frags[best]
	var sb strings.Builder
	cursor := f.start
	for _, sp := range matchedSpans(tokens[f.first:f.last], wanted, f.start, f.end) {
		sb.WriteString(text[cursor:sp.start])
		sb.WriteString(h.Pre)
		sb.WriteString(text[sp.start:sp.end])
		sb.WriteString(h.Post)
		cursor = sp.end
	}
	sb.WriteString(text[cursor:f.end])
	out := sb.String()
	if len(frags) > 1 {
		out = strings.TrimSpace(out)
	}
	return out, true
}

type span struct{ start, end int }

// matchedSpans returns the byte ranges of wanted tokens clipped to
// [lo, hi). Overlapping or touching ranges, as bigram analyzers produce,
// are merged so each gets one marker pair.
func matchedSpans(tokens []analysis.Token, wanted map[string]struct{}, lo, hi int) []span {
	var spans []span
	for _, tok := range tokens {
		if _, ok := wanted[tok.Term]; !ok {
			continue
		}
		start, end := max(tok.Start, lo), min(tok.End, hi)
		if start >= end {
			continue
		}
		if n := len(spans); n > 0 && start <= spans[n-1].end {
			spans[n-1].end = max(spans[n-1].end, end)
			continue
		}
		spans = append(spans, span{start, end})
	}
	return spans
}

// split cuts text into contiguous fragments on token boundaries, starting a
// new fragment once the current one would exceed FragmentSize bytes. A cut
// never lands inside the previous token.
func (h *Highlighter) split(text string, tokens []analysis.Token) []fragment {
	size := h.FragmentSize
	if size <= 0 {
		size = DefaultFragmentSize
	}
	frags := []fragment{{start: 0, first: 0}}
	for i, tok := range tokens {
		cur := &frags[len(frags)-1]
		if i > cur.first && tok.End-cur.start > size {
			cut := max(tok.Start, tokens[i-1].End, cur.start)
			cur.end = cut
			cur.last = i
			frags = append(frags, fragment{start: cut, first: i})
		}
	}
	last := &frags[len(frags)-1]
	last.end = len(text)
	last.last = len(tokens)
	return frags
}
