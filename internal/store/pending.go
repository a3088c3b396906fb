package store

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
)

// positionGap separates the positions of repeated fields with the same name
// so phrases never match across values.
const positionGap = 100

// pendingDoc is an analyzed document staged inside a transaction.
type pendingDoc struct {
	terms   map[string][]int
	stored  []StoredField
	lengths map[string]int
}

func analyzeDocument(a analysis.Analyzer, doc document.Document) *pendingDoc {
	pd := &pendingDoc{
		terms:   make(map[string][]int),
		lengths: make(map[string]int),
	}
	next := make(map[string]int)
	for _, f := range doc {
		value := f.StringValue()
		base := next[f.Name]
		if f.Kind.Tokenized() {
			tokens := a.Analyze(f.Name, value)
			last := -1
			for _, tok := range tokens {
				key := TermKey(f.Name, tok.Term)
				pd.terms[key] = append(pd.terms[key], base+tok.Position)
				if tok.Position > last {
					last = tok.Position
				}
			}
			pd.lengths[f.Name] += len(tokens)
			next[f.Name] = base + last + 1 + positionGap
		} else {
			key := TermKey(f.Name, value)
			pd.terms[key] = append(pd.terms[key], base)
			pd.lengths[f.Name]++
			next[f.Name] = base + 1 + positionGap
		}
		if f.Kind.Stored() {
			pd.stored = append(pd.stored, StoredField{Name: f.Name, Value: value})
		}
	}
	return pd
}

// matches reports whether the document carries every term of the
// conjunction.
func (pd *pendingDoc) matches(conj []Term) bool {
	for _, t := range conj {
		if _, ok := pd.terms[t.key()]; !ok {
			return false
		}
	}
	return len(conj) > 0
}

// buildSegment turns staged documents into sorted term entries and the
// stored-doc table, numbering documents by slice order.
func buildSegment(docs []*pendingDoc) ([]TermEntry, []StoredDoc) {
	index := make(map[string][]Posting)
	stored := make([]StoredDoc, len(docs))
	for i, pd := range docs {
		for key, positions := range pd.terms {
			index[key] = append(index[key], Posting{
				Doc:       i,
				Frequency: len(positions),
				Positions: positions,
			})
		}
		stored[i] = StoredDoc{Fields: pd.stored, Lengths: pd.lengths}
	}
	entries := make([]TermEntry, 0, len(index))
	for term, postings := range index {
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].Doc < postings[j].Doc
		})
		entries = append(entries, TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries, stored
}
