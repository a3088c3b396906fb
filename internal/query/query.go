// Package query holds the structured query model executed by the index
// searcher and the parser that builds it from user query strings.
package query

import (
	"sort"
	"strings"
)

// Occur says how a clause participates in a BooleanQuery.
type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

func (o Occur) prefix() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

// Query is a node of a parsed query.
type Query interface {
	String() string
	isQuery()
}

// TermQuery matches documents containing Term in Field.
type TermQuery struct {
	Field string
	Term  string
}

// PhraseQuery matches documents where Terms occur at consecutive positions
// of Field. When Positions is set, term i must instead occur Positions[i]
// positions after the first term, which keeps the gaps of removed stop
// words.
type PhraseQuery struct {
	Field     string
	Terms     []string
	Positions []int
}

// Offset returns how many positions term i sits after the first term.
func (q *PhraseQuery) Offset(i int) int {
	if len(q.Positions) == len(q.Terms) {
		return q.Positions[i] - q.Positions[0]
	}
	return i
}

// Clause is one operand of a BooleanQuery.
type Clause struct {
	Query Query
	Occur Occur
}

// BooleanQuery combines clauses. A document matches when it matches every
// Must clause, no MustNot clause and, if there are no Must clauses, at least
// one Should clause.
type BooleanQuery struct {
	Clauses []Clause
}

func (*TermQuery) isQuery()    {}
func (*PhraseQuery) isQuery()  {}
func (*BooleanQuery) isQuery() {}

func (q *TermQuery) String() string { return q.Field + ":" + q.Term }

func (q *PhraseQuery) String() string {
	return q.Field + ":\"" + strings.Join(q.Terms, " ") + "\""
}

func (q *BooleanQuery) String() string {
	parts := make([]string, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		s := c.Query.String()
		if _, nested := c.Query.(*BooleanQuery); nested {
			s = "(" + s + ")"
		}
		parts = append(parts, c.Occur.prefix()+s)
	}
	return strings.Join(parts, " ")
}

// Terms returns the distinct terms of q that can contribute to a match on
// field, sorted. MustNot clauses are skipped. An empty field collects terms
// of every field.
func Terms(q Query, field string) []string {
	seen := make(map[string]struct{})
	collectTerms(q, field, seen)
	terms := make([]string, 0, len(seen))
	for t := range seen {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

func collectTerms(q Query, field string, seen map[string]struct{}) {
	switch n := q.(type) {
	case *TermQuery:
		if field == "" || n.Field == field {
			seen[n.Term] = struct{}{}
		}
	case *PhraseQuery:
		if field == "" || n.Field == field {
			for _, t := range n.Terms {
				seen[t] = struct{}{}
			}
		}
	case *BooleanQuery:
		for _, c := range n.Clauses {
			if c.Occur == MustNot {
				continue
			}
			collectTerms(c.Query, field, seen)
		}
	}
}
