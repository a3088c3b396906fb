// Package analysis turns field text into the term stream that is indexed,
// queried and highlighted. The index and query layers only see the
// Analyzer interface; concrete analyzers are picked by name.
package analysis

import (
	"fmt"
	"strings"
)

// Token is one normalised term together with its position in the token
// stream and its byte span in the original text.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Analyzer segments text of a named field into tokens. Implementations must
// be safe for concurrent use.
type Analyzer interface {
	Analyze(field, text string) []Token
}

// AnalyzerFunc adapts a plain function to Analyzer.
type AnalyzerFunc func(field, text string) []Token

func (f AnalyzerFunc) Analyze(field, text string) []Token { return f(field, text) }

const (
	SimpleName   = "simple"
	StandardName = "standard"
	CJKName      = "cjk"
	EnglishName  = "en"
	KeywordName  = "keyword"
)

// New returns the analyzer registered under name. "simple" (the default) is
// the built-in stemming analyzer; the others come from bleve's registry.
func New(name string) (Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SimpleName:
		return Simple{}, nil
	case StandardName, CJKName, EnglishName, KeywordName:
		return NewBleve(strings.ToLower(name))
	}
	return nil, fmt.Errorf("unknown analyzer %q", name)
}

// Terms returns only the term strings of the analyzed text.
func Terms(a Analyzer, field, text string) []string {
	tokens := a.Analyze(field, text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}
