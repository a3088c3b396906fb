package analysis

import (
	"fmt"

	blevanalysis "github.com/blevesearch/bleve/v2/analysis"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/registry"
)

// Bleve adapts an analyzer from bleve's registry. The cjk analyzer is the
// one to use for Chinese, Japanese and Korean text.
type Bleve struct {
	name     string
	analyzer blevanalysis.Analyzer
}

// NewBleve resolves name in a fresh bleve registry cache.
func NewBleve(name string) (*Bleve, error) {
	cache := registry.NewCache()
	a, err := cache.AnalyzerNamed(name)
	if err != nil {
		return nil, fmt.Errorf("resolving bleve analyzer %q: %w", name, err)
	}
	return &Bleve{name: name, analyzer: a}, nil
}

func (b *Bleve) Name() string { return b.name }

func (b *Bleve) Analyze(_ string, text string) []Token {
	stream := b.analyzer.Analyze([]byte(text))
	tokens := make([]Token, 0, len(stream))
	for _, t := range stream {
		tokens = append(tokens, Token{
			Term:     string(t.Term),
			Position: t.Position - 1,
			Start:    t.Start,
			End:      t.End,
		})
	}
	return tokens
}
