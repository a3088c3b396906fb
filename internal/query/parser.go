package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPhrase
	tokField
	tokLParen
	tokRParen
	tokPlus
	tokMinus
	tokAnd
	tokOr
	tokNot
	tokEOF
)

type lexToken struct {
	kind tokenKind
	text string
	pos  int
}

// Parser builds queries over a default field set. Unqualified words are
// searched in every default field; "field:word" narrows to one field.
type Parser struct {
	analyzer analysis.Analyzer
	fields   []string
}

// NewParser returns a Parser that analyzes words with a and expands them
// over fields. A nil or empty field list means the unnamed field "".
func NewParser(a analysis.Analyzer, fields []string) *Parser {
	if len(fields) == 0 {
		fields = []string{""}
	}
	return &Parser{analyzer: a, fields: fields}
}

// Parse parses text with a fresh Parser.
func Parse(a analysis.Analyzer, text string, fields []string) (Query, error) {
	return NewParser(a, fields).Parse(text)
}

// Parse turns text into a Query. Syntax errors wrap ErrQueryParse.
func (p *Parser) Parse(text string) (Query, error) {
	if strings.TrimSpace(text) == "" {
		return nil, parseError(0, "empty query")
	}
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	st := &parseState{parser: p, toks: toks}
	q, err := st.parseSequence(false)
	if err != nil {
		return nil, err
	}
	if st.peek().kind != tokEOF {
		return nil, parseError(st.peek().pos, "unexpected %q", st.peek().text)
	}
	return simplify(q), nil
}

func parseError(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: at %d: %s", apperrors.ErrQueryParse, pos, fmt.Sprintf(format, args...))
}

type parseState struct {
	parser *Parser
	toks   []lexToken
	i      int
}

func (s *parseState) peek() lexToken { return s.toks[s.i] }

func (s *parseState) next() lexToken {
	t := s.toks[s.i]
	if t.kind != tokEOF {
		s.i++
	}
	return t
}

// parseSequence reads clauses until EOF or, when nested, a closing paren.
// AND marks both neighbours Must; OR leaves them Should.
func (s *parseState) parseSequence(nested bool) (*BooleanQuery, error) {
	bq := &BooleanQuery{}
	var prev *Clause
	conj := tokEOF
	for {
		t := s.peek()
		if t.kind == tokEOF || (t.kind == tokRParen && nested) {
			if conj != tokEOF {
				return nil, parseError(t.pos, "missing operand after operator")
			}
			return bq, nil
		}
		if t.kind == tokRParen {
			return nil, parseError(t.pos, "unbalanced ')'")
		}
		if t.kind == tokAnd || t.kind == tokOr {
			if prev == nil || conj != tokEOF {
				return nil, parseError(t.pos, "operator %q without left operand", t.text)
			}
			conj = t.kind
			s.next()
			continue
		}

		clause, err := s.parseClause()
		if err != nil {
			return nil, err
		}
		if conj == tokAnd {
			if prev != nil && prev.Occur == Should {
				prev.Occur = Must
			}
			if clause.Occur == Should {
				clause.Occur = Must
			}
		}
		conj = tokEOF
		if clause.Query == nil {
			// every word of the clause was removed by analysis
			prev = &Clause{Occur: clause.Occur}
			continue
		}
		bq.Clauses = append(bq.Clauses, clause)
		prev = &bq.Clauses[len(bq.Clauses)-1]
	}
}

func (s *parseState) parseClause() (Clause, error) {
	occur := Should
	switch t := s.peek(); t.kind {
	case tokPlus:
		s.next()
		occur = Must
	case tokMinus, tokNot:
		s.next()
		occur = MustNot
	}
	fields := s.parser.fields
	if t := s.peek(); t.kind == tokField {
		s.next()
		fields = []string{t.text}
	}
	q, err := s.parseAtom(fields)
	if err != nil {
		return Clause{}, err
	}
	return Clause{Query: q, Occur: occur}, nil
}

func (s *parseState) parseAtom(fields []string) (Query, error) {
	t := s.next()
	switch t.kind {
	case tokWord:
		return s.expand(fields, t.text, false), nil
	case tokPhrase:
		return s.expand(fields, t.text, true), nil
	case tokLParen:
		if s.peek().kind == tokRParen {
			return nil, parseError(t.pos, "empty group")
		}
		saved := s.parser
		s.parser = &Parser{analyzer: saved.analyzer, fields: fields}
		inner, err := s.parseSequence(true)
		s.parser = saved
		if err != nil {
			return nil, err
		}
		if closing := s.next(); closing.kind != tokRParen {
			return nil, parseError(closing.pos, "missing ')'")
		}
		if len(inner.Clauses) == 0 {
			return nil, nil
		}
		return simplify(inner), nil
	case tokEOF:
		return nil, parseError(t.pos, "unexpected end of query")
	default:
		return nil, parseError(t.pos, "unexpected %q", t.text)
	}
}

// gappedPositions returns the token positions when they are not consecutive,
// nil otherwise.
func gappedPositions(tokens []analysis.Token) []int {
	gapped := false
	positions := make([]int, len(tokens))
	for i, tok := range tokens {
		positions[i] = tok.Position
		if i > 0 && tok.Position != tokens[i-1].Position+1 {
			gapped = true
		}
	}
	if !gapped {
		return nil
	}
	return positions
}

// expand analyzes text per field. Several terms from an unquoted word become
// a disjunction; a quoted phrase becomes a PhraseQuery.
func (s *parseState) expand(fields []string, text string, phrase bool) Query {
	perField := make([]Clause, 0, len(fields))
	for _, field := range fields {
		tokens := s.parser.analyzer.Analyze(field, text)
		terms := make([]string, len(tokens))
		for i, tok := range tokens {
			terms[i] = tok.Term
		}
		var q Query
		switch {
		case len(terms) == 0:
			continue
		case len(terms) == 1:
			q = &TermQuery{Field: field, Term: terms[0]}
		case phrase:
			q = &PhraseQuery{Field: field, Terms: terms, Positions: gappedPositions(tokens)}
		default:
			bq := &BooleanQuery{}
			for _, term := range terms {
				bq.Clauses = append(bq.Clauses, Clause{Query: &TermQuery{Field: field, Term: term}})
			}
			q = bq
		}
		perField = append(perField, Clause{Query: q})
	}
	switch len(perField) {
	case 0:
		return nil
	case 1:
		return perField[0].Query
	default:
		return &BooleanQuery{Clauses: perField}
	}
}

// simplify unwraps a boolean query holding a single positive clause.
func simplify(q *BooleanQuery) Query {
	if len(q.Clauses) == 1 && q.Clauses[0].Occur != MustNot {
		return q.Clauses[0].Query
	}
	return q
}

func lex(text string) ([]lexToken, error) {
	var toks []lexToken
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, lexToken{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, lexToken{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '"':
			start := i
			i++
			var b strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == '"' {
					closed = true
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, parseError(start, "unterminated quote")
			}
			toks = append(toks, lexToken{kind: tokPhrase, text: b.String(), pos: start})
		case (r == '+' || r == '-') && prefixPosition(toks):
			start := i
			i++
			if i >= len(runes) || unicode.IsSpace(runes[i]) || runes[i] == ')' {
				return nil, parseError(start, "dangling %q", string(r))
			}
			kind := tokPlus
			if r == '-' {
				kind = tokMinus
			}
			toks = append(toks, lexToken{kind: kind, text: string(r), pos: start})
		default:
			start := i
			var b strings.Builder
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if unicode.IsSpace(c) || c == '(' || c == ')' || c == '"' {
					break
				}
				if c == ':' {
					break
				}
				b.WriteRune(c)
				i++
			}
			word := b.String()
			if i < len(runes) && runes[i] == ':' {
				i++
				if word == "" {
					return nil, parseError(start, "empty field name")
				}
				if i >= len(runes) || unicode.IsSpace(runes[i]) || runes[i] == ')' {
					return nil, parseError(start, "field %q has no value", word)
				}
				toks = append(toks, lexToken{kind: tokField, text: word, pos: start})
				continue
			}
			switch word {
			case "AND", "&&":
				toks = append(toks, lexToken{kind: tokAnd, text: word, pos: start})
			case "OR", "||":
				toks = append(toks, lexToken{kind: tokOr, text: word, pos: start})
			case "NOT", "!":
				toks = append(toks, lexToken{kind: tokNot, text: word, pos: start})
			default:
				toks = append(toks, lexToken{kind: tokWord, text: word, pos: start})
			}
		}
	}
	toks = append(toks, lexToken{kind: tokEOF, pos: len(runes)})
	if err := checkParens(toks); err != nil {
		return nil, err
	}
	return toks, nil
}

// prefixPosition reports whether a +/- at this point starts a clause rather
// than sitting inside a word.
func prefixPosition(toks []lexToken) bool {
	if len(toks) == 0 {
		return true
	}
	switch toks[len(toks)-1].kind {
	case tokWord, tokPhrase, tokRParen, tokLParen, tokAnd, tokOr, tokNot:
		return true
	}
	return false
}

func checkParens(toks []lexToken) error {
	depth := 0
	for _, t := range toks {
		switch t.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth < 0 {
				return parseError(t.pos, "unbalanced ')'")
			}
		case tokEOF:
			if depth > 0 {
				return parseError(t.pos, "missing ')'")
			}
		}
	}
	return nil
}
