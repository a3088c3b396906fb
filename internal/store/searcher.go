package store

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/query"
)

// Searcher evaluates queries against one Reader. Hits are ordered by
// descending BM25 score, ties broken by ascending document number.
type Searcher struct {
	r *Reader
}

func NewSearcher(r *Reader) *Searcher {
	return &Searcher{r: r}
}

// Reader returns the reader the searcher is bound to.
func (s *Searcher) Reader() *Reader { return s.r }

// Search returns the top n hits for q.
func (s *Searcher) Search(q query.Query, n int) (TopDocs, error) {
	return s.SearchAfter(nil, q, n)
}

// SearchAfter returns the top n hits for q that rank strictly after the
// given hit. A nil after behaves like Search.
func (s *Searcher) SearchAfter(after *ScoreDoc, q query.Query, n int) (TopDocs, error) {
	if n <= 0 {
		return TopDocs{}, fmt.Errorf("result size must be positive, got %d", n)
	}
	scores, err := s.score(q)
	if err != nil {
		return TopDocs{}, err
	}
	return TopDocs{
		TotalHits: len(scores),
		ScoreDocs: collectTop(scores, after, n),
	}, nil
}

// Count returns the number of live documents matching q.
func (s *Searcher) Count(q query.Query) (int, error) {
	scores, err := s.score(q)
	if err != nil {
		return 0, err
	}
	return len(scores), nil
}

// Doc returns the stored fields of a hit.
func (s *Searcher) Doc(doc int) ([]StoredField, error) {
	return s.r.Document(doc)
}

func (s *Searcher) score(q query.Query) (map[int]float64, error) {
	switch q := q.(type) {
	case nil:
		return map[int]float64{}, nil
	case *query.TermQuery:
		return s.scoreTerm(q)
	case *query.PhraseQuery:
		return s.scorePhrase(q)
	case *query.BooleanQuery:
		return s.scoreBoolean(q)
	default:
		return nil, fmt.Errorf("unsupported query type %T", q)
	}
}

type leafPostings struct {
	leaf     leaf
	postings []Posting
}

// livePostings loads the postings of key in every segment, dropping deleted
// documents, and returns them with the live document frequency.
func (s *Searcher) livePostings(key string) ([]leafPostings, int, error) {
	out := make([]leafPostings, 0, len(s.r.leaves))
	df := 0
	for _, l := range s.r.leaves {
		postings, err := l.seg.postings(key)
		if err != nil {
			return nil, 0, fmt.Errorf("segment %s: %w", l.seg.name, err)
		}
		live := postings[:0]
		for _, p := range postings {
			if l.live(p.Doc) {
				live = append(live, p)
			}
		}
		if len(live) == 0 {
			continue
		}
		df += len(live)
		out = append(out, leafPostings{leaf: l, postings: live})
	}
	return out, df, nil
}

func (s *Searcher) scoreTerm(q *query.TermQuery) (map[int]float64, error) {
	perLeaf, df, err := s.livePostings(TermKey(q.Field, q.Term))
	if err != nil {
		return nil, err
	}
	scores := make(map[int]float64, df)
	if df == 0 {
		return scores, nil
	}
	idf := computeIDF(s.r.numDocs, df)
	avg := s.r.avgFieldLength(q.Field)
	for _, lp := range perLeaf {
		for _, p := range lp.postings {
			docLen := float64(lp.leaf.seg.docs[p.Doc].Lengths[q.Field])
			scores[lp.leaf.base+p.Doc] += idf * computeTFNorm(float64(p.Frequency), docLen, avg)
		}
	}
	return scores, nil
}

func (s *Searcher) scorePhrase(q *query.PhraseQuery) (map[int]float64, error) {
	scores := make(map[int]float64)
	if len(q.Terms) == 0 {
		return scores, nil
	}
	if len(q.Terms) == 1 {
		return s.scoreTerm(&query.TermQuery{Field: q.Field, Term: q.Terms[0]})
	}

	// positions[i][global doc] holds the positions of term i
	positions := make([]map[int]map[int]bool, len(q.Terms))
	idf := 0.0
	for i, term := range q.Terms {
		perLeaf, df, err := s.livePostings(TermKey(q.Field, term))
		if err != nil {
			return nil, err
		}
		if df == 0 {
			return scores, nil
		}
		idf += computeIDF(s.r.numDocs, df)
		positions[i] = make(map[int]map[int]bool, df)
		for _, lp := range perLeaf {
			for _, p := range lp.postings {
				set := make(map[int]bool, len(p.Positions))
				for _, pos := range p.Positions {
					set[pos] = true
				}
				positions[i][lp.leaf.base+p.Doc] = set
			}
		}
	}

	avg := s.r.avgFieldLength(q.Field)
	for doc, first := range positions[0] {
		freq := 0
		for start := range first {
			matched := true
			for i := 1; i < len(q.Terms); i++ {
				if !positions[i][doc][start+q.Offset(i)] {
					matched = false
					break
				}
			}
			if matched {
				freq++
			}
		}
		if freq == 0 {
			continue
		}
		l, local, _ := s.r.resolve(doc)
		docLen := float64(l.seg.docs[local].Lengths[q.Field])
		scores[doc] = idf * computeTFNorm(float64(freq), docLen, avg)
	}
	return scores, nil
}

// scoreBoolean combines clause results: Must clauses intersect, MustNot
// clauses exclude, and Should clauses either match on their own (without
// Must clauses) or only add score.
func (s *Searcher) scoreBoolean(q *query.BooleanQuery) (map[int]float64, error) {
	var must, should []map[int]float64
	excluded := make(map[int]bool)
	for _, c := range q.Clauses {
		sub, err := s.score(c.Query)
		if err != nil {
			return nil, err
		}
		switch c.Occur {
		case query.Must:
			must = append(must, sub)
		case query.MustNot:
			for doc := range sub {
				excluded[doc] = true
			}
		default:
			should = append(should, sub)
		}
	}

	scores := make(map[int]float64)
	if len(must) > 0 {
		for doc, score := range must[0] {
			total := score
			ok := true
			for _, m := range must[1:] {
				v, found := m[doc]
				if !found {
					ok = false
					break
				}
				total += v
			}
			if ok && !excluded[doc] {
				scores[doc] = total
			}
		}
		for _, sh := range should {
			for doc, v := range sh {
				if _, ok := scores[doc]; ok {
					scores[doc] += v
				}
			}
		}
		return scores, nil
	}

	for _, sh := range should {
		for doc, v := range sh {
			if !excluded[doc] {
				scores[doc] += v
			}
		}
	}
	return scores, nil
}
