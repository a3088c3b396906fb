package store

import (
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/query"
)

func benchIndex(b *testing.B, numDocs int) *Reader {
	b.Helper()
	w, err := OpenWriter(b.TempDir(), Options{})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { w.Close() })
	txn, err := w.Begin()
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < numDocs; i++ {
		doc := document.Document{
			document.Key("id", fmt.Sprintf("doc-%d", i)),
			document.NewField("desc", "search engine with distributed indexing and query processing", document.TokenizedStored),
		}
		if err := txn.AddDocument(doc); err != nil {
			b.Fatal(err)
		}
	}
	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
	r, err := OpenReader(w)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { r.Close() })
	return r
}

// BenchmarkCommit measures staging and committing a batch of 100 documents.
func BenchmarkCommit(b *testing.B) {
	w, err := OpenWriter(b.TempDir(), Options{})
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := w.Begin()
		if err != nil {
			b.Fatal(err)
		}
		for j := 0; j < 100; j++ {
			txn.AddDocument(document.Document{
				document.Key("id", fmt.Sprintf("doc-%d-%d", i, j)),
				document.NewField("desc", "this is a benchmark document with several terms", document.TokenizedStored),
			})
		}
		if _, err := txn.Commit(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkTermSearch measures single-term BM25 search for different index
// sizes.
func BenchmarkTermSearch(b *testing.B) {
	for _, numDocs := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			s := NewSearcher(benchIndex(b, numDocs))
			q := &query.TermQuery{Field: "desc", Term: "search"}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Search(q, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkTermSearchParallel measures concurrent read throughput on one
// reader.
func BenchmarkTermSearchParallel(b *testing.B) {
	s := NewSearcher(benchIndex(b, 10000))
	q := &query.TermQuery{Field: "desc", Term: "search"}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Search(q, 10); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
