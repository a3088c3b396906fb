package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/query"
)

func openTestWriter(t *testing.T, dir string) *Writer {
	t.Helper()
	w, err := OpenWriter(dir, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func user(id, name, desc string) document.Document {
	return document.Document{
		document.Key("id", id),
		document.NewField("name", name, document.ExactStored),
		document.NewField("desc", desc, document.TokenizedStored),
	}
}

func commitDocs(t *testing.T, w *Writer, docs ...document.Document) uint64 {
	t.Helper()
	txn, err := w.Begin()
	require.NoError(t, err)
	for _, d := range docs {
		require.NoError(t, txn.AddDocument(d))
	}
	gen, err := txn.Commit()
	require.NoError(t, err)
	return gen
}

func search(t *testing.T, r *Reader, q query.Query, n int) TopDocs {
	t.Helper()
	td, err := NewSearcher(r).Search(q, n)
	require.NoError(t, err)
	return td
}

func storedValue(fields []StoredField, name string) string {
	for _, f := range fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestEmptyIndex(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	assert.Equal(t, uint64(0), w.Generation())

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 0, r.NumDocs())
	td := search(t, r, &query.TermQuery{Field: "desc", Term: "tea"}, 10)
	assert.Equal(t, 0, td.TotalHits)
	assert.Empty(t, td.ScoreDocs)
}

func TestCommitMakesDocumentsVisible(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	gen := commitDocs(t, w,
		user("1", "Alice", "likes green tea"),
		user("2", "Bob", "likes black coffee"),
	)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, uint64(1), w.Generation())

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.NumDocs())
	td := search(t, r, &query.TermQuery{Field: "desc", Term: "tea"}, 10)
	require.Equal(t, 1, td.TotalHits)
	fields, err := r.Document(td.ScoreDocs[0].Doc)
	require.NoError(t, err)
	assert.Equal(t, "Alice", storedValue(fields, "name"))
	assert.Equal(t, "1", storedValue(fields, "id"))

	exact := search(t, r, &query.TermQuery{Field: "name", Term: "Bob"}, 10)
	assert.Equal(t, 1, exact.TotalHits)
}

func TestUnstoredFieldsAreSearchableButNotReturned(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w, document.Document{
		document.Key("id", "1"),
		document.NewField("body", "secret recipe", document.TokenizedUnstored),
		document.NewField("tag", "internal", document.ExactUnstored),
	})
	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 1, search(t, r, &query.TermQuery{Field: "body", Term: "recipe"}, 1).TotalHits)
	assert.Equal(t, 1, search(t, r, &query.TermQuery{Field: "tag", Term: "internal"}, 1).TotalHits)
	fields, err := r.Document(0)
	require.NoError(t, err)
	assert.Equal(t, []StoredField{{Name: "id", Value: "1"}}, fields)
}

func TestRollbackDiscardsEverything(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w, user("1", "Alice", "tea"))

	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.AddDocument(user("2", "Bob", "tea")))
	require.NoError(t, txn.DeleteDocuments(Term{Field: "id", Value: "1"}))
	txn.Rollback()

	assert.Equal(t, uint64(1), w.Generation())
	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.NumDocs())

	_, err = txn.Commit()
	assert.ErrorIs(t, err, ErrTxnDone)
}

func TestAddDocumentRejectsInvalidField(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	txn, err := w.Begin()
	require.NoError(t, err)
	defer txn.Rollback()

	err = txn.AddDocument(document.Document{{Name: "desc", Kind: document.TokenizedStored}})
	require.Error(t, err)
	assert.Equal(t, 0, txn.Pending())

	err = txn.AddDocument(document.Document{})
	require.Error(t, err)
}

func TestDeleteDocumentsMatchesAnyTerm(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w,
		user("1", "Alice", "tea"),
		user("2", "Bob", "tea"),
		user("3", "Carol", "tea"),
	)

	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.DeleteDocuments(Term{Field: "id", Value: "1"}, Term{Field: "name", Value: "Carol"}))
	gen, err := txn.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.NumDocs())
	td := search(t, r, &query.TermQuery{Field: "desc", Term: "tea"}, 10)
	require.Len(t, td.ScoreDocs, 1)
	fields, err := r.Document(td.ScoreDocs[0].Doc)
	require.NoError(t, err)
	assert.Equal(t, "Bob", storedValue(fields, "name"))

	_, err = r.Document(0)
	assert.ErrorIs(t, err, ErrDocDeleted)
}

func TestDeleteMatchingNothingKeepsGeneration(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w, user("1", "Alice", "tea"))

	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.DeleteDocuments(Term{Field: "id", Value: "404"}))
	gen, err := txn.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
}

func TestUpdateReplacesByConjunctiveKey(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w,
		user("1", "Alice", "tea"),
		user("1", "Bob", "tea"),
	)

	txn, err := w.Begin()
	require.NoError(t, err)
	key := []Term{{Field: "id", Value: "1"}, {Field: "name", Value: "Alice"}}
	require.NoError(t, txn.UpdateDocument(key, user("1", "Alice", "coffee")))
	_, err = txn.Commit()
	require.NoError(t, err)

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, r.NumDocs())
	assert.Equal(t, 1, search(t, r, &query.TermQuery{Field: "desc", Term: "tea"}, 10).TotalHits)
	td := search(t, r, &query.TermQuery{Field: "desc", Term: "coffee"}, 10)
	require.Equal(t, 1, td.TotalHits)
	fields, err := r.Document(td.ScoreDocs[0].Doc)
	require.NoError(t, err)
	assert.Equal(t, "Alice", storedValue(fields, "name"))
}

func TestUpdateWithinTransactionSeesEarlierAdds(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.AddDocument(user("1", "Alice", "tea")))
	require.NoError(t, txn.UpdateDocument([]Term{{Field: "id", Value: "1"}}, user("1", "Alice", "milk")))
	_, err = txn.Commit()
	require.NoError(t, err)

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.NumDocs())
	assert.Equal(t, 0, search(t, r, &query.TermQuery{Field: "desc", Term: "tea"}, 10).TotalHits)
	assert.Equal(t, 1, search(t, r, &query.TermQuery{Field: "desc", Term: "milk"}, 10).TotalHits)
}

func TestSecondWriterIsLocked(t *testing.T) {
	dir := t.TempDir()
	openTestWriter(t, dir)

	_, err := OpenWriter(dir, Options{})
	assert.ErrorIs(t, err, ErrLocked)
}

func TestWriterCloseReleasesLock(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, Options{})
	require.NoError(t, err)
	commitDocs(t, w, user("1", "Alice", "tea"))
	require.NoError(t, w.Close())
	assert.False(t, w.IsOpen())

	_, err = w.Begin()
	assert.ErrorIs(t, err, ErrWriterClosed)

	w2 := openTestWriter(t, dir)
	assert.Equal(t, uint64(1), w2.Generation())
	assert.Equal(t, 1, w2.NumDocs())
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, Options{})
	require.NoError(t, err)
	commitDocs(t, w, user("1", "Alice", "green tea"), user("2", "Bob", "coffee"))
	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.DeleteDocuments(Term{Field: "id", Value: "2"}))
	_, err = txn.Commit()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenDirectory(dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint64(2), r.Generation())
	assert.Equal(t, 1, r.NumDocs())
	assert.Equal(t, 1, search(t, r, &query.TermQuery{Field: "desc", Term: "green"}, 10).TotalHits)
	assert.Equal(t, 0, search(t, r, &query.TermQuery{Field: "desc", Term: "coffee"}, 10).TotalHits)
}

func TestAbortedCommitLeavesIndexUnchanged(t *testing.T) {
	dir := t.TempDir()
	fail := false
	w, err := OpenWriter(dir, Options{BeforePublish: func(*Commit) error {
		if fail {
			return errors.New("replica unavailable")
		}
		return nil
	}})
	require.NoError(t, err)
	defer w.Close()
	commitDocs(t, w, user("1", "Alice", "tea"))

	before, err := os.ReadDir(dir)
	require.NoError(t, err)

	fail = true
	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.AddDocument(user("2", "Bob", "tea")))
	require.NoError(t, txn.DeleteDocuments(Term{Field: "id", Value: "1"}))
	_, err = txn.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica unavailable")

	assert.Equal(t, uint64(1), w.Generation())
	after, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, names(before), names(after))

	r, err := OpenDirectory(dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.NumDocs())
	fields, err := r.Document(0)
	require.NoError(t, err)
	assert.Equal(t, "Alice", storedValue(fields, "name"))
}

func names(entries []os.DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name()
	}
	return out
}

func TestReaderCurrencyAndRefresh(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w, user("1", "Alice", "tea"))

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	current, err := r.IsCurrent()
	require.NoError(t, err)
	assert.True(t, current)
	same, err := r.OpenIfChanged()
	require.NoError(t, err)
	assert.Nil(t, same)

	commitDocs(t, w, user("2", "Bob", "tea"))
	current, err = r.IsCurrent()
	require.NoError(t, err)
	assert.False(t, current)

	nr, err := r.OpenIfChanged()
	require.NoError(t, err)
	require.NotNil(t, nr)
	defer nr.Close()
	assert.Equal(t, uint64(2), nr.Generation())
	assert.Equal(t, 2, nr.NumDocs())
	assert.Equal(t, 1, r.NumDocs())
}

func TestDirectoryReaderRefreshSharesSegments(t *testing.T) {
	dir := t.TempDir()
	w := openTestWriter(t, dir)
	commitDocs(t, w, user("1", "Alice", "tea"))

	r, err := OpenDirectory(dir)
	require.NoError(t, err)
	defer r.Close()

	commitDocs(t, w, user("2", "Bob", "tea"))
	nr, err := r.OpenIfChanged()
	require.NoError(t, err)
	require.NotNil(t, nr)
	defer nr.Close()

	assert.Same(t, r.leaves[0].seg, nr.leaves[0].seg)
	assert.Equal(t, 2, search(t, nr, &query.TermQuery{Field: "desc", Term: "tea"}, 10).TotalHits)
}

func TestReaderRefCounting(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w, user("1", "Alice", "tea"))

	r, err := OpenReader(w)
	require.NoError(t, err)
	require.True(t, r.TryIncRef())
	assert.Equal(t, 2, r.RefCount())

	require.NoError(t, r.DecRef())
	require.NoError(t, r.DecRef())
	assert.False(t, r.TryIncRef())
	assert.ErrorIs(t, r.DecRef(), ErrReaderClosed)

	r2, err := OpenReader(w)
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, 1, search(t, r2, &query.TermQuery{Field: "desc", Term: "tea"}, 10).TotalHits)
}

func TestRanking(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w,
		user("1", "a", "tea with milk and cake and bread and butter"),
		user("2", "b", "tea tea"),
		user("3", "c", "coffee"),
	)
	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	td := search(t, r, &query.TermQuery{Field: "desc", Term: "tea"}, 10)
	require.Len(t, td.ScoreDocs, 2)
	assert.Equal(t, 1, td.ScoreDocs[0].Doc)
	assert.Equal(t, 0, td.ScoreDocs[1].Doc)
	assert.Greater(t, td.ScoreDocs[0].Score, td.ScoreDocs[1].Score)
	assert.Greater(t, td.ScoreDocs[1].Score, 0.0)
}

func TestPhraseQuery(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w,
		user("1", "a", "green tea leaves"),
		user("2", "b", "tea that is green"),
	)
	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	td := search(t, r, &query.PhraseQuery{Field: "desc", Terms: []string{"green", "tea"}}, 10)
	require.Equal(t, 1, td.TotalHits)
	assert.Equal(t, 0, td.ScoreDocs[0].Doc)
}

func TestPhraseRespectsStopWordGaps(t *testing.T) {
	a, err := analysis.New(analysis.StandardName)
	require.NoError(t, err)
	w, err := OpenWriter(t.TempDir(), Options{Analyzer: a})
	require.NoError(t, err)
	defer w.Close()
	commitDocs(t, w,
		user("1", "a", "tea and coffee"),
		user("2", "b", "tea coffee"),
	)
	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	td := search(t, r, &query.PhraseQuery{Field: "desc", Terms: []string{"tea", "coffee"}}, 10)
	require.Equal(t, 1, td.TotalHits)
	assert.Equal(t, 1, td.ScoreDocs[0].Doc)

	parsed, err := query.Parse(a, `"tea and coffee"`, []string{"desc"})
	require.NoError(t, err)
	td = search(t, r, parsed, 10)
	require.Equal(t, 1, td.TotalHits)
	assert.Equal(t, 0, td.ScoreDocs[0].Doc)
}

func TestBooleanQuery(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	commitDocs(t, w,
		user("1", "a", "green tea"),
		user("2", "b", "black tea"),
		user("3", "c", "green coffee"),
	)
	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	term := func(v string) query.Query { return &query.TermQuery{Field: "desc", Term: v} }
	tests := []struct {
		name string
		q    query.Query
		want int
	}{
		{"should", &query.BooleanQuery{Clauses: []query.Clause{{Query: term("tea")}, {Query: term("green")}}}, 3},
		{"must", &query.BooleanQuery{Clauses: []query.Clause{{Query: term("tea"), Occur: query.Must}, {Query: term("green"), Occur: query.Must}}}, 1},
		{"must not", &query.BooleanQuery{Clauses: []query.Clause{{Query: term("tea")}, {Query: term("green"), Occur: query.MustNot}}}, 1},
		{"only must not", &query.BooleanQuery{Clauses: []query.Clause{{Query: term("green"), Occur: query.MustNot}}}, 0},
		{"empty", &query.BooleanQuery{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewSearcher(r).Count(tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestSearchAfterWalksAllHitsOnce(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	var docs []document.Document
	for i := 0; i < 23; i++ {
		docs = append(docs, user(fmt.Sprint(i), fmt.Sprint("u", i), "tea"))
	}
	commitDocs(t, w, docs[:10]...)
	commitDocs(t, w, docs[10:]...)

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()
	s := NewSearcher(r)
	q := &query.TermQuery{Field: "desc", Term: "tea"}

	all, err := s.Search(q, 100)
	require.NoError(t, err)
	require.Len(t, all.ScoreDocs, 23)

	var walked []ScoreDoc
	var after *ScoreDoc
	for {
		td, err := s.SearchAfter(after, q, 5)
		require.NoError(t, err)
		assert.Equal(t, 23, td.TotalHits)
		if len(td.ScoreDocs) == 0 {
			break
		}
		walked = append(walked, td.ScoreDocs...)
		last := td.ScoreDocs[len(td.ScoreDocs)-1]
		after = &last
	}
	assert.Equal(t, all.ScoreDocs, walked)
}

func TestSearchRejectsNonPositiveSize(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()
	_, err = NewSearcher(r).Search(&query.TermQuery{Field: "desc", Term: "tea"}, 0)
	assert.Error(t, err)
}

func TestObsoleteFilesAreRemoved(t *testing.T) {
	dir := t.TempDir()
	w := openTestWriter(t, dir)
	commitDocs(t, w, user("1", "Alice", "tea"))
	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.DeleteDocuments(Term{Field: "id", Value: "1"}))
	_, err = txn.Commit()
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, segmentFileName(0)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, commitFileName(1)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, commitFileName(2)))
	assert.NoError(t, err)
	assert.Equal(t, 0, w.NumDocs())
}

func TestCorruptSegmentIsRejected(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, Options{})
	require.NoError(t, err)
	commitDocs(t, w, user("1", "Alice", "tea"))
	require.NoError(t, w.Close())

	path := filepath.Join(dir, segmentFileName(0))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	dictOffset := binary.LittleEndian.Uint64(data[16:24])
	data[dictOffset+1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = OpenDirectory(dir)
	assert.Error(t, err)
}
