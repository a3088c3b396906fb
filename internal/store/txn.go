package store

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
)

// op is one staged mutation: the conjunctions in deletes are applied first,
// then doc is added.
type op struct {
	deletes [][]Term
	doc     *pendingDoc
}

// Txn stages mutations against a Writer. Nothing it stages is visible to
// any reader until Commit succeeds; Rollback discards everything. A Txn
// must end with exactly one Commit or Rollback.
type Txn struct {
	w    *Writer
	ops  []op
	done bool
}

// AddDocument stages doc. It fails, staging nothing, if any field is
// invalid.
func (t *Txn) AddDocument(doc document.Document) error {
	if t.done {
		return ErrTxnDone
	}
	pd, err := t.analyze(doc)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, op{doc: pd})
	return nil
}

// DeleteDocuments stages removal of every document matching any of terms.
func (t *Txn) DeleteDocuments(terms ...Term) error {
	if t.done {
		return ErrTxnDone
	}
	if len(terms) == 0 {
		return nil
	}
	conjs := make([][]Term, len(terms))
	for i, term := range terms {
		conjs[i] = []Term{term}
	}
	t.ops = append(t.ops, op{deletes: conjs})
	return nil
}

// UpdateDocument stages removal of every document matching all of key
// followed by the addition of doc.
func (t *Txn) UpdateDocument(key []Term, doc document.Document) error {
	if t.done {
		return ErrTxnDone
	}
	if len(key) == 0 {
		return fmt.Errorf("update requires at least one key term")
	}
	pd, err := t.analyze(doc)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, op{deletes: [][]Term{append([]Term(nil), key...)}, doc: pd})
	return nil
}

// Pending returns the number of staged operations.
func (t *Txn) Pending() int { return len(t.ops) }

// Commit makes the staged operations durable and visible as one new
// generation, which it returns. If nothing changed the current generation
// is returned. On error the index is left exactly as before.
func (t *Txn) Commit() (uint64, error) {
	if t.done {
		return 0, ErrTxnDone
	}
	defer t.finish()
	return t.w.apply(t.ops)
}

// Rollback discards the staged operations. It is a no-op after Commit.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.finish()
}

func (t *Txn) finish() {
	t.done = true
	t.ops = nil
	t.w.txMu.Unlock()
}

func (t *Txn) analyze(doc document.Document) (*pendingDoc, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("document has no fields")
	}
	for _, f := range doc {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	return analyzeDocument(t.w.analyzer, doc), nil
}
