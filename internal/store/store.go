// Package store implements the on-disk inverted index behind one index
// location: immutable segment files, per-generation deletion bitmaps and a
// commit manifest switched atomically through the CURRENT file.
//
// A location has at most one Writer (enforced with a file lock). Readers
// are point-in-time views of a commit generation and are reference counted
// so a refreshed view can replace an old one while searches on the old one
// finish.
package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLocked is returned when another writer holds the location lock.
	ErrLocked = errors.New("index location is locked by another writer")
	// ErrWriterClosed is returned for operations on a closed writer.
	ErrWriterClosed = errors.New("index writer is closed")
	// ErrReaderClosed is returned for operations on a fully released reader.
	ErrReaderClosed = errors.New("index reader is closed")
	// ErrTxnDone is returned when a finished transaction is reused.
	ErrTxnDone = errors.New("transaction already committed or rolled back")
	// ErrDocDeleted is returned when loading a deleted or unknown document.
	ErrDocDeleted = errors.New("document does not exist")
)

// Term is an exact field/value pair used to select documents.
type Term struct {
	Field string
	Value string
}

func (t Term) key() string { return TermKey(t.Field, t.Value) }

func (t Term) String() string { return t.Field + ":" + t.Value }

// TermKey builds the dictionary key for term in field.
func TermKey(field, term string) string {
	return field + "\x00" + term
}

// SplitTermKey is the inverse of TermKey.
func SplitTermKey(key string) (field, term string, err error) {
	field, term, ok := strings.Cut(key, "\x00")
	if !ok {
		return "", "", fmt.Errorf("malformed term key %q", key)
	}
	return field, term, nil
}

// ScoreDoc is one hit: a reader-global document number and its score.
type ScoreDoc struct {
	Doc   int     `json:"doc"`
	Score float64 `json:"score"`
}

// TopDocs is a ranked page of hits plus the total number of matches.
type TopDocs struct {
	TotalHits int        `json:"total_hits"`
	ScoreDocs []ScoreDoc `json:"score_docs"`
}

// before reports whether a ranks ahead of b: higher score first, then lower
// document number.
func before(a, b ScoreDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Doc < b.Doc
}
