package store

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
)

type leaf struct {
	seg     *segment
	deletes *roaring.Bitmap
	base    int
}

func (l leaf) live(local int) bool {
	return !l.deletes.Contains(uint32(local))
}

// Reader is an immutable view of one commit generation. It starts with one
// reference owned by the opener; IncRef/DecRef share it and the segments
// are released when the count drops to zero.
type Reader struct {
	dir     string
	writer  *Writer
	commit  *Commit
	leaves  []leaf
	maxDoc  int
	numDocs int
	stats   map[string]fieldStat
	refs    atomic.Int32
}

// OpenReader opens a reader on the last commit of w, sharing its open
// segments.
func OpenReader(w *Writer) (*Reader, error) {
	c, segs, dels, err := w.snapshot()
	if err != nil {
		return nil, err
	}
	r := newReader(w.dir, c, segs, dels)
	r.writer = w
	return r, nil
}

// OpenDirectory opens a reader on the commit CURRENT points at, without a
// writer.
func OpenDirectory(dir string) (*Reader, error) {
	c, err := ReadCommit(dir)
	if err != nil {
		return nil, err
	}
	segs, dels, err := openLeaves(dir, c.Segments)
	if err != nil {
		return nil, err
	}
	return newReader(dir, c, segs, dels), nil
}

func newReader(dir string, c *Commit, segs []*segment, dels []*roaring.Bitmap) *Reader {
	r := &Reader{
		dir:    dir,
		commit: c,
		leaves: make([]leaf, len(segs)),
		stats:  make(map[string]fieldStat),
	}
	for i, seg := range segs {
		r.leaves[i] = leaf{seg: seg, deletes: dels[i], base: r.maxDoc}
		r.maxDoc += seg.docCount()
		r.numDocs += seg.docCount() - int(dels[i].GetCardinality())
		for field, s := range seg.stats {
			agg := r.stats[field]
			agg.docs += s.docs
			agg.tokens += s.tokens
			r.stats[field] = agg
		}
	}
	r.refs.Store(1)
	return r
}

// Dir returns the index location the reader was opened on.
func (r *Reader) Dir() string { return r.dir }

// Generation returns the commit generation this reader sees.
func (r *Reader) Generation() uint64 { return r.commit.Generation }

// NumDocs returns the number of live documents.
func (r *Reader) NumDocs() int { return r.numDocs }

// MaxDoc returns one more than the largest document number.
func (r *Reader) MaxDoc() int { return r.maxDoc }

// IsCurrent reports whether no commit happened since the reader was opened.
func (r *Reader) IsCurrent() (bool, error) {
	if r.writer != nil && r.writer.IsOpen() {
		return r.writer.Generation() == r.commit.Generation, nil
	}
	c, err := ReadCommit(r.dir)
	if err != nil {
		return false, err
	}
	return c.Generation == r.commit.Generation, nil
}

// OpenIfChanged returns a reader on the latest commit, or nil when the
// reader is already current. Unchanged segments are shared with r.
func (r *Reader) OpenIfChanged() (*Reader, error) {
	current, err := r.IsCurrent()
	if err != nil {
		return nil, err
	}
	if current {
		return nil, nil
	}
	if r.writer != nil && r.writer.IsOpen() {
		nr, err := OpenReader(r.writer)
		if err == nil || !errors.Is(err, ErrWriterClosed) {
			return nr, err
		}
	}
	c, err := ReadCommit(r.dir)
	if err != nil {
		return nil, err
	}
	return r.reopen(c)
}

func (r *Reader) reopen(c *Commit) (*Reader, error) {
	owned := make(map[string]*segment, len(r.leaves))
	for _, l := range r.leaves {
		owned[l.seg.name] = l.seg
	}
	segs := make([]*segment, len(c.Segments))
	dels := make([]*roaring.Bitmap, len(c.Segments))
	var g errgroup.Group
	for i, info := range c.Segments {
		g.Go(func() error {
			if seg, ok := owned[info.Name]; ok {
				seg.incRef()
				segs[i] = seg
			} else {
				seg, err := openSegment(r.dir, info.Name)
				if err != nil {
					return err
				}
				segs[i] = seg
			}
			bm, err := readDeletes(r.dir, info.Deletes)
			if err != nil {
				return err
			}
			dels[i] = bm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, seg := range segs {
			if seg != nil {
				seg.decRef()
			}
		}
		return nil, err
	}
	return newReader(r.dir, c, segs, dels), nil
}

// IncRef adds a reference. The reader must not be fully released.
func (r *Reader) IncRef() {
	r.refs.Add(1)
}

// TryIncRef adds a reference unless the reader was already released.
func (r *Reader) TryIncRef() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// RefCount returns the current number of references.
func (r *Reader) RefCount() int { return int(r.refs.Load()) }

// DecRef drops a reference, closing the reader's segments at zero.
func (r *Reader) DecRef() error {
	n := r.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return ErrReaderClosed
	}
	var errs []error
	for _, l := range r.leaves {
		if err := l.seg.decRef(); err != nil {
			errs = append(errs, fmt.Errorf("closing segment %s: %w", l.seg.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close is DecRef.
func (r *Reader) Close() error { return r.DecRef() }

func (r *Reader) resolve(doc int) (leaf, int, bool) {
	if doc < 0 || doc >= r.maxDoc {
		return leaf{}, 0, false
	}
	i := sort.Search(len(r.leaves), func(i int) bool {
		return r.leaves[i].base+r.leaves[i].seg.docCount() > doc
	})
	if i >= len(r.leaves) {
		return leaf{}, 0, false
	}
	l := r.leaves[i]
	return l, doc - l.base, true
}

// Document returns the stored fields of a live document.
func (r *Reader) Document(doc int) ([]StoredField, error) {
	l, local, ok := r.resolve(doc)
	if !ok || !l.live(local) {
		return nil, fmt.Errorf("doc %d: %w", doc, ErrDocDeleted)
	}
	return l.seg.docs[local].Fields, nil
}

// avgFieldLength returns the mean token count of field over documents that
// have it.
func (r *Reader) avgFieldLength(field string) float64 {
	s := r.stats[field]
	if s.docs == 0 {
		return 0
	}
	return float64(s.tokens) / float64(s.docs)
}
