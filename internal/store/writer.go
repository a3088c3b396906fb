package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
)

// Options configures a Writer.
type Options struct {
	// Analyzer tokenizes tokenized fields. Defaults to analysis.Simple.
	Analyzer analysis.Analyzer
	// BeforePublish runs once the files of a new commit are durable and
	// before CURRENT is switched to it. A non-nil error aborts the commit.
	BeforePublish func(c *Commit) error
}

// Writer is the single mutator of an index location. Changes are staged in
// a Txn and become visible to new readers only when the Txn commits.
type Writer struct {
	dir      string
	analyzer analysis.Analyzer
	opts     Options
	lock     *flock.Flock
	logger   *slog.Logger

	txMu sync.Mutex

	mu      sync.RWMutex
	commit  *Commit
	segs    map[string]*segment
	deletes map[string]*roaring.Bitmap

	generation atomic.Uint64
	closed     atomic.Bool
}

// OpenWriter opens the index at dir for writing, creating the directory if
// needed. It fails with ErrLocked when another writer holds the location.
func OpenWriter(dir string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring write lock: %w", err)
	}
	if !acquired {
		return nil, ErrLocked
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analysis.Simple{}
	}
	w := &Writer{
		dir:      dir,
		analyzer: opts.Analyzer,
		opts:     opts,
		lock:     lock,
		logger:   slog.Default().With("component", "index-writer", "location", dir),
		segs:     make(map[string]*segment),
		deletes:  make(map[string]*roaring.Bitmap),
	}
	if err := w.load(); err != nil {
		w.releaseSegments()
		lock.Unlock()
		return nil, err
	}
	w.removeUnreferenced()
	w.logger.Info("index writer opened",
		"generation", w.commit.Generation,
		"segments", len(w.commit.Segments),
		"docs", w.commit.NumDocs(),
	)
	return w, nil
}

func (w *Writer) load() error {
	c, err := ReadCommit(w.dir)
	if err != nil {
		return fmt.Errorf("loading commit: %w", err)
	}
	segs, dels, err := openLeaves(w.dir, c.Segments)
	if err != nil {
		return err
	}
	for i, info := range c.Segments {
		w.segs[info.Name] = segs[i]
		w.deletes[info.Name] = dels[i]
	}
	w.commit = c
	w.generation.Store(c.Generation)
	return nil
}

// openLeaves opens the given segments and their deletion bitmaps in
// parallel. On failure every segment already opened is released.
func openLeaves(dir string, infos []SegmentInfo) ([]*segment, []*roaring.Bitmap, error) {
	segs := make([]*segment, len(infos))
	dels := make([]*roaring.Bitmap, len(infos))
	var g errgroup.Group
	for i, info := range infos {
		g.Go(func() error {
			seg, err := openSegment(dir, info.Name)
			if err != nil {
				return err
			}
			segs[i] = seg
			bm, err := readDeletes(dir, info.Deletes)
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
		return nil, nil, err
	}
	return segs, dels, nil
}

// Dir returns the index location.
func (w *Writer) Dir() string { return w.dir }

// Analyzer returns the analyzer used for tokenized fields.
func (w *Writer) Analyzer() analysis.Analyzer { return w.analyzer }

// Generation returns the generation of the last successful commit.
func (w *Writer) Generation() uint64 { return w.generation.Load() }

// IsOpen reports whether the writer can still accept transactions.
func (w *Writer) IsOpen() bool { return !w.closed.Load() }

// NumDocs returns the number of live documents as of the last commit.
func (w *Writer) NumDocs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.commit.NumDocs()
}

// Begin starts a transaction, blocking while another one is in progress.
func (w *Writer) Begin() (*Txn, error) {
	w.txMu.Lock()
	if w.closed.Load() {
		w.txMu.Unlock()
		return nil, ErrWriterClosed
	}
	return &Txn{w: w}, nil
}

// Close releases the write lock. Readers opened from the writer stay usable.
func (w *Writer) Close() error {
	w.txMu.Lock()
	defer w.txMu.Unlock()
	if w.closed.Swap(true) {
		return nil
	}
	w.mu.Lock()
	errs := w.releaseSegments()
	w.mu.Unlock()
	if err := w.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("releasing write lock: %w", err))
	}
	w.logger.Info("index writer closed", "generation", w.Generation())
	return errors.Join(errs...)
}

func (w *Writer) releaseSegments() []error {
	var errs []error
	for name, seg := range w.segs {
		if err := seg.decRef(); err != nil {
			errs = append(errs, fmt.Errorf("closing segment %s: %w", name, err))
		}
	}
	w.segs = make(map[string]*segment)
	return errs
}

// snapshot returns the current commit with its segments, each carrying an
// extra reference owned by the caller.
func (w *Writer) snapshot() (*Commit, []*segment, []*roaring.Bitmap, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed.Load() {
		return nil, nil, nil, ErrWriterClosed
	}
	segs := make([]*segment, len(w.commit.Segments))
	dels := make([]*roaring.Bitmap, len(w.commit.Segments))
	for i, info := range w.commit.Segments {
		seg := w.segs[info.Name]
		seg.incRef()
		segs[i] = seg
		dels[i] = w.deletes[info.Name]
	}
	return w.commit, segs, dels, nil
}

// apply turns the staged operations of a transaction into a new commit.
// When nothing changes the current generation is returned untouched.
func (w *Writer) apply(ops []op) (uint64, error) {
	w.mu.RLock()
	cur := w.commit
	w.mu.RUnlock()

	changed := make(map[string]*roaring.Bitmap)
	var added []*pendingDoc
	var alive []bool

	for _, o := range ops {
		for _, conj := range o.deletes {
			for _, info := range cur.Segments {
				if err := w.deleteMatching(info.Name, conj, changed); err != nil {
					return 0, err
				}
			}
			for i, pd := range added {
				if alive[i] && pd.matches(conj) {
					alive[i] = false
				}
			}
		}
		if o.doc != nil {
			added = append(added, o.doc)
			alive = append(alive, true)
		}
	}

	survivors := added[:0:0]
	for i, pd := range added {
		if alive[i] {
			survivors = append(survivors, pd)
		}
	}
	if len(survivors) == 0 && len(changed) == 0 {
		return cur.Generation, nil
	}

	gen := cur.Generation + 1
	next := &Commit{
		Version:     ManifestVersion,
		Generation:  gen,
		CreatedAt:   time.Now().UTC(),
		NextSegment: cur.NextSegment,
	}
	var created []string
	var newSeg *segment
	fail := func(err error) (uint64, error) {
		if newSeg != nil {
			newSeg.decRef()
		}
		for _, name := range created {
			if rmErr := os.Remove(filepath.Join(w.dir, name)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				w.logger.Warn("failed to remove file of aborted commit", "file", name, "error", rmErr)
			}
		}
		return 0, err
	}

	var dropped []string
	for _, info := range cur.Segments {
		bm, ok := changed[info.Name]
		if !ok {
			next.Segments = append(next.Segments, info)
			continue
		}
		info.DelCount = int(bm.GetCardinality())
		if info.DelCount >= info.DocCount {
			dropped = append(dropped, info.Name)
			continue
		}
		info.Deletes = deletesFileName(info.Name, gen)
		if err := writeDeletes(w.dir, info.Deletes, bm); err != nil {
			return fail(err)
		}
		created = append(created, info.Deletes)
		next.Segments = append(next.Segments, info)
	}

	if len(survivors) > 0 {
		name := segmentFileName(next.NextSegment)
		next.NextSegment++
		entries, stored := buildSegment(survivors)
		if err := writeSegment(w.dir, name, entries, stored); err != nil {
			return fail(fmt.Errorf("writing segment %s: %w", name, err))
		}
		created = append(created, name)
		seg, err := openSegment(w.dir, name)
		if err != nil {
			return fail(err)
		}
		newSeg = seg
		next.Segments = append(next.Segments, SegmentInfo{Name: name, DocCount: len(survivors)})
	}

	commitName, err := writeCommit(w.dir, next)
	if err != nil {
		return fail(err)
	}
	created = append(created, commitName)
	if w.opts.BeforePublish != nil {
		if err := w.opts.BeforePublish(next); err != nil {
			return fail(fmt.Errorf("before publish: %w", err))
		}
	}
	if err := publishCommit(w.dir, commitName); err != nil {
		return fail(err)
	}

	w.mu.Lock()
	for name, bm := range changed {
		w.deletes[name] = bm
	}
	for _, name := range dropped {
		if seg, ok := w.segs[name]; ok {
			seg.decRef()
			delete(w.segs, name)
		}
		delete(w.deletes, name)
	}
	if newSeg != nil {
		w.segs[newSeg.name] = newSeg
		w.deletes[newSeg.name] = roaring.New()
	}
	w.commit = next
	w.generation.Store(gen)
	w.mu.Unlock()

	w.logger.Debug("commit published",
		"generation", gen,
		"added", len(survivors),
		"segments", len(next.Segments),
		"docs", next.NumDocs(),
	)
	w.removeUnreferenced()
	return gen, nil
}

// deleteMatching marks every live document of the segment holding all terms
// of conj in the segment's pending bitmap.
func (w *Writer) deleteMatching(segName string, conj []Term, changed map[string]*roaring.Bitmap) error {
	if len(conj) == 0 {
		return nil
	}
	w.mu.RLock()
	seg := w.segs[segName]
	base := w.deletes[segName]
	w.mu.RUnlock()

	var docs *roaring.Bitmap
	for _, t := range conj {
		postings, err := seg.postings(t.key())
		if err != nil {
			return fmt.Errorf("segment %s: %w", segName, err)
		}
		bm := roaring.New()
		for _, p := range postings {
			bm.Add(uint32(p.Doc))
		}
		if docs == nil {
			docs = bm
		} else {
			docs.And(bm)
		}
		if docs.IsEmpty() {
			return nil
		}
	}

	bm, ok := changed[segName]
	if !ok {
		bm = base.Clone()
	}
	before := bm.GetCardinality()
	bm.Or(docs)
	if bm.GetCardinality() != before {
		changed[segName] = bm
	}
	return nil
}

// removeUnreferenced deletes files of this location not referenced by the
// current commit. Failures are only logged.
func (w *Writer) removeUnreferenced() {
	w.mu.RLock()
	keep := map[string]bool{
		CurrentFileName: true,
		LockFileName:    true,
	}
	if w.commit.Generation > 0 {
		keep[commitFileName(w.commit.Generation)] = true
	}
	for _, info := range w.commit.Segments {
		keep[info.Name] = true
		if info.Deletes != "" {
			keep[info.Deletes] = true
		}
	}
	w.mu.RUnlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to list index directory", "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || keep[name] || !ownedFile(name) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			w.logger.Warn("failed to remove obsolete index file", "file", name, "error", err)
			continue
		}
		w.logger.Debug("removed obsolete index file", "file", name)
	}
}

func ownedFile(name string) bool {
	name = strings.TrimSuffix(name, ".tmp")
	switch {
	case strings.HasPrefix(name, "seg_") && strings.HasSuffix(name, segmentExt):
		return true
	case strings.HasPrefix(name, "del_") && strings.HasSuffix(name, ".roar"):
		return true
	case strings.HasPrefix(name, CommitFilePrefix+"-") && strings.HasSuffix(name, ".json"):
		return true
	case name == CurrentFileName:
		return true
	}
	return false
}
