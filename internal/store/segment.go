package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// MagicBytes identifies a valid .fts segment file.
const (
	MagicBytes    uint32 = 0x46545331
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	segmentExt           = ".fts"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic        uint32
	Version      uint32
	TermCount    uint32
	DocCount     uint32
	DictOffset   int64
	DictSize     int64
	PostOffset   int64
	PostSize     int64
	StoredOffset int64
	StoredSize   int64
}

// DictEntry maps a field-qualified term to its postings offset, length and
// document frequency in the segment file.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Posting records the occurrences of one term in one segment-local document.
type Posting struct {
	Doc       int   `json:"d"`
	Frequency int   `json:"f"`
	Positions []int `json:"p,omitempty"`
}

// TermEntry is a term with its postings, sorted by Doc.
type TermEntry struct {
	Term     string
	Postings []Posting
}

// StoredField is a retrievable field value.
type StoredField struct {
	Name  string `json:"n"`
	Value string `json:"v"`
}

// StoredDoc holds a document's stored values and per-field token counts.
type StoredDoc struct {
	Fields  []StoredField  `json:"s,omitempty"`
	Lengths map[string]int `json:"l,omitempty"`
}

type fieldStat struct {
	docs   int
	tokens int64
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// writeSegment creates a segment file named name in dir holding entries and
// docs. It writes to a .tmp file first and renames on success.
func writeSegment(dir, name string, entries []TermEntry, docs []StoredDoc) error {
	if len(docs) == 0 {
		return fmt.Errorf("cannot write empty segment")
	}
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	ok := false
	defer func() {
		f.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	offset := int64(HeaderSize)
	postingsStart := offset
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: offset - postingsStart,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}
	postingsSize := offset - postingsStart

	dictStart := offset
	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	offset += int64(len(dictData))

	storedStart := offset
	storedJSON, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("marshaling stored fields: %w", err)
	}
	storedData := zstdEncoder.EncodeAll(storedJSON, nil)
	if _, err := f.Write(storedData); err != nil {
		return fmt.Errorf("writing stored fields: %w", err)
	}

	checksum := crc32.ChecksumIEEE(dictData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(storedData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(dictStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(postingsSize))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(docs)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(dictStart))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(postingsStart))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(postingsSize))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(storedStart))
	binary.LittleEndian.PutUint64(headerBytes[56:64], uint64(len(storedData)))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	ok = true
	return nil
}

// segment is an open, immutable segment file shared by every reader that
// includes it. The file is closed when the last reference is released.
type segment struct {
	name   string
	file   *os.File
	header SegmentHeader
	dict   []DictEntry
	docs   []StoredDoc
	stats  map[string]fieldStat
	refs   atomic.Int32
}

func openSegment(dir, name string) (*segment, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	seg, err := readSegment(f, name)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment %s: %w", name, err)
	}
	return seg, nil
}

func readSegment(f *os.File, name string) (*segment, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", magic)
	}
	header := SegmentHeader{
		Magic:        magic,
		Version:      binary.LittleEndian.Uint32(headerBytes[4:8]),
		TermCount:    binary.LittleEndian.Uint32(headerBytes[8:12]),
		DocCount:     binary.LittleEndian.Uint32(headerBytes[12:16]),
		DictOffset:   int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictSize:     int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		PostOffset:   int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		PostSize:     int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		StoredOffset: int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
		StoredSize:   int64(binary.LittleEndian.Uint64(headerBytes[56:64])),
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.StoredOffset+header.StoredSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("dictionary checksum mismatch")
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	storedBytes := make([]byte, header.StoredSize)
	if _, err := f.ReadAt(storedBytes, header.StoredOffset); err != nil {
		return nil, fmt.Errorf("reading stored fields: %w", err)
	}
	if crc32.ChecksumIEEE(storedBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, fmt.Errorf("stored fields checksum mismatch")
	}
	storedJSON, err := zstdDecoder.DecodeAll(storedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing stored fields: %w", err)
	}
	var docs []StoredDoc
	if err := json.Unmarshal(storedJSON, &docs); err != nil {
		return nil, fmt.Errorf("parsing stored fields: %w", err)
	}
	if len(docs) != int(header.DocCount) {
		return nil, fmt.Errorf("stored doc count %d does not match header %d", len(docs), header.DocCount)
	}

	stats := make(map[string]fieldStat)
	for _, d := range docs {
		for field, n := range d.Lengths {
			s := stats[field]
			s.docs++
			s.tokens += int64(n)
			stats[field] = s
		}
	}
	seg := &segment{
		name:   name,
		file:   f,
		header: header,
		dict:   dict,
		docs:   docs,
		stats:  stats,
	}
	seg.refs.Store(1)
	return seg, nil
}

// lookup returns the dictionary entry for a field-qualified term.
func (s *segment) lookup(key string) (DictEntry, bool) {
	idx := sort.Search(len(s.dict), func(i int) bool {
		return s.dict[i].Term >= key
	})
	if idx >= len(s.dict) || s.dict[idx].Term != key {
		return DictEntry{}, false
	}
	return s.dict[idx], true
}

func (s *segment) postings(key string) ([]Posting, error) {
	entry, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := s.file.ReadAt(postingsBytes, s.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings []Posting
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

func (s *segment) docCount() int { return int(s.header.DocCount) }

func (s *segment) incRef() { s.refs.Add(1) }

func (s *segment) decRef() error {
	if s.refs.Add(-1) == 0 {
		return s.file.Close()
	}
	return nil
}
