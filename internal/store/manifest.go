package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	CommitFilePrefix = "COMMIT"
	CurrentFileName  = "CURRENT"
	LockFileName     = "write.lock"
	// ManifestVersion is the version of the commit manifest format.
	ManifestVersion = 1
)

// SegmentInfo describes one live segment of a commit.
type SegmentInfo struct {
	Name     string `json:"name"`
	DocCount int    `json:"doc_count"`
	// Deletes names the roaring bitmap of deleted documents, if any.
	Deletes  string `json:"deletes,omitempty"`
	DelCount int    `json:"del_count,omitempty"`
}

// Commit describes the index at one generation. Generation 0 is the empty
// index that exists before the first commit.
type Commit struct {
	Version     int           `json:"version"`
	Generation  uint64        `json:"generation"`
	CreatedAt   time.Time     `json:"created_at"`
	NextSegment uint64        `json:"next_segment"`
	Segments    []SegmentInfo `json:"segments"`
}

// NumDocs returns the number of live documents in the commit.
func (c *Commit) NumDocs() int {
	n := 0
	for _, s := range c.Segments {
		n += s.DocCount - s.DelCount
	}
	return n
}

func (c *Commit) segment(name string) (SegmentInfo, bool) {
	for _, s := range c.Segments {
		if s.Name == name {
			return s, true
		}
	}
	return SegmentInfo{}, false
}

func commitFileName(gen uint64) string {
	return fmt.Sprintf("%s-%06d.json", CommitFilePrefix, gen)
}

func segmentFileName(seq uint64) string {
	return fmt.Sprintf("seg_%06d%s", seq, segmentExt)
}

func deletesFileName(segName string, gen uint64) string {
	return fmt.Sprintf("del_%s_%06d.roar", strings.TrimSuffix(segName, segmentExt), gen)
}

// ReadCommit loads the commit CURRENT points at. A directory without CURRENT
// holds the empty generation-0 index.
func ReadCommit(dir string) (*Commit, error) {
	content, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Commit{Version: ManifestVersion}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", CurrentFileName, err)
	}
	name := strings.TrimSpace(string(content))
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", name, err)
	}
	c := &Commit{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing commit %s: %w", name, err)
	}
	if c.Version != ManifestVersion {
		return nil, fmt.Errorf("commit %s: unsupported manifest version %d", name, c.Version)
	}
	return c, nil
}

// writeCommit stores c as COMMIT-<gen>.json. It does not switch CURRENT.
func writeCommit(dir string, c *Commit) (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling commit: %w", err)
	}
	name := commitFileName(c.Generation)
	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return "", err
	}
	return name, nil
}

// publishCommit atomically points CURRENT at the named commit file.
func publishCommit(dir, name string) error {
	return writeFileAtomic(filepath.Join(dir, CurrentFileName), []byte(name))
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(tmp), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(tmp), err)
	}
	return nil
}
