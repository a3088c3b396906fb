package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
)

func writeDeletes(dir, name string, bm *roaring.Bitmap) error {
	bm.RunOptimize()
	data, err := bm.ToBytes()
	if err != nil {
		return fmt.Errorf("encoding deletes %s: %w", name, err)
	}
	return writeFileAtomic(filepath.Join(dir, name), data)
}

// readDeletes loads a deletion bitmap. An empty name yields an empty bitmap.
func readDeletes(dir, name string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if name == "" {
		return bm, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading deletes %s: %w", name, err)
	}
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decoding deletes %s: %w", name, err)
	}
	return bm, nil
}
