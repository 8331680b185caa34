// Package reservoir implements the content-addressed, schema-partitioned
// Singer message archive (spec.md §4.8) that decouples extraction from
// loading: a Writer drains a tap's output into compressed partitions, a
// Reader replays them into a target later, possibly much later, possibly
// against a different target entirely.
package reservoir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/altorun/alto/internal/alterr"
)

// IndexEntry describes one written partition.
type IndexEntry struct {
	Partition         string `json:"partition"`
	Stream            string `json:"stream"`
	SchemaFingerprint string `json:"schema_fp"`
	RecordCount       int    `json:"record_count"`
	WrittenAt         string `json:"written_at"`
}

// Index is the reservoir's manifest, persisted as "_reservoir.json" at the
// root of a tap's reservoir directory.
type Index struct {
	Partitions []IndexEntry `json:"partitions"`
}

const indexFileName = "_reservoir.json"

func indexPath(root string) string { return filepath.Join(root, indexFileName) }

func loadIndex(root string) (Index, error) {
	data, err := os.ReadFile(indexPath(root))
	if os.IsNotExist(err) {
		return Index{}, nil
	}
	if err != nil {
		return Index{}, alterr.NewStateCorruption(indexPath(root), err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, alterr.NewStateCorruption(indexPath(root), fmt.Errorf("parsing reservoir index: %w", err))
	}
	return idx, nil
}

// dirLocks serializes index writes per reservoir root across every Writer
// instance pointed at the same directory, since two tasks in the same
// Engine run could in principle write to the same tap's reservoir.
var dirLocks sync.Map

func lockFor(root string) *sync.Mutex {
	v, _ := dirLocks.LoadOrStore(root, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// writeIndex persists idx to root via a tmp-file-then-rename swap, the
// true atomic update spec.md §4.8 calls for — safe here because the
// reservoir is always a real local directory, unlike fsx.FS's remote
// drivers which have no rename primitive.
func writeIndex(root string, idx Index) error {
	lock := lockFor(root)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return alterr.NewStateCorruption(indexPath(root), err)
	}
	tmp := indexPath(root) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return alterr.NewStateCorruption(tmp, err)
	}
	if err := os.Rename(tmp, indexPath(root)); err != nil {
		return alterr.NewStateCorruption(indexPath(root), err)
	}
	return nil
}
