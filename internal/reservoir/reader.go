package reservoir

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/altorun/alto/internal/alterr"
)

// Reader replays a reservoir's archived partitions into a sink such as a
// target's stdin.
type Reader struct {
	root string
	idx  Index
}

// NewReader opens root's existing index for replay.
func NewReader(root string) (*Reader, error) {
	idx, err := loadIndex(root)
	if err != nil {
		return nil, err
	}
	return &Reader{root: root, idx: idx}, nil
}

// Partitions returns the reservoir's partition index, in write-time order.
func (r *Reader) Partitions() []IndexEntry { return r.idx.Partitions }

// ReplayOptions controls how Reader.Replay orders and parallelizes
// partition replay.
type ReplayOptions struct {
	// Idempotent, when true, allows partitions sharing a schema
	// fingerprint to decompress concurrently (bounded by Concurrency) —
	// safe only when the target tolerates replayed/reordered records.
	Idempotent  bool
	Concurrency int
}

// Replay writes every partition's decompressed content to dst. Without
// opts.Idempotent, partitions are processed strictly sequentially in
// write-time order. With it, partitions are replayed one schema_fp group at
// a time (groups in first-seen order); within a group they are decompressed
// across a bounded worker pool and written in the order they finish (writes
// to dst are still serialized, so no two partitions' bytes interleave).
func (r *Reader) Replay(dst io.Writer, opts ReplayOptions) error {
	if !opts.Idempotent {
		for _, e := range r.idx.Partitions {
			if err := r.writePartition(dst, e); err != nil {
				return err
			}
		}
		return nil
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	groups := groupBySchema(r.idx.Partitions)
	var writeMu sync.Mutex
	for _, group := range groups {
		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup
		errCh := make(chan error, len(group))

		for _, e := range group {
			wg.Add(1)
			sem <- struct{}{}
			go func(e IndexEntry) {
				defer wg.Done()
				defer func() { <-sem }()
				data, err := decompressPartition(r.root, e)
				if err != nil {
					errCh <- err
					return
				}
				writeMu.Lock()
				_, err = dst.Write(data)
				writeMu.Unlock()
				if err != nil {
					errCh <- alterr.NewPipelineFailure("reservoir-replay", err)
				}
			}(e)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reader) writePartition(dst io.Writer, e IndexEntry) error {
	data, err := decompressPartition(r.root, e)
	if err != nil {
		return err
	}
	if _, err := dst.Write(data); err != nil {
		return alterr.NewPipelineFailure("reservoir-replay", err)
	}
	return nil
}

func decompressPartition(root string, e IndexEntry) ([]byte, error) {
	full := filepath.Join(root, filepath.FromSlash(e.Partition))
	f, err := os.Open(full)
	if err != nil {
		return nil, alterr.NewPipelineFailure("reservoir-replay", fmt.Errorf("opening partition %s: %w", e.Partition, err))
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, alterr.NewPipelineFailure("reservoir-replay", fmt.Errorf("decompressing partition %s: %w", e.Partition, err))
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, alterr.NewPipelineFailure("reservoir-replay", fmt.Errorf("reading partition %s: %w", e.Partition, err))
	}
	return data, nil
}

// groupBySchema splits partitions into ordered groups sharing the same
// schema_fp, preserving each group's internal write-time order; groups
// themselves are returned in first-seen order. Replay keeps the group
// order; within a group its parallel writes follow completion order.
func groupBySchema(partitions []IndexEntry) [][]IndexEntry {
	order := make([]string, 0)
	byFP := make(map[string][]IndexEntry)
	for _, e := range partitions {
		if _, ok := byFP[e.SchemaFingerprint]; !ok {
			order = append(order, e.SchemaFingerprint)
		}
		byFP[e.SchemaFingerprint] = append(byFP[e.SchemaFingerprint], e)
	}
	groups := make([][]IndexEntry, 0, len(order))
	for _, fp := range order {
		groups = append(groups, byFP[fp])
	}
	return groups
}
