package reservoir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/fingerprint"
)

// Writer drains a tap's Singer message stream into gzip-compressed,
// schema-fingerprint-partitioned files under root.
type Writer struct {
	root string
	idx  Index

	open map[string]*partitionFile // stream -> currently open partition
	fp   map[string]string         // stream -> current schema fingerprint
	seq  map[string]int            // stream -> next partition sequence number
}

type partitionFile struct {
	f   *os.File
	gz  *gzip.Writer
	idx int // index into Writer.idx.Partitions
}

// NewWriter opens (creating if necessary) a reservoir at root, resuming
// its existing index if one is present.
func NewWriter(root string) (*Writer, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating reservoir root %s: %w", root, err)
	}
	idx, err := loadIndex(root)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		root: root,
		idx:  idx,
		open: make(map[string]*partitionFile),
		fp:   make(map[string]string),
		seq:  make(map[string]int),
	}
	for _, e := range idx.Partitions {
		if n := partitionSeqOf(e.Partition); n > w.seq[e.Stream] {
			w.seq[e.Stream] = n
		}
	}
	return w, nil
}

type messageEnvelope struct {
	Type   string         `json:"type"`
	Stream string         `json:"stream"`
	Schema map[string]any `json:"schema"`
}

// WriteMessage appends one newline-delimited Singer message line to the
// appropriate stream partition, rotating to a new partition whenever a
// SCHEMA message changes the stream's fingerprint. STATE messages are not
// archived — state is the State Store's concern, not the Reservoir's.
func (w *Writer) WriteMessage(line []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return alterr.NewPipelineFailure("reservoir-write", fmt.Errorf("parsing message: %w", err))
	}
	if env.Type == "STATE" || env.Stream == "" {
		return nil
	}

	if env.Type == "SCHEMA" {
		fp := fingerprint.TaskFingerprint(fingerprint.TaskInputs{
			Scalars: map[string]any{"stream": env.Stream, "schema": env.Schema},
		})
		if w.fp[env.Stream] != fp {
			if err := w.rotate(env.Stream, fp); err != nil {
				return err
			}
		}
	}

	pf, ok := w.open[env.Stream]
	if !ok {
		if err := w.rotate(env.Stream, w.fp[env.Stream]); err != nil {
			return err
		}
		pf = w.open[env.Stream]
	}

	if _, err := pf.gz.Write(line); err != nil {
		return alterr.NewPipelineFailure("reservoir-write", err)
	}
	if _, err := pf.gz.Write([]byte("\n")); err != nil {
		return alterr.NewPipelineFailure("reservoir-write", err)
	}
	if env.Type == "RECORD" {
		w.idx.Partitions[pf.idx].RecordCount++
	}
	return nil
}

func partitionSeqOf(rel string) int {
	var n int
	_, _ = fmt.Sscanf(filepath.Base(rel), "%06d.jsonl.gz", &n)
	return n
}

// rotate closes the stream's current partition (if any) and opens a new
// one under the given schema fingerprint.
func (w *Writer) rotate(stream, schemaFP string) error {
	if pf, ok := w.open[stream]; ok {
		if err := closePartition(pf); err != nil {
			return err
		}
		delete(w.open, stream)
	}

	w.seq[stream]++
	rel := filepath.ToSlash(filepath.Join(stream, fmt.Sprintf("%06d.jsonl.gz", w.seq[stream])))
	full := filepath.Join(w.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return alterr.NewPipelineFailure("reservoir-write", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return alterr.NewPipelineFailure("reservoir-write", err)
	}

	w.idx.Partitions = append(w.idx.Partitions, IndexEntry{
		Partition:         rel,
		Stream:            stream,
		SchemaFingerprint: schemaFP,
		WrittenAt:         time.Now().UTC().Format(time.RFC3339),
	})
	w.fp[stream] = schemaFP
	w.open[stream] = &partitionFile{f: f, gz: gzip.NewWriter(f), idx: len(w.idx.Partitions) - 1}

	return writeIndex(w.root, w.idx)
}

func closePartition(pf *partitionFile) error {
	if err := pf.gz.Close(); err != nil {
		return err
	}
	return pf.f.Close()
}

// Close flushes every open partition and persists a final index.
func (w *Writer) Close() error {
	for stream, pf := range w.open {
		if err := closePartition(pf); err != nil {
			return alterr.NewPipelineFailure("reservoir-close", err)
		}
		delete(w.open, stream)
	}
	return writeIndex(w.root, w.idx)
}
