package pipeline

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/state"
)

// maxMessageBytes bounds a single Singer message line; tap records are
// small JSON documents, but bufio.Scanner's default 64KiB line buffer is
// too tight for wide rows, so Transformer uses a larger one.
const maxMessageBytes = 16 * 1024 * 1024

// Transformer sits between a tap's stdout and a target's stdin, rewriting
// PII-marked record fields with a salted HMAC-SHA256 digest (spec.md
// §4.7). It never forwards STATE commits to durable storage itself — the
// last STATE line observed on a stream is only tracked in memory via
// LatestState, and it's the caller's job to decide whether a pipeline's
// exit status warrants persisting it (spec.md §4.6: only on a clean exit).
type Transformer struct {
	PIIFields map[string]bool
	Salt      []byte

	latest state.Snapshot
}

// Pipe copies every newline-delimited message from src (a tap's stdout) to
// dst (a target's stdin), applying PII rewriting to RECORD messages. It
// returns once src reaches EOF.
func (t *Transformer) Pipe(ctx context.Context, src io.Reader, dst io.Writer) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxMessageBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		rewritten, err := t.rewritePII(line)
		if err != nil {
			// Malformed messages are passed through unchanged; PII
			// rewriting is best-effort, not a protocol validator.
			rewritten = line
		}
		if _, err := dst.Write(appendNewline(rewritten)); err != nil {
			return alterr.NewPipelineFailure("transform", fmt.Errorf("writing to target stdin: %w", err))
		}
	}
	if err := scanner.Err(); err != nil {
		return alterr.NewPipelineFailure("transform", fmt.Errorf("reading tap stdout: %w", err))
	}
	return nil
}

// WatchState scans src (a target's stdout) for STATE lines per spec.md
// §4.6, retaining the last one successfully parsed as LatestState. A line
// that fails to parse as STATE is the target's protocol violation, not
// ours to fail the pipeline over, so it's skipped rather than returned as
// an error. It returns once src reaches EOF.
func (t *Transformer) WatchState(ctx context.Context, src io.Reader) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxMessageBytes)

	for scanner.Scan() {
		snap, ok, err := state.ParseLine(scanner.Bytes())
		if err != nil || !ok {
			continue
		}
		t.latest = snap
	}
	if err := scanner.Err(); err != nil {
		return alterr.NewPipelineFailure("transform", fmt.Errorf("reading target stdout: %w", err))
	}
	return nil
}

func appendNewline(line []byte) []byte {
	out := make([]byte, len(line)+1)
	copy(out, line)
	out[len(line)] = '\n'
	return out
}

type recordEnvelope struct {
	Type   string         `json:"type"`
	Stream string         `json:"stream"`
	Record map[string]any `json:"record"`
}

// rewritePII replaces every PII-marked field in a RECORD message's record
// with hashField(value). Non-RECORD messages and RECORD messages with no
// marked fields are returned unchanged (by signaling no rewrite via the
// original bytes).
func (t *Transformer) rewritePII(line []byte) ([]byte, error) {
	if len(t.PIIFields) == 0 {
		return line, nil
	}
	var env recordEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, err
	}
	if env.Type != "RECORD" || env.Record == nil {
		return line, nil
	}

	changed := false
	for field := range env.Record {
		if t.PIIFields[env.Stream+"."+field] {
			env.Record[field] = t.hashField(env.Record[field])
			changed = true
		}
	}
	if !changed {
		return line, nil
	}

	// Re-decode into a generic map so fields outside "record" (e.g.
	// "time_extracted") survive the rewrite untouched.
	var full map[string]any
	if err := json.Unmarshal(line, &full); err != nil {
		return nil, err
	}
	full["record"] = env.Record
	return json.Marshal(full)
}

// hashField returns a stable, deterministic, salted HMAC-SHA256 hex digest
// of v's string form: same input and salt always produce the same output,
// but the digest can't be reversed or matched without the salt.
func (t *Transformer) hashField(v any) string {
	mac := hmac.New(sha256.New, t.Salt)
	mac.Write([]byte(fmt.Sprintf("%v", v)))
	return hex.EncodeToString(mac.Sum(nil))
}

// LatestState returns the most recently observed STATE snapshot, or nil if
// none has passed through yet.
func (t *Transformer) LatestState() state.Snapshot { return t.latest }
