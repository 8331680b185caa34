// Package state implements the State Store (spec.md §4.6): durable,
// rotated snapshots of Singer STATE messages keyed by environment and
// tap/target pair, plus the STATE-line parsing the Pipeline Runner uses to
// intercept a target's stdout in flight.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/fsx"
)

// Snapshot is a Singer STATE message's "value" payload: an opaque,
// tap-defined bookmark tree. Alto never interprets its contents, only
// stores and hands it back on the next run.
type Snapshot map[string]any

// Store persists active and historical state snapshots on an fsx.FS.
type Store struct {
	fs fsx.FS
}

// NewStore returns a Store persisting snapshots on fs.
func NewStore(fs fsx.FS) *Store {
	return &Store{fs: fs}
}

// pairName is the "<tap>-to-<target>" stem spec.md §3/§6 mandate for a
// pipeline pairing's state file name.
func pairName(tapName, targetName string) string {
	return tapName + "-to-" + targetName
}

func activePath(env, tapName, targetName string) string {
	return path.Join("state", env, pairName(tapName, targetName)+".json")
}

func historyPath(env, tapName, targetName string, at time.Time) string {
	return path.Join("state", env, fmt.Sprintf("%s.%s.json", pairName(tapName, targetName), at.UTC().Format("20060102150405")))
}

// Load returns the active snapshot for the (env, tap, target) pairing, or
// an empty Snapshot if none has ever been committed.
func (s *Store) Load(ctx context.Context, env, tapName, targetName string) (Snapshot, error) {
	p := activePath(env, tapName, targetName)
	ok, err := s.fs.Exists(ctx, p)
	if err != nil {
		return nil, alterr.NewStateCorruption(p, err)
	}
	if !ok {
		return Snapshot{}, nil
	}
	data, err := s.fs.Get(ctx, p)
	if err != nil {
		return nil, alterr.NewStateCorruption(p, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, alterr.NewStateCorruption(p, fmt.Errorf("parsing active state: %w", err))
	}
	return snap, nil
}

// Commit rotates the current active snapshot (if any) into history, then
// writes snap as the new active snapshot. The two writes are sequenced
// deliberately: a crash between them leaves the prior active snapshot in
// place, which is always safe to resume from, rather than leaving no
// active snapshot at all.
func (s *Store) Commit(ctx context.Context, env, tapName, targetName string, snap Snapshot, now time.Time) error {
	active := activePath(env, tapName, targetName)

	if ok, err := s.fs.Exists(ctx, active); err == nil && ok {
		prior, err := s.fs.Get(ctx, active)
		if err != nil {
			return alterr.NewStateCorruption(active, err)
		}
		hist := historyPath(env, tapName, targetName, now)
		if err := s.fs.Put(ctx, hist, prior); err != nil {
			return alterr.NewStateCorruption(hist, err)
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return alterr.NewStateCorruption(active, fmt.Errorf("encoding state: %w", err))
	}
	if err := s.fs.Put(ctx, active, data); err != nil {
		return alterr.NewStateCorruption(active, err)
	}
	return nil
}

// History returns every historical snapshot path for the (env, tap,
// target) pairing, oldest first.
func (s *Store) History(ctx context.Context, env, tapName, targetName string) ([]string, error) {
	prefix := path.Join("state", env, pairName(tapName, targetName)+".")
	paths, err := s.fs.List(ctx, prefix)
	if err != nil {
		return nil, alterr.NewStateCorruption(prefix, err)
	}
	active := activePath(env, tapName, targetName)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == active || !strings.HasSuffix(p, ".json") {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
