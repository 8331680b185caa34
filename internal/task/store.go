package task

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/altorun/alto/internal/alterr"
)

// Store persists every task's Record in a single hidden project-local
// file, written via the same tmp-then-rename discipline as the
// Reservoir's index (spec.md §4.9's "local dot-file TaskRecord
// persistence").
type Store struct {
	path string
	mu   sync.Mutex
	recs map[string]*Record
}

// NewStore opens (or creates) the task record store at
// "<projectRoot>/.alto/tasks.json".
func NewStore(projectRoot string) (*Store, error) {
	path := filepath.Join(projectRoot, ".alto", "tasks.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, alterr.NewStateCorruption(path, err)
	}
	s := &Store{path: path, recs: make(map[string]*Record)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return alterr.NewStateCorruption(s.path, err)
	}
	var recs map[string]*Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return alterr.NewStateCorruption(s.path, err)
	}
	s.recs = recs
	return nil
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.recs, "", "  ")
	if err != nil {
		return alterr.NewStateCorruption(s.path, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return alterr.NewStateCorruption(tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return alterr.NewStateCorruption(s.path, err)
	}
	return nil
}

// Get returns a copy of the record for id, or the zero Record (status
// Pending) if none has ever been persisted.
func (s *Store) Get(id string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recs[id]; ok {
		return *r
	}
	return Record{ID: id, Status: StatusPending}
}

// Put persists rec, overwriting any previous record for the same ID.
func (s *Store) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.recs[rec.ID] = &cp
	return s.persistLocked()
}
