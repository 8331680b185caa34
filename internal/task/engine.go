package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/fingerprint"
	"github.com/altorun/alto/internal/fsx"
)

// RunOptions controls one Engine.Run invocation.
type RunOptions struct {
	// Parallelism bounds how many independent-subgraph nodes run at once.
	// 1 (the default when unset) runs strictly sequentially.
	Parallelism int
	// Force bypasses fingerprint-based skip detection.
	Force bool
}

// Engine executes a task Graph against a Registry of Providers, persisting
// each node's Record to a Store as it runs (spec.md §4.9).
type Engine struct {
	Graph    *Graph
	Store    *Store
	Registry *Registry
	FS       fsx.FS
	Logger   *slog.Logger

	// Now is swappable in tests; defaults to time.Now.
	Now func() time.Time
}

// NewEngine wires a Graph, Store, Registry, and the fsx.FS used to check
// declared outputs for up-to-date skip detection.
func NewEngine(graph *Graph, store *Store, registry *Registry, fs fsx.FS, logger *slog.Logger) *Engine {
	return &Engine{Graph: graph, Store: store, Registry: registry, FS: fs, Logger: logger, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run computes taskID's transitive closure, topologically sorts it, and
// executes every node respecting opts.Parallelism. A failed node marks
// every task that (transitively) depends on it Skipped with a
// "blocked by failed dependency" reason; Run returns the first error,
// wrapped with the failing task's ID.
func (e *Engine) Run(ctx context.Context, taskID string, opts RunOptions) error {
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	ids, err := e.Graph.Closure(taskID)
	if err != nil {
		return err
	}
	sorted, err := e.Graph.TopoSort(ids)
	if err != nil {
		return err
	}

	e.Logger.Info("starting task run", "task", taskID, "nodes", len(sorted), "parallelism", parallelism)

	outcome := newRunState()

	if parallelism == 1 {
		for _, id := range sorted {
			if err := e.runOne(ctx, id, opts, outcome); err != nil {
				outcome.recordError(id, err)
			}
		}
		return outcome.firstError()
	}

	for _, level := range e.Graph.Levels(sorted) {
		var wg sync.WaitGroup
		sem := make(chan struct{}, parallelism)
		for _, id := range level {
			wg.Add(1)
			sem <- struct{}{}
			go func(id string) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := e.runOne(ctx, id, opts, outcome); err != nil {
					outcome.recordError(id, err)
				}
			}(id)
		}
		wg.Wait()
	}
	return outcome.firstError()
}

// runOne executes (or skips) a single node, honoring upstream failures and
// fingerprint-based up-to-date detection.
func (e *Engine) runOne(ctx context.Context, id string, opts RunOptions, outcome *runState) error {
	n, _ := e.Graph.Node(id)

	if blocking, ok := outcome.blockedBy(n.DependsOn); ok {
		rec := e.Store.Get(id)
		rec.ID = id
		if rec.Status == StatusPending {
			if err := rec.transitionTo(StatusSkipped, e.now()); err != nil {
				return err
			}
		}
		rec.Reason = fmt.Sprintf("blocked by failed dependency %s", blocking)
		_ = e.Store.Put(rec)
		outcome.markBlocked(id)
		e.Logger.Warn("skipping task, dependency failed", "task", id, "dependency", blocking)
		return nil
	}

	rec := e.Store.Get(id)
	rec.ID = id

	fp, err := e.fingerprintNode(n)
	if err != nil {
		return err
	}

	if !opts.Force && rec.Status == StatusSucceeded && rec.Fingerprint == fp && e.outputsExist(ctx, n.Outputs) {
		e.Logger.Info("task up to date, skipping", "task", id)
		outcome.markDone(id)
		return nil
	}

	if rec.Status != StatusPending {
		rec = Record{ID: id, Status: StatusPending}
	}
	if err := rec.transitionTo(StatusRunning, e.now()); err != nil {
		return err
	}
	if err := e.Store.Put(rec); err != nil {
		return err
	}

	e.Logger.Info("running task", "task", id, "kind", n.Kind)

	provider, ok := e.Registry.Get(n.Kind)
	if !ok {
		runErr := fmt.Errorf("no provider registered for task kind %q", n.Kind)
		e.finish(&rec, StatusFailed, runErr.Error())
		outcome.markBlocked(id)
		return alterr.NewPipelineFailure(id, runErr)
	}

	runErr := provider.Execute(ctx, n, "")
	if runErr != nil {
		e.finish(&rec, StatusFailed, runErr.Error())
		outcome.markBlocked(id)
		return runErr
	}

	rec.Fingerprint = fp
	e.finish(&rec, StatusSucceeded, "")
	outcome.markDone(id)
	return nil
}

func (e *Engine) finish(rec *Record, status Status, reason string) {
	if err := rec.transitionTo(status, e.now()); err != nil {
		e.Logger.Error("invalid task state transition", "task", rec.ID, "error", err)
	}
	rec.Reason = reason
	if err := e.Store.Put(*rec); err != nil {
		e.Logger.Error("failed to persist task record", "task", rec.ID, "error", err)
	}
}

func (e *Engine) fingerprintNode(n *Node) (string, error) {
	digests := make([]string, 0, len(n.InputFiles))
	for _, f := range n.InputFiles {
		d, err := fingerprint.FileDigest(f)
		if err != nil {
			return "", alterr.NewBuildFailure(n.ID, "", fmt.Errorf("hashing input %s: %w", f, err))
		}
		digests = append(digests, d)
	}
	return fingerprint.TaskFingerprint(fingerprint.TaskInputs{FileDigests: digests, Scalars: n.Scalars}), nil
}

func (e *Engine) outputsExist(ctx context.Context, outputs []string) bool {
	if e.FS == nil {
		return len(outputs) == 0
	}
	for _, o := range outputs {
		ok, err := e.FS.Exists(ctx, o)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// runState tracks per-run bookkeeping: which nodes failed or were blocked
// (so descendants can be marked Skipped) and the first error encountered,
// across however many goroutines a parallel run uses.
type runState struct {
	mu      sync.Mutex
	blocked map[string]bool
	errs    []error
	errIDs  []string
}

func newRunState() *runState {
	return &runState{blocked: make(map[string]bool)}
}

func (r *runState) markBlocked(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[id] = true
}

func (r *runState) markDone(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocked, id)
}

func (r *runState) blockedBy(deps []string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range deps {
		if r.blocked[d] {
			return d, true
		}
	}
	return "", false
}

func (r *runState) recordError(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.errIDs = append(r.errIDs, id)
}

func (r *runState) firstError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("task %s: %w", r.errIDs[0], r.errs[0])
}
