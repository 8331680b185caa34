package task

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altorun/alto/internal/fsx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGraphTopoSortOrdersDependenciesFirst(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(&Node{ID: "build", Kind: "build"}))
	require.NoError(t, g.AddNode(&Node{ID: "config", Kind: "config", DependsOn: []string{"build"}}))
	require.NoError(t, g.AddNode(&Node{ID: "catalog", Kind: "catalog", DependsOn: []string{"config"}}))

	ids, err := g.Closure("catalog")
	require.NoError(t, err)
	sorted, err := g.TopoSort(ids)
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "config", "catalog"}, sorted)
}

func TestGraphTopoSortDetectsCycle(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(&Node{ID: "a", DependsOn: []string{"b"}}))
	require.NoError(t, g.AddNode(&Node{ID: "b", DependsOn: []string{"a"}}))

	_, err := g.TopoSort([]string{"a", "b"})
	assert.Error(t, err)
}

func TestRegistryPanicsOnDuplicateKind(t *testing.T) {
	r := NewRegistry()
	r.Register("build", ProviderFunc(func(context.Context, *Node, string) error { return nil }))
	assert.Panics(t, func() {
		r.Register("build", ProviderFunc(func(context.Context, *Node, string) error { return nil }))
	})
}

func newTestEngine(t *testing.T) (*Engine, *Graph, *Registry) {
	t.Helper()
	g := NewGraph()
	reg := NewRegistry()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	fs, err := fsx.NewLocal(t.TempDir())
	require.NoError(t, err)
	return NewEngine(g, store, reg, fs, testLogger()), g, reg
}

func TestEngineRunsSequentiallyInDependencyOrder(t *testing.T) {
	e, g, reg := newTestEngine(t)
	var executed []string

	require.NoError(t, g.AddNode(&Node{ID: "build", Kind: "build"}))
	require.NoError(t, g.AddNode(&Node{ID: "config", Kind: "config", DependsOn: []string{"build"}}))

	reg.Register("build", ProviderFunc(func(_ context.Context, n *Node, _ string) error {
		executed = append(executed, n.ID)
		return nil
	}))
	reg.Register("config", ProviderFunc(func(_ context.Context, n *Node, _ string) error {
		executed = append(executed, n.ID)
		return nil
	}))

	require.NoError(t, e.Run(context.Background(), "config", RunOptions{}))
	assert.Equal(t, []string{"build", "config"}, executed)
}

func TestEngineSkipsUpToDateTask(t *testing.T) {
	e, g, reg := newTestEngine(t)
	calls := 0

	require.NoError(t, g.AddNode(&Node{ID: "build", Kind: "build", Scalars: map[string]any{"x": 1}}))
	reg.Register("build", ProviderFunc(func(context.Context, *Node, string) error {
		calls++
		return nil
	}))

	require.NoError(t, e.Run(context.Background(), "build", RunOptions{}))
	require.NoError(t, e.Run(context.Background(), "build", RunOptions{}))
	assert.Equal(t, 1, calls)
}

func TestEngineForceRebuildsIgnoringFingerprint(t *testing.T) {
	e, g, reg := newTestEngine(t)
	calls := 0

	require.NoError(t, g.AddNode(&Node{ID: "build", Kind: "build"}))
	reg.Register("build", ProviderFunc(func(context.Context, *Node, string) error {
		calls++
		return nil
	}))

	require.NoError(t, e.Run(context.Background(), "build", RunOptions{}))
	require.NoError(t, e.Run(context.Background(), "build", RunOptions{Force: true}))
	assert.Equal(t, 2, calls)
}

func TestEngineSkipsDownstreamOnFailure(t *testing.T) {
	e, g, reg := newTestEngine(t)
	var executed []string

	require.NoError(t, g.AddNode(&Node{ID: "build", Kind: "build"}))
	require.NoError(t, g.AddNode(&Node{ID: "config", Kind: "config", DependsOn: []string{"build"}}))

	reg.Register("build", ProviderFunc(func(context.Context, *Node, string) error {
		return assert.AnError
	}))
	reg.Register("config", ProviderFunc(func(_ context.Context, n *Node, _ string) error {
		executed = append(executed, n.ID)
		return nil
	}))

	err := e.Run(context.Background(), "config", RunOptions{})
	require.Error(t, err)
	assert.Empty(t, executed)

	rec := e.Store.Get("config")
	assert.Equal(t, StatusSkipped, rec.Status)
}

func TestEngineRespectsOutputExistenceForSkip(t *testing.T) {
	e, g, reg := newTestEngine(t)
	calls := 0

	outPath := filepath.Join("built", "artifact")
	require.NoError(t, g.AddNode(&Node{ID: "build", Kind: "build", Outputs: []string{outPath}}))
	reg.Register("build", ProviderFunc(func(ctx context.Context, n *Node, _ string) error {
		calls++
		return e.FS.Put(ctx, outPath, []byte("ok"))
	}))

	require.NoError(t, e.Run(context.Background(), "build", RunOptions{}))
	require.NoError(t, e.Run(context.Background(), "build", RunOptions{}))
	assert.Equal(t, 1, calls)
}
