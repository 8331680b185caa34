package providers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altorun/alto/internal/artifact"
	"github.com/altorun/alto/internal/plugin"
	"github.com/altorun/alto/internal/task"
)

type fakeBuilder struct{ calls int }

func (f *fakeBuilder) Build(_ context.Context, _ *plugin.Spec, destDir string) error {
	f.calls++
	return os.WriteFile(filepath.Join(destDir, "tap-fake"), []byte("#!/bin/sh\n"), 0o755)
}

func newTestDeps(t *testing.T) (*Deps, *plugin.Registry) {
	t.Helper()
	specs, err := plugin.NewRegistry(context.Background(), []*plugin.Spec{
		{Name: "tap-fake", Kind: plugin.KindTap, InstallURL: "pip+tap-fake", Executable: "tap-fake", Config: map[string]any{"x": 1}},
	})
	require.NoError(t, err)

	cacheRoot := t.TempDir()
	cache, err := artifact.NewCache(cacheRoot, nil, &fakeBuilder{})
	require.NoError(t, err)

	return &Deps{Specs: specs, Cache: cache, CacheRoot: cacheRoot}, specs
}

func TestConfigWritesProjectedTree(t *testing.T) {
	d, _ := newTestDeps(t)
	staging := t.TempDir()
	n := &task.Node{ID: "config:tap-fake", Scalars: map[string]any{"plugin": "tap-fake"}}

	require.NoError(t, d.Config(context.Background(), n, staging))

	data, err := os.ReadFile(filepath.Join(staging, "config.json"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, float64(1), got["x"])
}

func TestBuildInvokesCacheOnce(t *testing.T) {
	d, _ := newTestDeps(t)
	builder := &fakeBuilder{}
	cache, err := artifact.NewCache(d.CacheRoot, nil, builder)
	require.NoError(t, err)
	d.Cache = cache
	n := &task.Node{ID: "build:tap-fake", Scalars: map[string]any{"plugin": "tap-fake"}}

	require.NoError(t, d.Build(context.Background(), n, t.TempDir()))
	require.NoError(t, d.Build(context.Background(), n, t.TempDir()))
	assert.Equal(t, 1, builder.calls)
}

func TestCleanAllRemovesPluginCacheDir(t *testing.T) {
	d, _ := newTestDeps(t)
	n := &task.Node{ID: "build:tap-fake", Scalars: map[string]any{"plugin": "tap-fake"}}
	require.NoError(t, d.Build(context.Background(), n, t.TempDir()))

	pluginsDir := filepath.Join(d.CacheRoot, "plugins")
	entries, err := os.ReadDir(pluginsDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	cleanNode := &task.Node{ID: "clean:all", Scalars: map[string]any{"scope": "all"}}
	require.NoError(t, d.Clean(context.Background(), cleanNode, ""))

	_, err = os.ReadDir(pluginsDir)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestRegisterAllWiresEveryTaskKind(t *testing.T) {
	d, _ := newTestDeps(t)
	reg := task.NewRegistry()
	RegisterAll(reg, d)

	for _, kind := range []string{"build", "config", "catalog", "apply", "pipeline", "reservoir-write", "reservoir-replay", "test", "about", "clean"} {
		_, ok := reg.Get(kind)
		assert.True(t, ok, "expected provider registered for kind %q", kind)
	}
}
