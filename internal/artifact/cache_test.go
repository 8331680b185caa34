package artifact

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altorun/alto/internal/plugin"
)

type countingBuilder struct {
	calls atomic.Int32
}

func (b *countingBuilder) Build(_ context.Context, spec *plugin.Spec, destDir string) error {
	b.calls.Add(1)
	return os.WriteFile(filepath.Join(destDir, spec.ExecutableOrName()), []byte("#!/bin/sh\necho ok\n"), 0o755)
}

func TestGetOrBuildBuildsOnceThenHitsLocal(t *testing.T) {
	builder := &countingBuilder{}
	cache, err := NewCache(t.TempDir(), nil, builder)
	require.NoError(t, err)

	spec := &plugin.Spec{Name: "tap-csv", InstallURL: "pip+tap-csv"}
	ctx := context.Background()

	dir1, err := cache.GetOrBuild(ctx, spec)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir1, "tap-csv"))
	assert.EqualValues(t, 1, builder.calls.Load())

	dir2, err := cache.GetOrBuild(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)
	assert.EqualValues(t, 1, builder.calls.Load(), "second call must not rebuild")
}

// remoteStub is a minimal in-memory fsx.FS used to exercise remote
// promotion and fetch without a real object store.
type remoteStub struct {
	objects map[string][]byte
}

func newRemoteStub() *remoteStub { return &remoteStub{objects: make(map[string][]byte)} }

func (r *remoteStub) Exists(_ context.Context, path string) (bool, error) {
	_, ok := r.objects[path]
	return ok, nil
}

func (r *remoteStub) Get(_ context.Context, path string) ([]byte, error) {
	return r.objects[path], nil
}

func (r *remoteStub) Put(_ context.Context, path string, data []byte) error {
	r.objects[path] = append([]byte(nil), data...)
	return nil
}

func (r *remoteStub) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for k := range r.objects {
		out = append(out, k)
	}
	return out, nil
}

func (r *remoteStub) Remove(_ context.Context, path string) error {
	delete(r.objects, path)
	return nil
}

func (r *remoteStub) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.objects[path])), nil
}

func (r *remoteStub) OpenWrite(_ context.Context, path string) (io.WriteCloser, error) {
	return &bufWriteCloser{stub: r, path: path}, nil
}

func (r *remoteStub) MTime(_ context.Context, path string) (time.Time, error) {
	return time.Now(), nil
}

type bufWriteCloser struct {
	stub *remoteStub
	path string
	buf  bytes.Buffer
}

func (w *bufWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *bufWriteCloser) Close() error {
	w.stub.objects[w.path] = w.buf.Bytes()
	return nil
}

func TestGetOrBuildPromotesToRemoteThenHitsIt(t *testing.T) {
	builder := &countingBuilder{}
	remote := newRemoteStub()
	cache, err := NewCache(t.TempDir(), remote, builder)
	require.NoError(t, err)

	spec := &plugin.Spec{Name: "tap-csv", InstallURL: "pip+tap-csv"}
	ctx := context.Background()

	_, err = cache.GetOrBuild(ctx, spec)
	require.NoError(t, err)
	assert.EqualValues(t, 1, builder.calls.Load())
	assert.NotEmpty(t, remote.objects)

	// A fresh cache rooted elsewhere, sharing the same remote, must fetch
	// rather than rebuild.
	builder2 := &countingBuilder{}
	cache2, err := NewCache(t.TempDir(), remote, builder2)
	require.NoError(t, err)
	dir, err := cache2.GetOrBuild(ctx, spec)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "tap-csv"))
	assert.EqualValues(t, 0, builder2.calls.Load(), "remote hit must not invoke the builder")
}
