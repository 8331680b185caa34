package fsx

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := fs.Exists(ctx, "catalogs/tap-x.base.json")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fs.Put(ctx, "catalogs/tap-x.base.json", []byte(`{"streams":[]}`)))

	ok, err = fs.Exists(ctx, "catalogs/tap-x.base.json")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := fs.Get(ctx, "catalogs/tap-x.base.json")
	require.NoError(t, err)
	assert.Equal(t, `{"streams":[]}`, string(data))

	paths, err := fs.List(ctx, "catalogs/")
	require.NoError(t, err)
	assert.Contains(t, paths, "catalogs/tap-x.base.json")

	require.NoError(t, fs.Remove(ctx, "catalogs/tap-x.base.json"))
	ok, err = fs.Exists(ctx, "catalogs/tap-x.base.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalOpenWriteRead(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	w, err := fs.OpenWrite(ctx, "plugins/abc123")
	require.NoError(t, err)
	_, err = w.Write([]byte("binary-artifact"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := fs.OpenRead(ctx, "plugins/abc123")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "binary-artifact", string(data))
}

func TestLocalRejectsPathEscape(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.Get(ctx, "../../../etc/passwd")
	assert.Error(t, err)
}
