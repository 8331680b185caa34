package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altorun/alto/internal/fsx"
)

func TestStoreLoadEmptyWhenNeverCommitted(t *testing.T) {
	fs, err := fsx.NewLocal(t.TempDir())
	require.NoError(t, err)
	store := NewStore(fs)

	snap, err := store.Load(context.Background(), "dev", "tap-csv", "target-postgres")
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestStoreCommitRotatesPriorToHistory(t *testing.T) {
	fs, err := fsx.NewLocal(t.TempDir())
	require.NoError(t, err)
	store := NewStore(fs)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, "dev", "tap-csv", "target-postgres", Snapshot{"bookmarks": map[string]any{"orders": "1"}}, time.Unix(1000, 0)))
	require.NoError(t, store.Commit(ctx, "dev", "tap-csv", "target-postgres", Snapshot{"bookmarks": map[string]any{"orders": "2"}}, time.Unix(2000, 0)))

	active, err := store.Load(ctx, "dev", "tap-csv", "target-postgres")
	require.NoError(t, err)
	bookmarks := active["bookmarks"].(map[string]any)
	assert.Equal(t, "2", bookmarks["orders"])

	history, err := store.History(ctx, "dev", "tap-csv", "target-postgres")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStoreCommitSeparatesEnvironments(t *testing.T) {
	fs, err := fsx.NewLocal(t.TempDir())
	require.NoError(t, err)
	store := NewStore(fs)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, "dev", "tap-csv", "target-postgres", Snapshot{"bookmarks": map[string]any{"orders": "dev"}}, time.Unix(1000, 0)))
	require.NoError(t, store.Commit(ctx, "prod", "tap-csv", "target-postgres", Snapshot{"bookmarks": map[string]any{"orders": "prod"}}, time.Unix(1000, 0)))

	devState, err := store.Load(ctx, "dev", "tap-csv", "target-postgres")
	require.NoError(t, err)
	prodState, err := store.Load(ctx, "prod", "tap-csv", "target-postgres")
	require.NoError(t, err)

	assert.Equal(t, "dev", devState["bookmarks"].(map[string]any)["orders"])
	assert.Equal(t, "prod", prodState["bookmarks"].(map[string]any)["orders"])
}

func TestParseLineExtractsState(t *testing.T) {
	line := []byte(`{"type":"STATE","value":{"bookmarks":{"orders":"3"}}}`)
	snap, ok, err := ParseLine(line)
	require.NoError(t, err)
	require.True(t, ok)
	bookmarks := snap["bookmarks"].(map[string]any)
	assert.Equal(t, "3", bookmarks["orders"])
}

func TestParseLineIgnoresNonState(t *testing.T) {
	line := []byte(`{"type":"RECORD","stream":"orders","record":{}}`)
	_, ok, err := ParseLine(line)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseLineRejectsMalformedState(t *testing.T) {
	line := []byte(`{"type":"STATE"}`)
	_, _, err := ParseLine(line)
	assert.Error(t, err)
}
