package reservoir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRotatesOnSchemaChange(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.WriteMessage([]byte(`{"type":"SCHEMA","stream":"orders","schema":{"properties":{"id":{"type":"integer"}}}}`)))
	require.NoError(t, w.WriteMessage([]byte(`{"type":"RECORD","stream":"orders","record":{"id":1}}`)))
	require.NoError(t, w.WriteMessage([]byte(`{"type":"RECORD","stream":"orders","record":{"id":2}}`)))
	require.NoError(t, w.WriteMessage([]byte(`{"type":"SCHEMA","stream":"orders","schema":{"properties":{"id":{"type":"integer"},"email":{"type":"string"}}}}`)))
	require.NoError(t, w.WriteMessage([]byte(`{"type":"RECORD","stream":"orders","record":{"id":3,"email":"a@example.com"}}`)))
	require.NoError(t, w.Close())

	assert.Len(t, w.idx.Partitions, 2)
	assert.Equal(t, 2, w.idx.Partitions[0].RecordCount)
	assert.Equal(t, 1, w.idx.Partitions[1].RecordCount)
	assert.NotEqual(t, w.idx.Partitions[0].SchemaFingerprint, w.idx.Partitions[1].SchemaFingerprint)
}

func TestWriterSkipsStateMessages(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage([]byte(`{"type":"STATE","value":{"bookmarks":{}}}`)))
	require.NoError(t, w.Close())
	assert.Empty(t, w.idx.Partitions)
}

func TestReaderReplaysSequentially(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage([]byte(`{"type":"SCHEMA","stream":"orders","schema":{}}`)))
	require.NoError(t, w.WriteMessage([]byte(`{"type":"RECORD","stream":"orders","record":{"id":1}}`)))
	require.NoError(t, w.Close())

	r, err := NewReader(root)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, r.Replay(&out, ReplayOptions{}))

	assert.Contains(t, out.String(), `"SCHEMA"`)
	assert.Contains(t, out.String(), `"id":1`)
}

func TestReaderReplaysIdempotentConcurrently(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage([]byte(`{"type":"SCHEMA","stream":"orders","schema":{}}`)))
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteMessage([]byte(`{"type":"RECORD","stream":"orders","record":{"id":1}}`)))
	}
	require.NoError(t, w.Close())

	r, err := NewReader(root)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, r.Replay(&out, ReplayOptions{Idempotent: true, Concurrency: 4}))
	assert.Contains(t, out.String(), `"RECORD"`)
}
