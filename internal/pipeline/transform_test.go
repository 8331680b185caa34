package pipeline

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformerRewritesPIIFields(t *testing.T) {
	tr := &Transformer{
		PIIFields: map[string]bool{"orders.email": true},
		Salt:      []byte("project-salt"),
	}
	var out bytes.Buffer
	in := bytes.NewBufferString(`{"type":"RECORD","stream":"orders","record":{"id":1,"email":"a@example.com"}}` + "\n")

	require.NoError(t, tr.Pipe(context.Background(), in, &out))

	assert.NotContains(t, out.String(), "a@example.com")
	assert.Contains(t, out.String(), `"id":1`)
}

func TestTransformerHashIsDeterministic(t *testing.T) {
	tr := &Transformer{Salt: []byte("project-salt")}
	h1 := tr.hashField("a@example.com")
	h2 := tr.hashField("a@example.com")
	assert.Equal(t, h1, h2)

	tr2 := &Transformer{Salt: []byte("different-salt")}
	assert.NotEqual(t, h1, tr2.hashField("a@example.com"))
}

func TestTransformerPassesThroughNonPIIRecords(t *testing.T) {
	tr := &Transformer{PIIFields: map[string]bool{"orders.email": true}}
	var out bytes.Buffer
	in := bytes.NewBufferString(`{"type":"RECORD","stream":"orders","record":{"id":1}}` + "\n")

	require.NoError(t, tr.Pipe(context.Background(), in, &out))
	assert.Contains(t, out.String(), `"id":1`)
}

func TestTransformerPipeForwardsStateLinesWithoutCapturing(t *testing.T) {
	tr := &Transformer{}
	var out bytes.Buffer
	in := bytes.NewBufferString(`{"type":"STATE","value":{"bookmarks":{"orders":"1"}}}` + "\n")

	require.NoError(t, tr.Pipe(context.Background(), in, &out))
	assert.Contains(t, out.String(), `"STATE"`)
	assert.Nil(t, tr.LatestState(), "Pipe (tap stdout) must not capture state; only WatchState (target stdout) does")
}

func TestTransformerWatchStateCapturesLastSnapshot(t *testing.T) {
	tr := &Transformer{}
	in := bytes.NewBufferString(
		`{"type":"STATE","value":{"bookmarks":{"orders":"1"}}}` + "\n" +
			`{"type":"STATE","value":{"bookmarks":{"orders":"2"}}}` + "\n",
	)

	require.NoError(t, tr.WatchState(context.Background(), in))
	bookmarks := tr.LatestState()["bookmarks"].(map[string]any)
	assert.Equal(t, "2", bookmarks["orders"])
}
