package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altorun/alto/internal/plugin"
)

func sampleCatalog() *Catalog {
	return &Catalog{
		Streams: []*Stream{
			{
				TapStreamID: "orders",
				Schema: map[string]any{
					"properties": map[string]any{
						"id":            map[string]any{"type": "integer"},
						"customer_email": map[string]any{"type": "string"},
					},
				},
			},
			{
				TapStreamID: "internal_audit_log",
				Schema:      map[string]any{"properties": map[string]any{"id": map[string]any{"type": "integer"}}},
			},
		},
	}
}

func TestResolveLongestPrefixWins(t *testing.T) {
	patterns := ParsePatterns([]string{"*", "!internal_*"})
	d := Resolve("internal_audit_log", patterns)
	assert.False(t, d.Selected)

	d2 := Resolve("orders", patterns)
	assert.True(t, d2.Selected)
}

func TestResolvePIIHashMarking(t *testing.T) {
	patterns := ParsePatterns([]string{"orders.*", "~orders.customer_email"})
	d := Resolve("orders.customer_email", patterns)
	assert.True(t, d.Selected)
	assert.True(t, d.PIIHash)

	d2 := Resolve("orders.id", patterns)
	assert.True(t, d2.Selected)
	assert.False(t, d2.PIIHash)
}

func TestBuildRuntimeMarksSelectionAndPII(t *testing.T) {
	base := sampleCatalog()
	rt, err := BuildRuntime(base, []string{"*", "!internal_*", "~orders.customer_email"}, nil)
	require.NoError(t, err)

	orders, ok := rt.StreamByID("orders")
	require.True(t, ok)
	top := orders.streamMetadata()
	assert.Equal(t, true, top.Metadata["selected"])

	audit, ok := rt.StreamByID("internal_audit_log")
	require.True(t, ok)
	assert.Equal(t, false, audit.streamMetadata().Metadata["selected"])

	pii := PIIFields(rt)
	assert.True(t, pii["orders.customer_email"])
	assert.False(t, pii["orders.id"])

	// base must be untouched by the clone-before-mutate discipline.
	assert.Empty(t, base.Streams[0].Metadata)
}

func TestSelectStreamsCanonicalWildcardFieldPattern(t *testing.T) {
	// spec.md §8 scenario 2: select: ["*.*", "!orders.secret_field"] must
	// keep stream "orders" selected; only the field is excluded.
	decisions := SelectStreams(sampleCatalog().Streams, []string{"*.*", "!orders.secret_field"})
	assert.True(t, decisions["orders"].Selected)
	assert.True(t, decisions["internal_audit_log"].Selected)
}

func TestBuildRuntimeCanonicalWildcardFieldPattern(t *testing.T) {
	base := sampleCatalog()
	rt, err := BuildRuntime(base, []string{"*.*", "!orders.secret_field"}, nil)
	require.NoError(t, err)

	orders, ok := rt.StreamByID("orders")
	require.True(t, ok)
	assert.Equal(t, true, orders.streamMetadata().Metadata["selected"])
}

func TestBuildRuntimeAppliesMetadataOverlay(t *testing.T) {
	base := sampleCatalog()
	overlays := []plugin.MetadataOverlay{
		{Pattern: "orders", Overlay: map[string]any{"replication-method": "INCREMENTAL", "replication-key": "id"}},
	}
	rt, err := BuildRuntime(base, []string{"*"}, overlays)
	require.NoError(t, err)

	orders, _ := rt.StreamByID("orders")
	top := orders.streamMetadata()
	assert.Equal(t, "INCREMENTAL", top.Metadata["replication-method"])
	assert.Equal(t, "id", top.Metadata["replication-key"])
}
