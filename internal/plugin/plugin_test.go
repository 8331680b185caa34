package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSpecRoundTrip(t *testing.T) {
	raw := ConfigTree{
		"install_url": "pip+https://pypi.org/project/tap-csv",
		"capabilities": []any{"catalog", "state"},
		"config": ConfigTree{
			"path": "/data/in",
		},
	}
	s, err := DecodeSpec("tap-csv", KindTap, raw)
	require.NoError(t, err)
	assert.Equal(t, "tap-csv", s.Name)
	assert.True(t, s.Has(CapCatalog))
	assert.True(t, s.Has(CapState))
	assert.False(t, s.Has(CapAbout))
	assert.Equal(t, "/data/in", s.Config["path"])
	assert.Equal(t, "tap-csv", s.ExecutableOrName())
}

func TestRegistryResolveInheritance(t *testing.T) {
	base := &Spec{Name: "tap-base", Kind: KindTap, InstallURL: "pip+tap-base", Config: ConfigTree{"start_date": "2020-01-01"}}
	child := &Spec{Name: "tap-child", Kind: KindTap, InstallURL: "pip+tap-base", InheritFrom: "tap-base", Config: ConfigTree{"path": "/override"}}
	reg, err := NewRegistry(context.Background(), []*Spec{base, child})
	require.NoError(t, err)

	resolved, err := reg.Resolve("tap-child")
	require.NoError(t, err)
	assert.Equal(t, "pip+tap-base", resolved.InstallURL)
	assert.Equal(t, "2020-01-01", resolved.Config["start_date"])
	assert.Equal(t, "/override", resolved.Config["path"])
}

func TestRegistryDetectsInheritCycle(t *testing.T) {
	// NoInheritCycle now catches this at registration time (via Add),
	// before Resolve ever runs.
	a := &Spec{Name: "a", Kind: KindTap, InstallURL: "pip+a", InheritFrom: "b"}
	b := &Spec{Name: "b", Kind: KindTap, InstallURL: "pip+b", InheritFrom: "a"}
	_, err := NewRegistry(context.Background(), []*Spec{a, b})
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	a := &Spec{Name: "tap-x", Kind: KindTap, InstallURL: "pip+tap-x"}
	b := &Spec{Name: "tap-x", Kind: KindTap, InstallURL: "pip+tap-x"}
	_, err := NewRegistry(context.Background(), []*Spec{a, b})
	assert.Error(t, err)
}

func TestMergeEnvironmentsOverlaysDefault(t *testing.T) {
	layers := map[string]ConfigTree{
		"default": {
			"taps": ConfigTree{
				"tap-x": ConfigTree{"config": ConfigTree{"start_date": "2020-01-01"}},
			},
		},
		"prod": {
			"taps": ConfigTree{
				"tap-x": ConfigTree{"config": ConfigTree{"api_key": "secret"}},
			},
		},
	}
	merged, err := MergeEnvironments(layers, "prod")
	require.NoError(t, err)

	taps := merged["taps"].(ConfigTree)
	tapX := taps["tap-x"].(ConfigTree)
	cfg := tapX["config"].(ConfigTree)
	assert.Equal(t, "2020-01-01", cfg["start_date"])
	assert.Equal(t, "secret", cfg["api_key"])
}

func TestProjectPipelineAppliesAccent(t *testing.T) {
	tapSpec := &Spec{
		Name: "tap-x", Kind: KindTap, InstallURL: "pip+tap-x",
		Accents: map[string]ConfigTree{
			"target-y": {"schema": "tap_x_override"},
		},
	}
	targetSpec := &Spec{Name: "target-y", Kind: KindTarget, InstallURL: "pip+target-y", Config: ConfigTree{"schema": "public"}}
	reg, err := NewRegistry(context.Background(), []*Spec{tapSpec, targetSpec})
	require.NoError(t, err)

	tapInv, targetInv, err := ProjectPipeline(reg, "tap-x", "target-y")
	require.NoError(t, err)
	assert.Equal(t, "tap-x", tapInv.Executable)
	assert.Equal(t, "tap_x_override", targetInv.Config["schema"])
}
