package plugin

import (
	"fmt"

	"dario.cat/mergo"

	"github.com/altorun/alto/internal/alterr"
)

// ConfigTree is an arbitrary JSON-shaped configuration document: the
// project file, an environment overlay, or a plugin's own config block all
// take this shape before being decoded into typed structures.
type ConfigTree = map[string]any

// MergeEnvironments deep-merges layers["default"] with layers[active] (in
// that order, active winning) per spec.md §3's Environment semantics: maps
// merge key-wise, sequences concatenate, scalars are overridden by the
// later layer. active == "default" is a no-op second merge.
func MergeEnvironments(layers map[string]ConfigTree, active string) (ConfigTree, error) {
	result := ConfigTree{}
	if base, ok := layers["default"]; ok {
		if err := mergo.Merge(&result, base, mergo.WithAppendSlice); err != nil {
			return nil, alterr.NewConfigError("environments.default", fmt.Errorf("merging default environment: %w", err))
		}
	}
	if active != "" && active != "default" {
		overlay, ok := layers[active]
		if !ok {
			return nil, alterr.NewConfigError(fmt.Sprintf("environments.%s", active),
				fmt.Errorf("unknown environment %q", active))
		}
		if err := mergo.Merge(&result, overlay, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, alterr.NewConfigError(fmt.Sprintf("environments.%s", active),
				fmt.Errorf("merging environment %q: %w", active, err))
		}
	}
	return result, nil
}

// MergeConfigOverlay merges overlay onto base, overlay's scalars and map
// entries winning, used for PluginSpec.Accents and MetadataOverlay.Overlay
// application.
func MergeConfigOverlay(base, overlay ConfigTree) (ConfigTree, error) {
	result := ConfigTree{}
	if err := mergo.Merge(&result, base, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("merging base config: %w", err)
	}
	if err := mergo.Merge(&result, overlay, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("merging overlay config: %w", err)
	}
	return result, nil
}
