package plugin

import (
	"fmt"
	"os"

	"github.com/altorun/alto/internal/alterr"
)

// Invocation is a fully resolved, ready-to-exec plugin: its inherit_from
// chain applied, its config merged with any accent overlay, and its
// process environment materialized.
type Invocation struct {
	Spec       *Spec
	Config     ConfigTree
	Env        []string
	LoadPath   string
	Executable string
	Entrypoint string
}

// ProjectPlugin resolves name's inherit_from chain and materializes its
// invocation with no accent overlay — used for discovery-only and utility
// runs (spec.md §4.4, the non-pipeline branch).
func ProjectPlugin(reg *Registry, name string) (*Invocation, error) {
	spec, err := reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	return materialize(spec, spec.Config)
}

// ProjectPipeline resolves both the tap and target inherit_from chains,
// applies the tap's accent overlay (if any) to the target's config, and
// returns both invocations ready for PipelineRunner (spec.md §4.4's
// pipeline branch).
func ProjectPipeline(reg *Registry, tapName, targetName string) (tap, target *Invocation, err error) {
	tapSpec, err := reg.Resolve(tapName)
	if err != nil {
		return nil, nil, err
	}
	targetSpec, err := reg.Resolve(targetName)
	if err != nil {
		return nil, nil, err
	}

	targetConfig := targetSpec.Config
	if accent, ok := tapSpec.Accents[targetName]; ok {
		merged, err := MergeConfigOverlay(targetSpec.Config, accent)
		if err != nil {
			return nil, nil, alterr.NewConfigError(fmt.Sprintf("taps.%s.accents.%s", tapName, targetName), err)
		}
		targetConfig = merged
	}

	tap, err = materialize(tapSpec, tapSpec.Config)
	if err != nil {
		return nil, nil, err
	}
	target, err = materialize(targetSpec, targetConfig)
	if err != nil {
		return nil, nil, err
	}
	return tap, target, nil
}

func materialize(spec *Spec, config ConfigTree) (*Invocation, error) {
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return &Invocation{
		Spec:       spec,
		Config:     config,
		Env:        env,
		LoadPath:   spec.LoadPath,
		Executable: spec.ExecutableOrName(),
		Entrypoint: spec.Entrypoint,
	}, nil
}
