// Package plugin models PluginSpec declarations (spec.md §3), resolves
// inherit_from chains and environment overlays, and projects a plugin or
// pipeline request into a materialized configuration, environment map, load
// path, and resolved invocation (spec.md §4.4).
package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/guards"
)

// Kind is a plugin's role in a pipeline.
type Kind string

const (
	KindTap      Kind = "tap"
	KindTarget   Kind = "target"
	KindUtility  Kind = "utility"
)

// Capability is one of the optional operations a plugin supports.
type Capability string

const (
	CapState      Capability = "state"
	CapCatalog    Capability = "catalog"
	CapProperties Capability = "properties"
	CapAbout      Capability = "about"
	CapTest       Capability = "test"
)

// StreamMap declares an external transform script scoped to a selection.
type StreamMap struct {
	Script string   `json:"script"`
	Select []string `json:"select"`
}

// MetadataOverlay merges Overlay into every catalog stream whose name
// matches Pattern (a glob, not a selection pattern — no "!"/"~" prefix).
type MetadataOverlay struct {
	Pattern string         `json:"pattern"`
	Overlay map[string]any `json:"overlay"`
}

// Spec is a plugin declaration (spec.md §3 PluginSpec).
type Spec struct {
	Name                  string            `json:"name"`
	Kind                  Kind              `json:"kind"`
	InstallURL            string            `json:"install_url"`
	Executable            string            `json:"executable,omitempty"`
	Entrypoint            string            `json:"entrypoint,omitempty"`
	InterpreterConstraint string            `json:"interpreter_constraint,omitempty"`
	Capabilities          []Capability      `json:"capabilities,omitempty"`
	Config                map[string]any    `json:"config,omitempty"`
	Select                []string          `json:"select,omitempty"`
	Metadata              []MetadataOverlay `json:"metadata,omitempty"`
	StreamMaps            []StreamMap       `json:"stream_maps,omitempty"`
	Env                   map[string]string `json:"env,omitempty"`
	LoadPath              string            `json:"load_path,omitempty"`
	// Accents maps a target plugin name to an overlay merged into that
	// target's configuration only when this (tap) plugin runs a pipeline
	// against it.
	Accents     map[string]map[string]any `json:"accents,omitempty"`
	InheritFrom string                     `json:"inherit_from,omitempty"`

	capSet map[Capability]bool
}

// Has reports whether the spec declares the given capability.
func (s *Spec) Has(c Capability) bool {
	if s.capSet == nil {
		s.capSet = make(map[Capability]bool, len(s.Capabilities))
		for _, c := range s.Capabilities {
			s.capSet[c] = true
		}
	}
	return s.capSet[c]
}

// ExecutableOrName returns the configured executable name, defaulting to
// the plugin's own name per spec.md §3.
func (s *Spec) ExecutableOrName() string {
	if s.Executable != "" {
		return s.Executable
	}
	return s.Name
}

// Registry holds every declared plugin spec, keyed by name, for
// inherit_from resolution.
type Registry struct {
	specs map[string]*Spec
}

// NewRegistry builds a Registry from decoded specs, running every spec
// through Add (and so through RegistrationGuards) in order.
func NewRegistry(ctx context.Context, specs []*Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		if err := r.Add(ctx, s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers spec, first running it through RegistrationGuards
// (kebab-case naming, no duplicate name within kind, no inherit_from
// cycle, a resolvable executable). A HARD_BLOCK or un-forced SOFT_BLOCK
// rejects the spec instead of adding it.
func (r *Registry) Add(ctx context.Context, spec *Spec) error {
	existing := make(map[string]guards.SpecView, len(r.specs))
	for name, s := range r.specs {
		existing[name] = specView(s)
	}

	gctx := guards.PopulateSpecState(ctx, existing, specView(spec))
	outcome := guards.NewRunner().Run(ctx, gctx, guards.RegistrationGuards())
	if outcome.Blocked {
		return alterr.NewConfigError(fmt.Sprintf("%ss.%s", spec.Kind, spec.Name),
			fmt.Errorf("%s", outcome.FormatBlockMessage()))
	}

	r.specs[spec.Name] = spec
	return nil
}

func specView(s *Spec) guards.SpecView {
	return guards.SpecView{
		Name:                  s.Name,
		Kind:                  string(s.Kind),
		InstallURL:            s.InstallURL,
		Executable:            s.Executable,
		Entrypoint:            s.Entrypoint,
		InterpreterConstraint: s.InterpreterConstraint,
		InheritFrom:           s.InheritFrom,
	}
}

// Get returns a spec by name.
func (r *Registry) Get(name string) (*Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns every registered plugin name, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

// Resolve returns spec's inherit_from chain fully applied: fields set on a
// child override the same field inherited from its parent. Cycles are a
// ConfigError per spec.md §3's invariant.
func (r *Registry) Resolve(name string) (*Spec, error) {
	return r.resolve(name, make(map[string]bool))
}

func (r *Registry) resolve(name string, visiting map[string]bool) (*Spec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, alterr.NewConfigError("inherit_from", fmt.Errorf("unknown plugin %q", name))
	}
	if spec.InheritFrom == "" {
		return spec, nil
	}
	if visiting[name] {
		return nil, alterr.NewConfigError(fmt.Sprintf("%s.inherit_from", name),
			fmt.Errorf("inherit_from cycle detected involving %q", name))
	}
	visiting[name] = true

	parent, err := r.resolve(spec.InheritFrom, visiting)
	if err != nil {
		return nil, err
	}
	return mergeSpec(parent, spec), nil
}

// mergeSpec produces a new Spec with child's fields overriding parent's,
// falling back to parent for anything child left zero-valued. Config and
// Env are merged key by key (child's keys win); Select, Metadata, and
// StreamMaps are taken whole from child when non-empty, else from parent;
// scalar fields are simple override-if-set.
func mergeSpec(parent, child *Spec) *Spec {
	out := *child
	if out.InstallURL == "" {
		out.InstallURL = parent.InstallURL
	}
	if out.Executable == "" {
		out.Executable = parent.Executable
	}
	if out.Entrypoint == "" {
		out.Entrypoint = parent.Entrypoint
	}
	if out.InterpreterConstraint == "" {
		out.InterpreterConstraint = parent.InterpreterConstraint
	}
	if out.LoadPath == "" {
		out.LoadPath = parent.LoadPath
	}
	if len(out.Capabilities) == 0 {
		out.Capabilities = parent.Capabilities
	}
	out.Config = mergeMaps(parent.Config, child.Config)
	if len(out.Select) == 0 {
		out.Select = parent.Select
	}
	if len(out.Metadata) == 0 {
		out.Metadata = parent.Metadata
	}
	if len(out.StreamMaps) == 0 {
		out.StreamMaps = parent.StreamMaps
	}
	out.Env = mergeStringMaps(parent.Env, child.Env)
	out.capSet = nil
	return &out
}

func mergeMaps(base, overlay map[string]any) map[string]any {
	if base == nil && overlay == nil {
		return nil
	}
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func mergeStringMaps(base, overlay map[string]string) map[string]string {
	if base == nil && overlay == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// DecodeSpec decodes a raw config-tree map (as produced by an environment
// merge) into a Spec. Decoding goes through JSON rather than a bespoke
// walker because the tree is already exactly JSON-shaped (map[string]any
// with no Go-specific types) once the host's config loader has run.
func DecodeSpec(name string, kind Kind, raw map[string]any) (*Spec, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, alterr.NewConfigError(name, fmt.Errorf("marshaling plugin tree: %w", err))
	}
	var s Spec
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, alterr.NewConfigError(name, fmt.Errorf("decoding plugin spec: %w", err))
	}
	s.Name = name
	s.Kind = kind
	return &s, nil
}
