package task

import "context"

// Provider executes every task of one kind ("build", "config", "catalog",
// "apply", a tap/target pipeline pair, "reservoir", "test", "about",
// "clean", or a host/extension-registered kind).
type Provider interface {
	Execute(ctx context.Context, n *Node, stagingDir string) error
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, n *Node, stagingDir string) error

func (f ProviderFunc) Execute(ctx context.Context, n *Node, stagingDir string) error {
	return f(ctx, n, stagingDir)
}

// Registry maps task kinds to the Provider that runs them. Register panics
// on a duplicate kind — a programming error, not a runtime condition a
// caller can usefully recover from — mirroring the teacher's own provider
// registry.
type Registry struct {
	byKind map[string]Provider
	order  []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string]Provider)}
}

// Register adds provider for kind.
func (r *Registry) Register(kind string, provider Provider) {
	if _, exists := r.byKind[kind]; exists {
		panic("task: duplicate provider registered for kind " + kind)
	}
	r.byKind[kind] = provider
	r.order = append(r.order, kind)
}

// Get returns the provider registered for kind.
func (r *Registry) Get(kind string) (Provider, bool) {
	p, ok := r.byKind[kind]
	return p, ok
}

// Kinds returns every registered kind in registration order.
func (r *Registry) Kinds() []string {
	return append([]string(nil), r.order...)
}
