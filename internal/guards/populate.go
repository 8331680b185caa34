package guards

import (
	"context"
	"os/exec"
)

// SpecView is the minimal projection of a plugin spec guards need to make a
// decision. It exists so this package doesn't import package plugin back —
// plugin.Registry.Add calls into guards, so the dependency only runs one
// way.
type SpecView struct {
	Name                  string
	Kind                  string
	InstallURL            string
	Executable            string
	Entrypoint            string
	InterpreterConstraint string
	InheritFrom           string
}

func (v SpecView) executableOrName() string {
	if v.Executable != "" {
		return v.Executable
	}
	return v.Name
}

// PopulateSpecState fills gctx with everything RegistrationGuards needs to
// validate candidate against the rest of a registry: name uniqueness
// within kind, inherit_from cycle detection, and executable resolvability.
// existing holds every spec already registered, keyed by name.
func PopulateSpecState(_ context.Context, existing map[string]SpecView, candidate SpecView) *GuardContext {
	gctx := &GuardContext{PluginName: candidate.Name, Kind: candidate.Kind}

	if other, ok := existing[candidate.Name]; ok && other.Kind == candidate.Kind {
		gctx.NameIsDuplicate = true
	}

	chain, cycle := walkInheritChain(existing, candidate)
	gctx.InheritChain = chain
	gctx.HasInheritCycle = cycle

	gctx.MissingExecutable = !executableResolvable(candidate)

	return gctx
}

// walkInheritChain follows inherit_from starting at start, returning the
// visited chain and whether it revisits a name already in the chain.
func walkInheritChain(existing map[string]SpecView, start SpecView) ([]string, bool) {
	chain := []string{start.Name}
	visited := map[string]bool{start.Name: true}
	cur := start
	for cur.InheritFrom != "" {
		if visited[cur.InheritFrom] {
			return append(chain, cur.InheritFrom), true
		}
		next, ok := existing[cur.InheritFrom]
		if !ok {
			// Parent not yet registered; nothing further to walk.
			return append(chain, cur.InheritFrom), false
		}
		chain = append(chain, next.Name)
		visited[next.Name] = true
		cur = next
	}
	return chain, false
}

// executableResolvable reports whether v can ever produce something
// runnable. A spec with an InstallURL resolves its executable inside the
// Artifact Cache's build directory once built, not on PATH, so it's
// resolvable without a lookup here. A bare script Entrypoint with an
// InterpreterConstraint is resolvable the same way — the interpreter, not
// the plugin, is what gets exec'd. Everything else must already be on
// PATH.
func executableResolvable(v SpecView) bool {
	if v.InstallURL != "" {
		return true
	}
	if v.Entrypoint != "" && v.InterpreterConstraint != "" {
		return true
	}
	_, err := exec.LookPath(v.executableOrName())
	return err == nil
}

// requiredConfigValue is the sentinel a PluginSpec author sets on a config
// key to mean "this must be supplied by an environment overlay or accent" —
// the same convention Meltano-style config trees use for secrets that
// can't have a project-committed default.
const requiredConfigValue = "REQUIRED"

// PopulateProjectionState fills gctx with what ProjectionGuards needs to
// validate a projected config tree before a pipeline runs: any key left at
// the requiredConfigValue sentinel after overlays are applied, and whether
// a tap's accent names a target that is actually registered.
func PopulateProjectionState(pluginName, kind, targetName string, projected map[string]any, hasAccentForTarget, targetRegistered bool) *GuardContext {
	gctx := &GuardContext{PluginName: pluginName, Kind: kind, TargetName: targetName}

	for k, v := range projected {
		if s, ok := v.(string); ok && s == requiredConfigValue {
			gctx.RequiredConfigSet = append(gctx.RequiredConfigSet, k)
		}
	}

	if hasAccentForTarget && !targetRegistered {
		gctx.HasAccentForUnknownTarget = true
	}

	return gctx
}
