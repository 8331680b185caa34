// Package providers wires every subsystem — the Artifact Cache, Catalog
// Engine, Config Projection, Pipeline Runner, and Reservoir — into
// task.Provider implementations keyed by the task kinds spec.md §4.9 names
// ("build", "config", "catalog", "apply", a tap/target pair, a reservoir
// write or replay, "test", "about", "clean"). cmd/alto/main.go registers
// one of each against a task.Registry; nothing here is reachable except
// through that Registry.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/artifact"
	"github.com/altorun/alto/internal/catalog"
	"github.com/altorun/alto/internal/guards"
	"github.com/altorun/alto/internal/pipeline"
	"github.com/altorun/alto/internal/plugin"
	"github.com/altorun/alto/internal/reservoir"
	"github.com/altorun/alto/internal/state"
	"github.com/altorun/alto/internal/task"
)

// runProjectionGuards checks a projected plugin's config (and, for a
// pipeline pairing, its accent target) against guards.ProjectionGuards
// before the caller acts on it, per spec.md §4.4: a config left with
// unresolved REQUIRED sentinels or naming an unregistered accent target
// should never silently reach a tap/target invocation.
func runProjectionGuards(ctx context.Context, pluginName, kind, targetName string, projected plugin.ConfigTree, hasAccent, targetRegistered bool) error {
	gctx := guards.PopulateProjectionState(pluginName, kind, targetName, projected, hasAccent, targetRegistered)
	outcome := guards.NewRunner().Run(ctx, gctx, guards.ProjectionGuards())
	if outcome.Blocked {
		return alterr.NewConfigError(pluginName, fmt.Errorf("%s", outcome.FormatBlockMessage()))
	}
	return nil
}

// Deps bundles every subsystem a Provider needs. It's assembled once in
// cmd/alto/main.go and shared read-only across every registered Provider.
type Deps struct {
	Specs        *plugin.Registry
	Cache        *artifact.Cache
	CacheRoot    string
	StateStore   *state.Store
	Environment  string // dev/prod/etc, namespaces the State Store per spec.md §3/§6
	ReservoirDir string // root under which each tap gets its own reservoir subdirectory, replayed into any target
	PIISalt      []byte
	GracePeriod  time.Duration
	Logger       *slog.Logger
}

func scalarString(n *task.Node, key string) (string, error) {
	v, ok := n.Scalars[key]
	if !ok {
		return "", fmt.Errorf("task %s: missing scalar %q", n.ID, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("task %s: scalar %q is not a string", n.ID, key)
	}
	return s, nil
}

func builtExecutable(dir string, spec *plugin.Spec) string {
	return filepath.Join(dir, spec.ExecutableOrName())
}

// --- build:<plugin> ---

// Build resolves a plugin's inherit_from chain and runs it through
// the Artifact Cache's build-once-cache-forever pipeline.
func (d *Deps) Build(ctx context.Context, n *task.Node, _ string) error {
	name, err := scalarString(n, "plugin")
	if err != nil {
		return err
	}
	spec, err := d.Specs.Resolve(name)
	if err != nil {
		return err
	}
	_, err = d.Cache.GetOrBuild(ctx, spec)
	return err
}

// --- config:<plugin> ---

// Config projects a plugin's merged configuration (no accent
// overlay — that only applies within a pipeline pairing) and writes it to
// the task's staging directory for downstream "apply"/pipeline tasks to
// read.
func (d *Deps) Config(ctx context.Context, n *task.Node, stagingDir string) error {
	name, err := scalarString(n, "plugin")
	if err != nil {
		return err
	}
	inv, err := plugin.ProjectPlugin(d.Specs, name)
	if err != nil {
		return err
	}
	if err := runProjectionGuards(ctx, name, string(inv.Spec.Kind), "", inv.Config, false, false); err != nil {
		return err
	}
	return writeJSON(filepath.Join(stagingDir, "config.json"), inv.Config)
}

// --- catalog:<tap> ---

// Catalog discovers a tap's base catalog by invoking the built
// executable's --discover mode, caching it name-keyed (per spec.md §9's
// documented "stale discovery output" tradeoff: a changed install_url with
// an unchanged tap name reuses the old discovery until `clean catalog:<tap>`
// runs).
func (d *Deps) Catalog(ctx context.Context, n *task.Node, stagingDir string) error {
	tapName, err := scalarString(n, "tap")
	if err != nil {
		return err
	}
	spec, err := d.Specs.Resolve(tapName)
	if err != nil {
		return err
	}
	if !spec.Has(plugin.CapCatalog) {
		return alterr.NewDiscoveryFailure(tapName, fmt.Errorf("plugin does not declare the catalog capability"))
	}

	dir, err := d.Cache.GetOrBuild(ctx, spec)
	if err != nil {
		return err
	}

	configPath := filepath.Join(stagingDir, "discover-config.json")
	if err := writeJSON(configPath, spec.Config); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, builtExecutable(dir, spec), "--config", configPath, "--discover")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return alterr.NewDiscoveryFailure(tapName, fmt.Errorf("%w: %s", err, stderr.String()))
	}

	var base catalog.Catalog
	if err := json.Unmarshal(stdout.Bytes(), &base); err != nil {
		return alterr.NewDiscoveryFailure(tapName, fmt.Errorf("parsing discovered catalog: %w", err))
	}
	return writeJSON(baseCatalogPath(d.CacheRoot, tapName), &base)
}

func baseCatalogPath(cacheRoot, tapName string) string {
	return filepath.Join(cacheRoot, "catalogs", tapName+".json")
}

// --- apply:<tap> ---

// Apply builds the runtime catalog from a tap's cached base
// discovery plus its selection patterns and metadata overlays.
func (d *Deps) Apply(_ context.Context, n *task.Node, stagingDir string) error {
	tapName, err := scalarString(n, "tap")
	if err != nil {
		return err
	}
	spec, err := d.Specs.Resolve(tapName)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(baseCatalogPath(d.CacheRoot, tapName))
	if err != nil {
		return alterr.NewDiscoveryFailure(tapName, fmt.Errorf("reading cached base catalog: %w", err))
	}
	var base catalog.Catalog
	if err := json.Unmarshal(raw, &base); err != nil {
		return alterr.NewDiscoveryFailure(tapName, fmt.Errorf("parsing cached base catalog: %w", err))
	}

	runtime, err := catalog.BuildRuntime(&base, spec.Select, spec.Metadata)
	if err != nil {
		return err
	}
	return writeJSON(filepath.Join(stagingDir, "catalog.json"), runtime)
}

// --- <tap>:<target> ---

// Pipeline runs one tap/target pairing through the Pipeline Runner,
// applying the tap's accent overlay to the target's config and persisting
// STATE through the shared state.Store.
func (d *Deps) Pipeline(ctx context.Context, n *task.Node, stagingDir string) error {
	tapName, err := scalarString(n, "tap")
	if err != nil {
		return err
	}
	targetName, err := scalarString(n, "target")
	if err != nil {
		return err
	}

	tapInv, targetInv, err := plugin.ProjectPipeline(d.Specs, tapName, targetName)
	if err != nil {
		return err
	}

	_, hasAccent := tapInv.Spec.Accents[targetName]
	_, targetRegistered := d.Specs.Get(targetName)
	if err := runProjectionGuards(ctx, tapName, string(tapInv.Spec.Kind), targetName, targetInv.Config, hasAccent, targetRegistered); err != nil {
		return err
	}

	tapDir, err := d.Cache.GetOrBuild(ctx, tapInv.Spec)
	if err != nil {
		return err
	}
	targetDir, err := d.Cache.GetOrBuild(ctx, targetInv.Spec)
	if err != nil {
		return err
	}

	tapConfigPath := filepath.Join(stagingDir, "tap-config.json")
	if err := writeJSON(tapConfigPath, tapInv.Config); err != nil {
		return err
	}
	targetConfigPath := filepath.Join(stagingDir, "target-config.json")
	if err := writeJSON(targetConfigPath, targetInv.Config); err != nil {
		return err
	}
	catalogPath := filepath.Join(stagingDir, "catalog.json")

	pii := catalog.PIIFields(&catalog.Catalog{})
	if raw, err := os.ReadFile(catalogPath); err == nil {
		var rt catalog.Catalog
		if json.Unmarshal(raw, &rt) == nil {
			pii = catalog.PIIFields(&rt)
		}
	}

	tapArgs := []string{"--config", tapConfigPath, "--catalog", catalogPath}
	active, err := d.StateStore.Load(ctx, d.Environment, tapName, targetName)
	if err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}
	if len(active) > 0 {
		statePath := filepath.Join(stagingDir, "state.json")
		if err := writeJSON(statePath, active); err != nil {
			return err
		}
		tapArgs = append(tapArgs, "--state", statePath)
	}

	runner := pipeline.NewRunner(os.Stderr)
	result, err := runner.Run(ctx, pipeline.Spec{
		Tap: pipeline.Invocation{
			Exe:  builtExecutable(tapDir, tapInv.Spec),
			Args: tapArgs,
			Env:  tapInv.Env,
		},
		Target: pipeline.Invocation{
			Exe:  builtExecutable(targetDir, targetInv.Spec),
			Args: []string{"--config", targetConfigPath},
			Env:  targetInv.Env,
		},
		PIIFields:   pii,
		PIISalt:     d.PIISalt,
		GracePeriod: d.GracePeriod,
	})
	if err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}
	if result.TapExitCode != 0 {
		return alterr.NewPipelineFailure(n.ID, fmt.Errorf("tap %s exited %d", tapName, result.TapExitCode))
	}
	if result.TargetExitCode != 0 {
		return alterr.NewPipelineFailure(n.ID, fmt.Errorf("target %s exited %d", targetName, result.TargetExitCode))
	}

	// Only a clean exit on both sides makes the run's STATE durable
	// (spec.md §4.6); a non-zero exit leaves the prior active state in place.
	if len(result.FinalState) > 0 {
		if err := d.StateStore.Commit(ctx, d.Environment, tapName, targetName, result.FinalState, time.Now()); err != nil {
			return alterr.NewPipelineFailure(n.ID, err)
		}
	}
	return nil
}

// --- <tap>:reservoir ---

// ReservoirWrite runs a tap alone, archiving its message stream into a
// schema-partitioned reservoir instead of feeding a target.
func (d *Deps) ReservoirWrite(ctx context.Context, n *task.Node, stagingDir string) error {
	tapName, err := scalarString(n, "tap")
	if err != nil {
		return err
	}
	spec, err := d.Specs.Resolve(tapName)
	if err != nil {
		return err
	}

	dir, err := d.Cache.GetOrBuild(ctx, spec)
	if err != nil {
		return err
	}
	configPath := filepath.Join(stagingDir, "tap-config.json")
	if err := writeJSON(configPath, spec.Config); err != nil {
		return err
	}

	writer, err := reservoir.NewWriter(filepath.Join(d.ReservoirDir, tapName))
	if err != nil {
		return err
	}
	defer writer.Close()

	cmd := exec.CommandContext(ctx, builtExecutable(dir, spec), "--config", configPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}

	scanErr := scanLines(stdout, writer.WriteMessage)

	if err := cmd.Wait(); err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}
	return scanErr
}

// --- reservoir:<tap>-<target> ---

// ReservoirReplay replays an archived reservoir into a target, per
// spec.md §4.8's partition-grouped, idempotence-gated parallel replay.
func (d *Deps) ReservoirReplay(ctx context.Context, n *task.Node, stagingDir string) error {
	tapName, err := scalarString(n, "tap")
	if err != nil {
		return err
	}
	targetName, err := scalarString(n, "target")
	if err != nil {
		return err
	}
	idempotent, _ := n.Scalars["idempotent"].(bool)

	targetSpec, err := d.Specs.Resolve(targetName)
	if err != nil {
		return err
	}
	targetDir, err := d.Cache.GetOrBuild(ctx, targetSpec)
	if err != nil {
		return err
	}
	targetConfigPath := filepath.Join(stagingDir, "target-config.json")
	if err := writeJSON(targetConfigPath, targetSpec.Config); err != nil {
		return err
	}

	reader, err := reservoir.NewReader(filepath.Join(d.ReservoirDir, tapName))
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, builtExecutable(targetDir, targetSpec), "--config", targetConfigPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}

	replayErr := reader.Replay(stdin, reservoir.ReplayOptions{Idempotent: idempotent, Concurrency: 4})
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return alterr.NewPipelineFailure(n.ID, err)
	}
	return replayErr
}

// --- test:<plugin> ---

// Test invokes a plugin's --test mode when it declares the capability;
// plugins that don't are a no-op success, not a failure — spec.md §3
// makes "test" an optional capability.
func (d *Deps) Test(ctx context.Context, n *task.Node, stagingDir string) error {
	name, err := scalarString(n, "plugin")
	if err != nil {
		return err
	}
	spec, err := d.Specs.Resolve(name)
	if err != nil {
		return err
	}
	if !spec.Has(plugin.CapTest) {
		d.Logger.Info("plugin declares no test capability, skipping", "plugin", name)
		return nil
	}
	dir, err := d.Cache.GetOrBuild(ctx, spec)
	if err != nil {
		return err
	}
	configPath := filepath.Join(stagingDir, "config.json")
	if err := writeJSON(configPath, spec.Config); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, builtExecutable(dir, spec), "--config", configPath, "--test")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// --- about:<plugin> ---

// About invokes a plugin's --about mode, falling back to a synthesized
// summary from the spec itself when the plugin doesn't declare the
// capability.
func (d *Deps) About(ctx context.Context, n *task.Node, stagingDir string) error {
	name, err := scalarString(n, "plugin")
	if err != nil {
		return err
	}
	spec, err := d.Specs.Resolve(name)
	if err != nil {
		return err
	}
	if !spec.Has(plugin.CapAbout) {
		return writeJSON(filepath.Join(stagingDir, "about.json"), map[string]any{
			"name": spec.Name,
			"kind": spec.Kind,
		})
	}
	dir, err := d.Cache.GetOrBuild(ctx, spec)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, builtExecutable(dir, spec), "--about", "--format", "json")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stagingDir, "about.json"), stdout.Bytes(), 0o644)
}

// --- clean:<scope> ---

// Clean evicts a scope's cached artifacts. Scope "all" wipes the entire
// artifact cache; scope "catalog:<tap>" removes that tap's cached base
// catalog; any other scope is treated as a plugin name and only its
// cache subtree is removed. Eviction is otherwise never automatic per
// spec.md §4.3.
func (d *Deps) Clean(_ context.Context, n *task.Node, _ string) error {
	scope, err := scalarString(n, "scope")
	if err != nil {
		return err
	}
	if scope == "all" {
		return os.RemoveAll(filepath.Join(d.CacheRoot, "plugins"))
	}
	if tapName, ok := strings.CutPrefix(scope, "catalog:"); ok {
		if err := os.Remove(baseCatalogPath(d.CacheRoot, tapName)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	spec, ok := d.Specs.Get(scope)
	if !ok {
		return fmt.Errorf("clean: unknown scope %q", scope)
	}
	return d.Cache.Evict(spec)
}

// RegisterAll wires one Provider per spec.md §4.9 task kind into reg.
func RegisterAll(reg *task.Registry, d *Deps) {
	reg.Register("build", task.ProviderFunc(d.Build))
	reg.Register("config", task.ProviderFunc(d.Config))
	reg.Register("catalog", task.ProviderFunc(d.Catalog))
	reg.Register("apply", task.ProviderFunc(d.Apply))
	reg.Register("pipeline", task.ProviderFunc(d.Pipeline))
	reg.Register("reservoir-write", task.ProviderFunc(d.ReservoirWrite))
	reg.Register("reservoir-replay", task.ProviderFunc(d.ReservoirReplay))
	reg.Register("test", task.ProviderFunc(d.Test))
	reg.Register("about", task.ProviderFunc(d.About))
	reg.Register("clean", task.ProviderFunc(d.Clean))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// scanLines feeds each newline-delimited message in r to fn, stopping (and
// returning) at the first error either side produces.
func scanLines(r io.Reader, fn func([]byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
