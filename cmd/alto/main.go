// Command alto is the process entrypoint for Alto's task engine.
//
// It is a stand-in for the (out-of-scope) CLI: it loads a plugin config
// tree from a JSON file named by argv[1], wires every subsystem's
// Provider into a task.Registry, and runs the task named by argv[2]. It
// intentionally does not parse flags, render `list --all` output, or
// resolve `.env` files — those remain the external CLI's job.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/altorun/alto/internal/artifact"
	"github.com/altorun/alto/internal/config"
	"github.com/altorun/alto/internal/fsx"
	"github.com/altorun/alto/internal/logging"
	"github.com/altorun/alto/internal/plugin"
	"github.com/altorun/alto/internal/providers"
	"github.com/altorun/alto/internal/state"
	"github.com/altorun/alto/internal/task"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "alto: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: alto <config.json> <task-id>")
	}
	configTreePath, taskID := os.Args[1], os.Args[2]

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	specs, err := loadRegistry(ctx, configTreePath)
	if err != nil {
		return fmt.Errorf("loading plugin registry: %w", err)
	}

	altoRoot := filepath.Join(cfg.Project.Root, ".alto")
	cacheRoot := filepath.Join(altoRoot, "cache")
	reservoirDir := filepath.Join(altoRoot, "reservoir")

	var remote fsx.FS
	if cfg.Remote.URL != "" {
		remote, err = fsx.NewLocal(cfg.Remote.URL)
		if err != nil {
			return fmt.Errorf("opening remote store %q: %w", cfg.Remote.URL, err)
		}
	}

	cache, err := artifact.NewCache(cacheRoot, remote, &artifact.PipInstaller{})
	if err != nil {
		return fmt.Errorf("opening artifact cache: %w", err)
	}

	localFS, err := fsx.NewLocal(cfg.Project.Root)
	if err != nil {
		return fmt.Errorf("opening project filesystem: %w", err)
	}
	stateStore := state.NewStore(localFS)

	salt, err := pipelineSalt(altoRoot)
	if err != nil {
		return fmt.Errorf("loading PII salt: %w", err)
	}

	deps := &providers.Deps{
		Specs:        specs,
		Cache:        cache,
		CacheRoot:    cacheRoot,
		StateStore:   stateStore,
		Environment:  cfg.Project.Environment,
		ReservoirDir: reservoirDir,
		PIISalt:      salt,
		GracePeriod:  10 * time.Second,
		Logger:       logger,
	}

	registry := task.NewRegistry()
	providers.RegisterAll(registry, deps)

	graph, err := buildGraph(specs)
	if err != nil {
		return fmt.Errorf("building task graph: %w", err)
	}

	store, err := task.NewStore(cfg.Project.Root)
	if err != nil {
		return fmt.Errorf("opening task record store: %w", err)
	}

	engine := task.NewEngine(graph, store, registry, localFS, logger)

	logger.Info("running task", "task", taskID)
	return engine.Run(ctx, taskID, task.RunOptions{Parallelism: 1})
}

// loadRegistry decodes a flat "plugins" array from the config tree into a
// plugin.Registry. The host's real config loader would already have
// expanded interpolation tokens and environment overlays by this point
// (spec.md §4.4) — this stand-in reads a single already-merged tree.
func loadRegistry(ctx context.Context, path string) (*plugin.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Plugins []json.RawMessage `json:"plugins"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	specs := make([]*plugin.Spec, 0, len(doc.Plugins))
	for _, raw := range doc.Plugins {
		var tree map[string]any
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, err
		}
		name, _ := tree["name"].(string)
		kind, _ := tree["kind"].(string)
		spec, err := plugin.DecodeSpec(name, plugin.Kind(kind), tree)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return plugin.NewRegistry(ctx, specs)
}

// buildGraph declares the static task DAG spec.md §4.9 names: one
// build/config/test/about node per tap or target, one catalog and apply
// node per tap, and one pipeline node for every tap/target pairing,
// whether or not the tap declares an accent for that target.
func buildGraph(specs *plugin.Registry) (*task.Graph, error) {
	g := task.NewGraph()
	taps, targets := pluginNamesByKind(specs)

	for _, name := range append(append([]string{}, taps...), targets...) {
		if err := g.AddNode(&task.Node{ID: "build:" + name, Kind: "build", Scalars: map[string]any{"plugin": name}}); err != nil {
			return nil, err
		}
		if err := g.AddNode(&task.Node{ID: "config:" + name, Kind: "config", Scalars: map[string]any{"plugin": name}}); err != nil {
			return nil, err
		}
		if err := g.AddNode(&task.Node{ID: "test:" + name, Kind: "test", DependsOn: []string{"build:" + name}, Scalars: map[string]any{"plugin": name}}); err != nil {
			return nil, err
		}
		if err := g.AddNode(&task.Node{ID: "about:" + name, Kind: "about", DependsOn: []string{"build:" + name}, Scalars: map[string]any{"plugin": name}}); err != nil {
			return nil, err
		}
	}

	for _, tapName := range taps {
		if err := g.AddNode(&task.Node{
			ID:        "catalog:" + tapName,
			Kind:      "catalog",
			DependsOn: []string{"build:" + tapName, "config:" + tapName},
			Scalars:   map[string]any{"tap": tapName},
		}); err != nil {
			return nil, err
		}
		if err := g.AddNode(&task.Node{
			ID:        "apply:" + tapName,
			Kind:      "apply",
			DependsOn: []string{"catalog:" + tapName, "config:" + tapName},
			Scalars:   map[string]any{"tap": tapName},
		}); err != nil {
			return nil, err
		}

		for _, targetName := range targets {
			if err := g.AddNode(&task.Node{
				ID:   tapName + ":" + targetName,
				Kind: "pipeline",
				DependsOn: []string{
					"build:" + tapName, "build:" + targetName,
					"config:" + tapName, "config:" + targetName,
					"apply:" + tapName,
				},
				Scalars: map[string]any{"tap": tapName, "target": targetName},
			}); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

func pluginNamesByKind(specs *plugin.Registry) (taps, targets []string) {
	for _, name := range specs.Names() {
		spec, _ := specs.Get(name)
		switch spec.Kind {
		case plugin.KindTap:
			taps = append(taps, name)
		case plugin.KindTarget:
			targets = append(targets, name)
		}
	}
	return taps, targets
}

// pipelineSalt loads (or creates, on first run) the HMAC salt used for PII
// field hashing (spec.md §4.7) — persisted so hashes stay stable across
// runs instead of being re-randomized every process start.
func pipelineSalt(altoRoot string) ([]byte, error) {
	path := filepath.Join(altoRoot, "pii-salt")
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(altoRoot, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}
