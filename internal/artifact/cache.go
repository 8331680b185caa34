// Package artifact implements the plugin Artifact Cache (spec.md §4.3):
// content-addressed, build-once plugin installation with local-then-remote
// lookup and per-fingerprint build coalescing.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/fingerprint"
	"github.com/altorun/alto/internal/fsx"
	"github.com/altorun/alto/internal/plugin"
)

// Builder installs a resolved plugin spec into destDir. Implementations
// know how to run pip/npm/go install or unpack a prebuilt archive;
// the cache itself is install-mechanism agnostic.
type Builder interface {
	Build(ctx context.Context, spec *plugin.Spec, destDir string) error
}

// manifest records provenance for a built artifact. GetOrBuild treats the
// manifest file's existence as the cache-hit test; its contents are not
// read back.
type manifest struct {
	InstallURL string `toml:"install_url"`
	BuiltAt    string `toml:"built_at"`
}

// Cache is the plugin Artifact Cache. rootDir holds one subdirectory per
// fingerprint under "plugins/" and one lock file per fingerprint under
// "locks/". remote is optional; when nil the cache is local-only.
type Cache struct {
	rootDir string
	remote  fsx.FS
	builder Builder
}

// NewCache creates (if necessary) the cache's directory layout under
// rootDir and returns a Cache using builder for cache misses.
func NewCache(rootDir string, remote fsx.FS, builder Builder) (*Cache, error) {
	for _, sub := range []string{"plugins", "locks"} {
		if err := os.MkdirAll(filepath.Join(rootDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact cache directory %s: %w", sub, err)
		}
	}
	return &Cache{rootDir: rootDir, remote: remote, builder: builder}, nil
}

func (c *Cache) pluginDir(fp string) string    { return filepath.Join(c.rootDir, "plugins", fp) }
func (c *Cache) manifestPath(fp string) string { return filepath.Join(c.pluginDir(fp), ".manifest.toml") }
func (c *Cache) lockPath(fp string) string     { return filepath.Join(c.rootDir, "locks", fp+".lock") }
func (c *Cache) remoteKey(fp string) string    { return "plugins/" + fp + ".tar.gz" }

func fingerprintFor(spec *plugin.Spec) string {
	return fingerprint.PluginFingerprint(fingerprint.PluginInputs{
		InstallURL:     spec.InstallURL,
		Executable:     spec.Executable,
		Entrypoint:     spec.Entrypoint,
		InterpreterTag: fingerprint.HostInterpreterTag(),
		ArchTag:        fingerprint.HostArchTag(),
	})
}

// Evict removes spec's locally cached artifact, if present. Remote storage
// is untouched — eviction is local-only per spec.md §4.3 ("never
// automatic"), and a subsequent GetOrBuild repopulates it from remote
// before rebuilding.
func (c *Cache) Evict(spec *plugin.Spec) error {
	return os.RemoveAll(c.pluginDir(fingerprintFor(spec)))
}

func (c *Cache) hasManifest(fp string) bool {
	_, err := os.Stat(c.manifestPath(fp))
	return err == nil
}

// GetOrBuild implements spec.md §4.3's four-step algorithm: local lookup,
// per-fingerprint lock acquisition, remote lookup-and-promote, and build as
// the last resort, returning the local directory the plugin's executable
// lives in.
func (c *Cache) GetOrBuild(ctx context.Context, spec *plugin.Spec) (string, error) {
	fp := fingerprintFor(spec)
	dir := c.pluginDir(fp)

	if c.hasManifest(fp) {
		return dir, nil
	}

	fl := flock.New(c.lockPath(fp))
	if err := c.acquire(ctx, fl); err != nil {
		return "", alterr.NewBuildFailure(fp, "", fmt.Errorf("acquiring build lock: %w", err))
	}
	defer fl.Unlock()

	// Re-check now that we hold the lock: a concurrent builder may have
	// finished while we were waiting.
	if c.hasManifest(fp) {
		return dir, nil
	}

	if c.remote != nil {
		if ok, err := c.remote.Exists(ctx, c.remoteKey(fp)); err == nil && ok {
			if err := c.fetchFromRemote(ctx, fp, dir); err != nil {
				return "", alterr.NewBuildFailure(fp, "", fmt.Errorf("fetching cached artifact from remote: %w", err))
			}
			if err := c.writeManifest(fp, spec); err != nil {
				return "", alterr.NewBuildFailure(fp, "", err)
			}
			return dir, nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", alterr.NewBuildFailure(fp, "", err)
	}
	if err := c.builder.Build(ctx, spec, dir); err != nil {
		return "", alterr.NewBuildFailure(fp, "", err)
	}
	if err := c.writeManifest(fp, spec); err != nil {
		return "", alterr.NewBuildFailure(fp, "", err)
	}

	if c.remote != nil {
		if err := c.promoteToRemote(ctx, fp, dir); err != nil {
			return "", alterr.NewBuildFailure(fp, "", fmt.Errorf("promoting artifact to remote: %w", err))
		}
	}
	return dir, nil
}

// acquire blocks (respecting ctx) until the per-fingerprint lock is held,
// polling rather than a single indefinite lock so a canceled context is
// honored promptly.
func (c *Cache) acquire(ctx context.Context, fl *flock.Flock) error {
	for {
		locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
		if err != nil {
			return err
		}
		if locked {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *Cache) writeManifest(fp string, spec *plugin.Spec) error {
	f, err := os.Create(c.manifestPath(fp))
	if err != nil {
		return fmt.Errorf("writing manifest for %s: %w", fp, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(manifest{
		InstallURL: spec.InstallURL,
		BuiltAt:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Cache) fetchFromRemote(ctx context.Context, fp, dir string) error {
	data, err := c.remote.Get(ctx, c.remoteKey(fp))
	if err != nil {
		return err
	}
	return extractTarGz(data, dir)
}

func (c *Cache) promoteToRemote(ctx context.Context, fp, dir string) error {
	data, err := buildTarGz(dir)
	if err != nil {
		return err
	}
	return c.remote.Put(ctx, c.remoteKey(fp), data)
}
