// Package alterr defines Alto's error taxonomy. Every subsystem wraps its
// failures in one of the types below so callers can branch on kind with
// errors.As instead of matching message strings.
package alterr

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConfigError reports an invalid or unresolvable configuration reference:
// a bad inherit_from chain, a missing required field, an unknown plugin name.
type ConfigError struct {
	Path string // dotted key path to the offending field, e.g. "taps.tap-x.inherit_from"
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error at %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError pointing at path.
func NewConfigError(path string, err error) error {
	return &ConfigError{Path: path, Err: err}
}

// BuildFailure reports a non-zero exit from the plugin installer/packager.
// Log carries installer output when the caller supplies it. The Artifact
// Cache passes an empty Log; PipInstaller puts pip's stderr into the
// wrapped error instead.
type BuildFailure struct {
	Fingerprint string
	Log         string
	Err         error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build failed for %s: %v", e.Fingerprint, e.Err)
}

func (e *BuildFailure) Unwrap() error { return e.Err }

func NewBuildFailure(fingerprint, log string, err error) error {
	return &BuildFailure{Fingerprint: fingerprint, Log: log, Err: err}
}

// DiscoveryFailure reports that a tap's --discover invocation exited
// non-zero or produced no output. The base catalog cache must NOT be
// written when this error is returned.
type DiscoveryFailure struct {
	Tap string
	Err error
}

func (e *DiscoveryFailure) Error() string {
	return fmt.Sprintf("discovery failed for tap %s: %v", e.Tap, e.Err)
}

func (e *DiscoveryFailure) Unwrap() error { return e.Err }

func NewDiscoveryFailure(tap string, err error) error {
	return &DiscoveryFailure{Tap: tap, Err: err}
}

// PipelineFailure reports a non-zero exit from the tap, the target, or the
// in-process transformer, or a broken pipe between them. The active state
// must not be updated when this error is returned.
type PipelineFailure struct {
	Stage string // a runner stage ("tap", "target", "transform", "tap-start", "reservoir-write", ...) or the failing task's ID
	Err   error
}

func (e *PipelineFailure) Error() string {
	return fmt.Sprintf("pipeline failed in %s: %v", e.Stage, e.Err)
}

func (e *PipelineFailure) Unwrap() error { return e.Err }

func NewPipelineFailure(stage string, err error) error {
	return &PipelineFailure{Stage: stage, Err: err}
}

// StateCorruption reports that an active state file exists but does not
// parse as JSON. Recovery requires an explicit clean task; Alto never
// silently discards a state file it cannot read.
type StateCorruption struct {
	Path string
	Err  error
}

func (e *StateCorruption) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v (run a clean task to reset)", e.Path, e.Err)
}

func (e *StateCorruption) Unwrap() error { return e.Err }

func NewStateCorruption(path string, err error) error {
	return &StateCorruption{Path: path, Err: err}
}

// RemoteUnavailable reports a transient remote filesystem I/O failure after
// the retry budget in Retry has been exhausted.
type RemoteUnavailable struct {
	Op   string
	Path string
	Err  error
}

func (e *RemoteUnavailable) Error() string {
	return fmt.Sprintf("remote %s %s unavailable: %v", e.Op, e.Path, e.Err)
}

func (e *RemoteUnavailable) Unwrap() error { return e.Err }

func NewRemoteUnavailable(op, path string, err error) error {
	return &RemoteUnavailable{Op: op, Path: path, Err: err}
}

// Retry runs fn with exponential backoff, bounded by maxElapsed, returning a
// RemoteUnavailable wrapping the last error once the budget is exhausted.
// A zero or negative maxElapsed uses backoff's default (15 minutes); Alto's remote
// filesystem callers pass a much shorter budget.
func Retry(ctx context.Context, op, path string, maxElapsed time.Duration, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	if maxElapsed > 0 {
		bo.MaxElapsedTime = maxElapsed
	}
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = fn()
		return lastErr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return NewRemoteUnavailable(op, path, lastErr)
	}
	return nil
}
