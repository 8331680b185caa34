// Package fingerprint computes stable 40-hex-digit digests over plugin
// specifications and task inputs. A fingerprint is the sole identity used to
// address a cached artifact or decide a task is up to date, so every digest
// here must be independent of map key insertion order and stable across
// machines that share an interpreter and architecture.
//
// No library in the example pack ships a canonical-JSON/stable-hash
// primitive, so this package builds its own deterministic encoding on top of
// crypto/sha1 — see DESIGN.md for the standard-library justification.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
)

// PluginInputs is the tuple §4.2 fingerprints a plugin specification over.
type PluginInputs struct {
	InstallURL      string
	Executable      string // empty if Entrypoint is set
	Entrypoint      string // empty if Executable is set
	InterpreterTag  string // e.g. "py3.11", "go1.23"
	ArchTag         string // e.g. "linux/amd64"
}

// PluginFingerprint returns the 40-hex digest identifying a built artifact
// for the given inputs.
func PluginFingerprint(in PluginInputs) string {
	h := sha1.New()
	writeField(h, "install_url", in.InstallURL)
	writeField(h, "executable", in.Executable)
	writeField(h, "entrypoint", in.Entrypoint)
	writeField(h, "interpreter", in.InterpreterTag)
	writeField(h, "arch", in.ArchTag)
	return hex.EncodeToString(h.Sum(nil))
}

// TaskInputs is the set of values a task declares as its fingerprint basis:
// content hashes of input files plus scalar parameters. The Task Engine
// computes file content hashes itself (via FileDigest) before calling this.
type TaskInputs struct {
	FileDigests []string       // one per declared input file, in declaration order
	Scalars     map[string]any // declared scalar parameters
}

// TaskFingerprint returns the 40-hex digest for a task's declared inputs.
// File digests are hashed in the caller's declared order (file order is
// meaningful — it's the DAG edge order); scalar map keys are sorted so
// insertion order never affects the result.
func TaskFingerprint(in TaskInputs) string {
	h := sha1.New()
	for i, d := range in.FileDigests {
		writeField(h, fmt.Sprintf("file[%d]", i), d)
	}
	keys := make([]string, 0, len(in.Scalars))
	for k := range in.Scalars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(h, "scalar:"+k, canonicalScalar(in.Scalars[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

// writeField feeds a length-prefixed "name=value" pair into the hash so
// that no concatenation of adjacent fields can collide with a different
// split of the same bytes.
func writeField(h hashWriter, name, value string) {
	entry := fmt.Sprintf("%d:%s=%d:%s;", len(name), name, len(value), value)
	_, _ = h.Write([]byte(entry))
}

// canonicalScalar renders a scalar or nested map/sequence deterministically:
// maps have their keys sorted recursively before encoding, so { "a":1,
// "b":2 } and { "b":2, "a":1 } fingerprint identically.
func canonicalScalar(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for _, k := range keys {
			out += fmt.Sprintf("%q:%s,", k, canonicalScalar(t[k]))
		}
		return out + "}"
	case []any:
		out := "["
		for _, e := range t {
			out += canonicalScalar(e) + ","
		}
		return out + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
