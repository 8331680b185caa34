package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// HostArchTag returns the machine architecture tag used in PluginInputs,
// e.g. "linux/amd64".
func HostArchTag() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}

// HostInterpreterTag returns this process's Go runtime version. The Artifact
// Cache uses it as the interpreter tag in every plugin's fingerprint inputs,
// whatever the plugin's kind.
func HostInterpreterTag() string {
	return runtime.Version()
}

// CompatibleInterpreter reports whether the host's interpreter satisfies a
// plugin's declared semver constraint (e.g. ">=3.9,<4.0"). A plugin with no
// constraint is always compatible.
func CompatibleInterpreter(constraint, hostVersion string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parsing interpreter constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return false, fmt.Errorf("parsing host version %q: %w", hostVersion, err)
	}
	return c.Check(v), nil
}

// FileDigest returns the 40-hex sha1 digest of a file's content, for use as
// one element of TaskInputs.FileDigests.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digesting %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digesting %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BytesDigest returns the 40-hex sha1 digest of b, used for schema
// fingerprints in the reservoir where the schema arrives as an in-memory
// SCHEMA message rather than a file on disk.
func BytesDigest(b []byte) string {
	h := sha1.Sum(b)
	return hex.EncodeToString(h[:])
}
