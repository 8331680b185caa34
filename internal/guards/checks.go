package guards

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// kebabCaseRegex matches valid kebab-case identifiers: lowercase letters, digits, and hyphens.
var kebabCaseRegex = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// --- Registration Guards ---
// These guards run when a PluginSpec is added to a Registry.

// KebabCaseName ensures a plugin's name follows kebab-case convention, the
// same naming discipline projected config and cache paths assume.
var KebabCaseName = NewGuardFunc("kebab_case_name", func(_ context.Context, gctx *GuardContext) Result {
	if gctx.PluginName == "" {
		return Pass("kebab_case_name")
	}
	if kebabCaseRegex.MatchString(gctx.PluginName) {
		return Pass("kebab_case_name")
	}
	return Fail("kebab_case_name", HardBlock,
		"Plugin name must be kebab-case (lowercase letters, digits, and hyphens, starting with a letter). Got: "+gctx.PluginName,
		"Rename the plugin to something like 'tap-postgres' or 'target-snowflake'.",
	)
})

// NoDuplicateName ensures two specs of the same kind never share a name —
// Registry.Resolve has no way to disambiguate which one a pipeline meant.
var NoDuplicateName = NewGuardFunc("no_duplicate_name", func(_ context.Context, gctx *GuardContext) Result {
	if !gctx.NameIsDuplicate {
		return Pass("no_duplicate_name")
	}
	return Fail("no_duplicate_name", HardBlock,
		fmt.Sprintf("Another %s plugin is already registered as %q.", gctx.Kind, gctx.PluginName),
		"Rename one of the two specs, or remove the duplicate.",
	)
})

// NoInheritCycle ensures a spec's inherit_from chain terminates.
var NoInheritCycle = NewGuardFunc("no_inherit_cycle", func(_ context.Context, gctx *GuardContext) Result {
	if !gctx.HasInheritCycle {
		return Pass("no_inherit_cycle")
	}
	return Fail("no_inherit_cycle", HardBlock,
		"inherit_from chain forms a cycle: "+strings.Join(gctx.InheritChain, " -> "),
		"Break the cycle by removing or redirecting one of the inherit_from references.",
	)
})

// ExecutableResolves ensures a spec declares (or can default to) something
// to exec at pipeline-run time.
var ExecutableResolves = NewGuardFunc("executable_resolves", func(_ context.Context, gctx *GuardContext) Result {
	if !gctx.MissingExecutable {
		return Pass("executable_resolves")
	}
	return Fail("executable_resolves", HardBlock,
		fmt.Sprintf("Plugin %q declares no executable and its name doesn't resolve to one on PATH.", gctx.PluginName),
		"Set executable in the spec, or name the plugin after its binary.",
	)
})

// RequiredConfigPresent soft-blocks when a spec's declared-required config keys
// are left unset after environment and accent overlays are applied.
var RequiredConfigPresent = NewGuardFunc("required_config_present", func(_ context.Context, gctx *GuardContext) Result {
	if len(gctx.RequiredConfigSet) == 0 {
		return Pass("required_config_present")
	}
	return Fail("required_config_present", SoftBlock,
		fmt.Sprintf("Plugin %q is missing required config keys: %s.", gctx.PluginName, joinComma(gctx.RequiredConfigSet)),
		"Set the missing keys in the spec's config, an environment overlay, or an accent, or use force=true to project anyway.",
	)
})

// --- Pipeline Guards ---
// These guards validate a tap/target pairing before ProjectPipeline runs it.

// AccentTargetExists ensures a tap's accent overlay names a target that is
// actually registered, so the overlay isn't silently dropped.
var AccentTargetExists = NewGuardFunc("accent_target_exists", func(_ context.Context, gctx *GuardContext) Result {
	if !gctx.HasAccentForUnknownTarget {
		return Pass("accent_target_exists")
	}
	return Fail("accent_target_exists", Warning,
		fmt.Sprintf("Plugin %q declares an accent for target %q, which isn't registered.", gctx.PluginName, gctx.TargetName),
		"Register the target, or remove the stale accent entry.",
	)
})

// --- Guard Sets ---
// Pre-built guard collections for each operation.

// RegistrationGuards returns the guards that run when a spec is added to a Registry.
func RegistrationGuards() []Guard {
	return []Guard{
		KebabCaseName,
		NoDuplicateName,
		NoInheritCycle,
		ExecutableResolves,
	}
}

// ProjectionGuards returns the guards that run before a pipeline's config is projected.
func ProjectionGuards() []Guard {
	return []Guard{
		RequiredConfigPresent,
		AccentTargetExists,
	}
}

// joinComma joins strings with commas and "and" for the last element.
func joinComma(ss []string) string {
	switch len(ss) {
	case 0:
		return ""
	case 1:
		return ss[0]
	case 2:
		return ss[0] + " and " + ss[1]
	default:
		return strings.Join(ss[:len(ss)-1], ", ") + ", and " + ss[len(ss)-1]
	}
}
