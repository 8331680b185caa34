package guards

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKebabCaseNameRejectsUpperCase(t *testing.T) {
	gctx := &GuardContext{PluginName: "Tap-Postgres"}
	result := KebabCaseName.Check(context.Background(), gctx)
	assert.False(t, result.Passed)
	assert.Equal(t, HardBlock, result.Severity)
}

func TestNoInheritCycleDetectsTwoSpecCycle(t *testing.T) {
	existing := map[string]SpecView{
		"base":  {Name: "base", Kind: "tap", Executable: "tap-base", InheritFrom: "child"},
		"child": {Name: "child", Kind: "tap", InheritFrom: "base"},
	}

	gctx := PopulateSpecState(context.Background(), existing, existing["child"])
	assert.True(t, gctx.HasInheritCycle)

	result := NoInheritCycle.Check(context.Background(), gctx)
	assert.False(t, result.Passed)
	assert.Equal(t, HardBlock, result.Severity)
}

func TestExecutableResolvesPassesForEntrypointWithInterpreter(t *testing.T) {
	candidate := SpecView{
		Name:                  "tap-custom",
		Kind:                  "tap",
		Entrypoint:            "main.py",
		InterpreterConstraint: "python3.11",
	}

	gctx := PopulateSpecState(context.Background(), nil, candidate)
	assert.False(t, gctx.MissingExecutable)

	result := ExecutableResolves.Check(context.Background(), gctx)
	assert.True(t, result.Passed)
}

func TestNoDuplicateNameFlagsSameKindCollision(t *testing.T) {
	existing := map[string]SpecView{
		"tap-salesforce": {Name: "tap-salesforce", Kind: "tap", Executable: "tap-salesforce"},
	}
	candidate := SpecView{Name: "tap-salesforce", Kind: "tap", Executable: "tap-salesforce"}

	gctx := PopulateSpecState(context.Background(), existing, candidate)
	assert.True(t, gctx.NameIsDuplicate)

	result := NoDuplicateName.Check(context.Background(), gctx)
	assert.False(t, result.Passed)
	assert.Equal(t, HardBlock, result.Severity)
}

func TestRequiredConfigPresentFlagsUnresolvedSentinel(t *testing.T) {
	projected := map[string]any{"client_id": "abc", "client_secret": requiredConfigValue}

	gctx := PopulateProjectionState("tap-salesforce", "tap", "", projected, false, false)
	assert.Equal(t, []string{"client_secret"}, gctx.RequiredConfigSet)

	result := RequiredConfigPresent.Check(context.Background(), gctx)
	assert.False(t, result.Passed)
	assert.Equal(t, SoftBlock, result.Severity)
}

func TestAccentTargetExistsWarnsOnUnknownTarget(t *testing.T) {
	gctx := PopulateProjectionState("tap-salesforce", "tap", "target-ghost", nil, true, false)
	assert.True(t, gctx.HasAccentForUnknownTarget)

	result := AccentTargetExists.Check(context.Background(), gctx)
	assert.False(t, result.Passed)
	assert.Equal(t, Warning, result.Severity)
}

func TestRunnerBlocksOnHardBlockRegardlessOfForce(t *testing.T) {
	gctx := &GuardContext{PluginName: "Bad Name", Force: true}
	runner := NewRunner()
	outcome := runner.Run(context.Background(), gctx, RegistrationGuards())
	assert.True(t, outcome.Blocked)
	assert.NotEmpty(t, outcome.HardBlocks())
}

func TestRunnerAllowsSoftBlockOverrideWithForce(t *testing.T) {
	projected := map[string]any{"client_secret": requiredConfigValue}
	gctx := PopulateProjectionState("tap-salesforce", "tap", "", projected, false, false)
	gctx.Force = true

	runner := NewRunner()
	outcome := runner.Run(context.Background(), gctx, ProjectionGuards())
	assert.False(t, outcome.Blocked)
	assert.NotEmpty(t, outcome.SoftBlocks())
}
