package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/altorun/alto/internal/plugin"
)

// PipInstaller builds a plugin by pip-installing its InstallURL into an
// isolated destDir, the packaging mechanism the Singer/Meltano ecosystem's
// taps and targets are overwhelmingly published through (a PyPI package
// name, a version-pinned requirement, or a VCS/archive URL).
type PipInstaller struct {
	// PythonExe is the interpreter to invoke pip through (e.g. "python3.11"
	// when spec.InterpreterConstraint names one); defaults to "python3".
	PythonExe string
}

// Build implements Cache.Builder.
func (p *PipInstaller) Build(ctx context.Context, spec *plugin.Spec, destDir string) error {
	python := p.PythonExe
	if python == "" {
		python = "python3"
	}
	if spec.InterpreterConstraint != "" {
		python = spec.InterpreterConstraint
	}

	installURL := spec.InstallURL
	if installURL == "" {
		installURL = spec.ExecutableOrName()
	}

	args := []string{"-m", "pip", "install", "--target", destDir, "--no-input", installURL}
	cmd := exec.CommandContext(ctx, python, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pip install %s: %w: %s", installURL, err, stderr.String())
	}
	return nil
}
