package pipeline

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/state"
)

// execCommand is the constructor Runner uses for every plugin process. The
// package's tests leave it as is and run real sh commands through it.
var execCommand = exec.Command

// Invocation is everything Runner needs to start one plugin process.
type Invocation struct {
	Exe  string
	Args []string
	Env  []string
	Dir  string
}

// Spec bundles a pipeline run's resolved invocations and transform rules.
type Spec struct {
	Tap    Invocation
	Target Invocation

	PIIFields map[string]bool
	PIISalt   []byte

	// StreamMapExe, if set, is spawned as a filter process between the
	// transformer and the target: tap stdout -> transform -> stream-map
	// stdin, stream-map stdout -> target stdin.
	StreamMapExe  string
	StreamMapArgs []string
	StreamMapEnv  []string
	StreamMapDir  string

	GracePeriod time.Duration
}

// Result reports how a pipeline run ended.
type Result struct {
	TapExitCode    int
	TargetExitCode int
	FinalState     state.Snapshot
}

// Runner executes one tap/target pipeline, per spec.md §4.7.
type Runner struct {
	Stderr io.Writer
}

// NewRunner returns a Runner writing tap/target stderr to stderr (os.Stderr
// if nil).
func NewRunner(stderr io.Writer) *Runner {
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Runner{Stderr: stderr}
}

// Run spawns tap and target, wires tap stdout through a Transformer (and
// optional stream-map filter) into target stdin, and waits for both to
// exit. Canceling ctx sends the tap SIGTERM, waits spec.GracePeriod (or
// until the tap exits, whichever is first), then sends the target SIGTERM.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	tapCmd := execCommand(spec.Tap.Exe, spec.Tap.Args...)
	tapCmd.Env = spec.Tap.Env
	tapCmd.Dir = spec.Tap.Dir
	tapCmd.Stderr = r.Stderr

	targetCmd := execCommand(spec.Target.Exe, spec.Target.Args...)
	targetCmd.Env = spec.Target.Env
	targetCmd.Dir = spec.Target.Dir
	targetCmd.Stderr = r.Stderr

	tapOut, err := tapCmd.StdoutPipe()
	if err != nil {
		return nil, alterr.NewPipelineFailure("tap-start", err)
	}
	targetIn, err := targetCmd.StdinPipe()
	if err != nil {
		return nil, alterr.NewPipelineFailure("target-start", err)
	}
	targetOut, err := targetCmd.StdoutPipe()
	if err != nil {
		return nil, alterr.NewPipelineFailure("target-start", err)
	}

	var midReader io.Reader = tapOut
	var midWriter io.WriteCloser = targetIn
	var streamMapCmd *exec.Cmd

	if spec.StreamMapExe != "" {
		streamMapCmd = execCommand(spec.StreamMapExe, spec.StreamMapArgs...)
		streamMapCmd.Env = spec.StreamMapEnv
		streamMapCmd.Dir = spec.StreamMapDir
		streamMapCmd.Stderr = r.Stderr
		streamMapCmd.Stdout = targetIn

		smIn, err := streamMapCmd.StdinPipe()
		if err != nil {
			return nil, alterr.NewPipelineFailure("stream-map-start", err)
		}
		midWriter = smIn
	}

	transformer := &Transformer{
		PIIFields: spec.PIIFields,
		Salt:      spec.PIISalt,
	}

	if err := tapCmd.Start(); err != nil {
		return nil, alterr.NewPipelineFailure("tap-start", err)
	}
	if err := targetCmd.Start(); err != nil {
		return nil, alterr.NewPipelineFailure("target-start", err)
	}
	if streamMapCmd != nil {
		if err := streamMapCmd.Start(); err != nil {
			return nil, alterr.NewPipelineFailure("stream-map-start", err)
		}
	}

	var tapErr, targetErr error
	tapExited := make(chan struct{})
	targetExited := make(chan struct{})
	go func() { tapErr = tapCmd.Wait(); close(tapExited) }()
	go func() { targetErr = targetCmd.Wait(); close(targetExited) }()

	watchDone := make(chan struct{})
	go r.watchCancellation(ctx, tapCmd, targetCmd, spec.GracePeriod, tapExited, watchDone)
	defer close(watchDone)

	transformErr := make(chan error, 1)
	go func() {
		err := transformer.Pipe(ctx, midReader, midWriter)
		midWriter.Close()
		transformErr <- err
	}()

	stateErr := make(chan error, 1)
	go func() { stateErr <- transformer.WatchState(ctx, targetOut) }()

	<-tapExited
	pipeErr := <-transformErr
	if streamMapCmd != nil {
		_ = streamMapCmd.Wait()
	}
	<-targetExited
	watchErr := <-stateErr

	result := &Result{
		TapExitCode:    exitCode(tapErr),
		TargetExitCode: exitCode(targetErr),
		FinalState:     transformer.LatestState(),
	}

	if pipeErr != nil {
		return result, pipeErr
	}
	if watchErr != nil {
		return result, watchErr
	}
	if tapErr != nil {
		return result, alterr.NewPipelineFailure("tap", tapErr)
	}
	if targetErr != nil {
		return result, alterr.NewPipelineFailure("target", targetErr)
	}
	return result, nil
}

// watchCancellation implements §4.7's cancellation ordering: tap SIGTERM
// first, then (after grace or tap exit) target SIGTERM. It never calls
// Wait itself — tapExited is closed by the goroutine that owns the real
// Wait call — since calling Wait more than once on a *exec.Cmd is invalid.
func (r *Runner) watchCancellation(ctx context.Context, tapCmd, targetCmd *exec.Cmd, grace time.Duration, tapExited, done chan struct{}) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}

	signalProcess(tapCmd, syscall.SIGTERM)

	select {
	case <-time.After(grace):
	case <-tapExited:
	case <-done:
		return
	}
	signalProcess(targetCmd, syscall.SIGTERM)
}

func signalProcess(cmd *exec.Cmd, sig os.Signal) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(sig)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
