// File: internal/sandbox/sandbox.go
// Description: Runs one tool invocation inside an isolated container and
// returns raw output plus exit status. Each invocation gets an exclusive
// scratch directory; nothing is shared between concurrent invocations.

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/config"
	"github.com/rdSoftInc/deadbolt/internal/registry"
)

// execCommandContext is swapped out in tests to fake the container runtime.
var execCommandContext = exec.CommandContext

// Error is a sandbox execution failure with a reportable sub-kind.
type Error struct {
	Kind schemas.FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result captures everything observable from one sandboxed execution. The
// raw output is preserved regardless of success or failure.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte

	// Output is the content of the tool's declared output file. Tools
	// without a file output fall back to stdout.
	Output []byte

	// OutputPath is where Output was persisted inside the scratch dir.
	OutputPath string

	Duration time.Duration
}

// Adapter executes tool invocations through the configured container
// runtime. It is safe for concurrent use; every call operates on its own
// scratch directory.
type Adapter struct {
	cfg     config.SandboxConfig
	timeout time.Duration
	logger  *zap.Logger
}

// New constructs an adapter. The timeout caps each execution; exceeding
// it terminates the container process and reports a timeout failure.
func New(cfg config.SandboxConfig, timeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.Named("sandbox"),
	}
}

// imageRef resolves a descriptor image to a full reference. Images with a
// registry path are used verbatim; bare names get the configured prefix.
func (a *Adapter) imageRef(image string) string {
	if strings.Contains(image, "/") {
		return image
	}
	return a.cfg.ImagePrefix + image
}

// Execute runs the tool against the given input file, writing everything
// it produces under scratchDir. The input is mounted read-only at the
// descriptor's declared mount point and the scratch dir at /output.
func (a *Adapter) Execute(ctx context.Context, desc registry.ToolDescriptor, inputFile, scratchDir string) (*Result, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, &Error{Kind: schemas.FailureResource, Err: err}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if a.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	args := []string{"run", "--rm"}
	if inputFile != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s:ro", inputFile, desc.InputMount))
	}
	args = append(args, "-v", fmt.Sprintf("%s:/output", scratchDir))
	if desc.Entrypoint != "" {
		args = append(args, "--entrypoint", desc.Entrypoint)
	}
	args = append(args, a.imageRef(desc.Image))
	args = append(args, desc.Args...)

	cmd := execCommandContext(runCtx, a.cfg.Runtime, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	a.logger.Debug("Executing tool container",
		zap.String("tool", desc.Name),
		zap.String("image", a.imageRef(desc.Image)))

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	// Persist whatever the tool wrote, before classifying the outcome.
	// Raw evidence is kept per tool even when the run failed.
	if err := a.collectOutput(desc, scratchDir, res); err != nil {
		a.logger.Warn("Could not collect tool output",
			zap.String("tool", desc.Name), zap.Error(err))
	}

	if runErr != nil {
		return res, a.classify(runCtx, runErr, res)
	}
	return res, nil
}

// collectOutput reads the declared output file into the result. Tools
// that only write stdout get it mirrored into the scratch dir so the raw
// evidence survives on disk either way.
func (a *Adapter) collectOutput(desc registry.ToolDescriptor, scratchDir string, res *Result) error {
	outPath := filepath.Join(scratchDir, filepath.FromSlash(desc.OutputName))
	if data, err := os.ReadFile(outPath); err == nil {
		res.Output = data
		res.OutputPath = outPath
		return nil
	}

	// Fall back to captured stdout.
	res.Output = res.Stdout
	res.OutputPath = filepath.Join(scratchDir, "stdout.txt")
	return os.WriteFile(res.OutputPath, res.Stdout, 0o644)
}

func (a *Adapter) classify(ctx context.Context, runErr error, res *Result) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: schemas.FailureTimeout, Err: fmt.Errorf("execution exceeded %s", a.timeout)}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: schemas.FailureCancelled, Err: ctx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &Error{
			Kind: schemas.FailureNonZeroExit,
			Err:  fmt.Errorf("exit status %d: %s", res.ExitCode, firstLine(res.Stderr)),
		}
	}

	// Runtime binary missing, daemon unreachable, and similar.
	return &Error{Kind: schemas.FailureResource, Err: runErr}
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
