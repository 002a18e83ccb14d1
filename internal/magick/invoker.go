package magick

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Result is the outcome of one external invocation.
//
// A non-zero ExitCode is a normal outcome, not an error; callers translate it
// into a stage failure.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes a single command. Arguments are passed to the process as
// discrete tokens; no shell is involved.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args []string) (Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args []string) (Result, error) {
	return f(ctx, name, args)
}

// ExecRunner runs commands with os/exec. It blocks until the process exits or
// ctx is done, in which case the process is killed.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args []string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", filepath.Base(name), ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return res, nil
}

// Tool names the ImageMagick binaries inside an install directory.
type Tool struct {
	Dir       string
	Convert   string
	Composite string
}

// NewTool returns a Tool for the binaries in dir. dir must be an existing
// directory.
func NewTool(dir, convert, composite string) (Tool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Tool{}, fmt.Errorf("imagemagick path %q: %w", dir, err)
	}
	if !info.IsDir() {
		return Tool{}, fmt.Errorf("imagemagick path %q is not a directory", dir)
	}
	if convert == "" {
		convert = "convert"
	}
	if composite == "" {
		composite = "composite"
	}
	return Tool{Dir: dir, Convert: convert, Composite: composite}, nil
}

// Command returns the host path for a binary name.
func (t Tool) Command(name string) string {
	path := filepath.Join(t.Dir, name)
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(path), ".exe") {
		path += ".exe"
	}
	return path
}

// ConvertPath is the resolved path of the conversion command.
func (t Tool) ConvertPath() string { return t.Command(t.Convert) }

// CompositePath is the resolved path of the compositing command.
func (t Tool) CompositePath() string { return t.Command(t.Composite) }

// Check verifies the conversion command can be run. It is meant to run once
// at process start.
func (t Tool) Check(ctx context.Context, r Runner) error {
	res, err := r.Run(ctx, t.ConvertPath(), []string{"-version"})
	if err != nil {
		return &Error{Kind: KindInvocation, Op: "check", Path: t.ConvertPath(), Err: err}
	}
	if res.ExitCode != 0 {
		return &Error{
			Kind:     KindInvocation,
			Op:       "check",
			Path:     t.ConvertPath(),
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
			Err:      errors.New("imagemagick is not installed or not runnable"),
		}
	}
	return nil
}
