package magick

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options configures an Engine.
type Options struct {
	// Tool locates the convert and composite binaries. It is expected to have
	// passed Tool.Check already.
	Tool Tool

	// Runner executes commands. Defaults to ExecRunner.
	Runner Runner

	// Scratch holds every intermediate file. Required.
	Scratch *Scratch

	// Timeout bounds each external invocation. Zero means no limit.
	Timeout time.Duration

	// Logger receives invocation and cleanup events. Defaults to a no-op.
	Logger *zap.Logger
}

// Engine builds and runs the staged commands for sessions. It holds no
// per-image state and may be shared by any number of sessions.
type Engine struct {
	tool    Tool
	runner  Runner
	scratch *Scratch
	timeout time.Duration
	log     *zap.Logger
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Scratch == nil {
		return nil, errors.New("magick: scratch directory is required")
	}
	if opts.Tool.Dir == "" {
		return nil, errors.New("magick: tool directory is required")
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		tool:    opts.Tool,
		runner:  opts.Runner,
		scratch: opts.Scratch,
		timeout: opts.Timeout,
		log:     opts.Logger.Named("magick"),
	}, nil
}

// Scratch returns the engine's scratch directory.
func (e *Engine) Scratch() *Scratch {
	return e.scratch
}

// Tool returns the engine's tool locations.
func (e *Engine) Tool() Tool {
	return e.tool
}

// Open loads the image at path into a new, unmodified Session. Files that
// are not readable images fail here with ErrProbe, before any transform.
func (e *Engine) Open(ctx context.Context, path string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := canonicalPath(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", probeErrorFor(path, err))
	}
	meta, err := Probe(resolved)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	e.log.Debug("session opened",
		zap.String("source", resolved),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.String("format", meta.Format))
	return e.newSession(resolved, meta), nil
}

func (e *Engine) newSession(source string, meta Metadata) *Session {
	return &Session{engine: e, source: source, meta: meta}
}

func (e *Engine) convert(args []string) call {
	return call{name: e.tool.ConvertPath(), args: args}
}

func (e *Engine) composite(args []string) call {
	return call{name: e.tool.CompositePath(), args: args}
}

// invoke runs one command and turns spawn errors, timeouts and non-zero exits
// into KindInvocation errors.
func (e *Engine) invoke(ctx context.Context, op string, c call) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.log.Debug("invoking tool",
		zap.String("op", op),
		zap.String("command", c.name),
		zap.Strings("args", c.args))

	res, err := e.runner.Run(ctx, c.name, c.args)
	if err != nil {
		e.log.Warn("tool invocation failed",
			zap.String("op", op),
			zap.String("command", c.name),
			zap.Error(err))
		return res, &Error{Kind: KindInvocation, Op: op, Path: c.name, Err: err}
	}
	if res.ExitCode != 0 {
		stderr := strings.TrimSpace(string(res.Stderr))
		e.log.Warn("tool exited non-zero",
			zap.String("op", op),
			zap.String("command", c.name),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", stderr))
		return res, &Error{Kind: KindInvocation, Op: op, Path: c.name, ExitCode: res.ExitCode, Stderr: stderr}
	}
	return res, nil
}

// release deletes a scratch file, logging rather than failing. It is only
// called for files this engine allocated.
func (e *Engine) release(path string) {
	if err := e.scratch.Release(path); err != nil {
		e.log.Warn("failed to release scratch file", zap.String("path", path), zap.Error(err))
	}
}
