package magick

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Session is the mutable state of one image flowing through the pipeline.
//
// A Session starts unmodified, reading from its source file. Each successful
// transform writes a new scratch file, probes it, and swaps it in as the
// working file, deleting the one it replaced. A failed transform leaves the
// session exactly as it was. The source file is never modified or deleted.
//
// Operations on one Session are serialized; distinct sessions can run in
// parallel. Call Close when done so the working file is released.
type Session struct {
	mu      sync.Mutex
	engine  *Engine
	source  string
	working string
	meta    Metadata
	closed  bool
}

// Source returns the canonical path of the original image.
func (s *Session) Source() string {
	return s.source
}

// File returns the file the next stage will read: the working file once the
// session has been modified, the source file before that.
func (s *Session) File() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input()
}

// WorkingFile returns the current scratch file, or "" when unmodified.
func (s *Session) WorkingFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working
}

// Modified reports whether any transform has been committed.
func (s *Session) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working != ""
}

// Metadata returns the probed description of File.
func (s *Session) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Close releases the working file. It is safe to call more than once; any
// other operation on a closed session fails with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	working := s.working
	s.working = ""
	if working == "" {
		return nil
	}
	return s.engine.scratch.Release(working)
}

func (s *Session) input() string {
	if s.working != "" {
		return s.working
	}
	return s.source
}

func (s *Session) lock(op string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &Error{Kind: KindClosed, Op: op}
	}
	return nil
}

// commit swaps in a new working file and releases the one it supersedes.
func (s *Session) commit(op, out string, meta Metadata) {
	prev := s.working
	s.working = out
	s.meta = meta
	if prev != "" && prev != s.source {
		s.engine.release(prev)
	}
	s.engine.log.Debug("stage committed",
		zap.String("op", op),
		zap.String("file", out),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.String("format", meta.Format))
}

// stage runs one single-invocation transform: allocate, invoke, probe,
// commit. Any failure releases the new output and returns without touching
// the session. Callers must hold s.mu.
func (s *Session) stage(ctx context.Context, op string, reprobe bool, build func(in, out string) call) error {
	out, err := s.engine.scratch.Allocate()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.engine.invoke(ctx, op, build(s.input(), out)); err != nil {
		s.engine.release(out)
		return err
	}

	meta := s.meta
	if reprobe {
		if meta, err = Probe(out); err != nil {
			s.engine.release(out)
			return fmt.Errorf("%s: %w", op, err)
		}
	} else if err := checkWritten(out); err != nil {
		s.engine.release(out)
		return fmt.Errorf("%s: %w", op, err)
	}

	s.commit(op, out, meta)
	return nil
}

func checkWritten(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return probeErrorFor(path, err)
	}
	if info.Size() == 0 {
		return probeError(path, ProbeEmpty, nil)
	}
	return nil
}
