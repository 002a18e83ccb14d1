package magick

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Save re-encodes the current file to dest. The output format follows the
// extension of dest; quality is passed to the tool only when positive.
//
// The tool writes to a hidden file beside dest which is renamed into place
// on success, so a failed save leaves nothing behind and never clobbers an
// existing dest. Session state is not changed.
func (s *Session) Save(ctx context.Context, dest string, quality int) error {
	const op = "save"
	if dest == "" {
		return invalidf(op, "destination is empty")
	}
	if quality < 0 || quality > 100 {
		return invalidf(op, "quality must be between 0 and 100, got %d", quality)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return ioError(op, dest, err)
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()

	tmp := filepath.Join(filepath.Dir(abs), "."+scratchPrefix+uuid.NewString()+filepath.Ext(abs))
	discard := func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.engine.log.Warn("failed to remove partial save", zap.String("path", tmp), zap.Error(err))
		}
	}

	if _, err := s.engine.invoke(ctx, op, s.engine.convert(exportArgs(s.input(), tmp, quality))); err != nil {
		discard()
		return err
	}
	if err := checkWritten(tmp); err != nil {
		discard()
		return err
	}
	if err := os.Rename(tmp, abs); err != nil {
		discard()
		return ioError(op, abs, err)
	}
	return nil
}

// Render re-encodes the current file as format and returns the encoded
// bytes. The intermediate file is always removed. Session state is not
// changed.
func (s *Session) Render(ctx context.Context, format string, quality int) ([]byte, error) {
	const op = "render"
	tag, ok := renderTag(format)
	if !ok {
		return nil, invalidf(op, "unsupported format %q", format)
	}
	if quality < 0 || quality > 100 {
		return nil, invalidf(op, "quality must be between 0 and 100, got %d", quality)
	}
	if err := s.lock(op); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	tmp, err := s.engine.scratch.Allocate()
	if err != nil {
		return nil, err
	}
	defer s.engine.release(tmp)

	if _, err := s.engine.invoke(ctx, op, s.engine.convert(exportArgs(s.input(), tagged(tag, tmp), quality))); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, ioError(op, tmp, err)
	}
	if len(data) == 0 {
		return nil, probeError(tmp, ProbeEmpty, nil)
	}
	return data, nil
}
