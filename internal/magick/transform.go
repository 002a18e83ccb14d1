package magick

import (
	"context"
	"fmt"
	"strings"
)

// Direction selects the mirror axis for Flip.
type Direction int

const (
	// FlipHorizontal mirrors left to right.
	FlipHorizontal Direction = iota + 1
	// FlipVertical mirrors top to bottom.
	FlipVertical
)

func (d Direction) String() string {
	switch d {
	case FlipHorizontal:
		return "horizontal"
	case FlipVertical:
		return "vertical"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "horizontal" or "vertical".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "horizontal", "h":
		return FlipHorizontal, nil
	case "vertical", "v":
		return FlipVertical, nil
	default:
		return 0, invalidf("flip", "unknown direction %q", s)
	}
}

func checkPercent(op, name string, v int) error {
	if v < 0 || v > 100 {
		return invalidf(op, "%s must be between 0 and 100, got %d", name, v)
	}
	return nil
}

func checkSize(op string, width, height int) error {
	if width <= 0 || height <= 0 {
		return invalidf(op, "size must be positive, got %dx%d", width, height)
	}
	return nil
}

// Resize scales the image to exactly width x height. Aspect ratio is the
// caller's concern.
func (s *Session) Resize(ctx context.Context, width, height int) error {
	const op = "resize"
	if err := checkSize(op, width, height); err != nil {
		return err
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.stage(ctx, op, true, func(in, out string) call {
		return s.engine.convert(resizeArgs(in, out, width, height))
	})
}

// Crop keeps the width x height region whose top-left corner is at
// (offsetX, offsetY). Regions running past the edge are clamped by the tool;
// the committed size is whatever the output really is.
func (s *Session) Crop(ctx context.Context, width, height, offsetX, offsetY int) error {
	const op = "crop"
	if err := checkSize(op, width, height); err != nil {
		return err
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.crop(ctx, width, height, offsetX, offsetY)
}

func (s *Session) crop(ctx context.Context, width, height, offsetX, offsetY int) error {
	return s.stage(ctx, "crop", true, func(in, out string) call {
		return s.engine.convert(cropArgs(in, out, width, height, offsetX, offsetY))
	})
}

// Rotate turns the image clockwise by degrees. Output is always PNG so the
// uncovered corners stay transparent.
func (s *Session) Rotate(ctx context.Context, degrees int) error {
	const op = "rotate"
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.stage(ctx, op, true, func(in, out string) call {
		return s.engine.convert(rotateArgs(in, out, degrees))
	})
}

// Flip mirrors the image. Flipping cannot change geometry, so the output is
// not re-probed; only the working file changes.
func (s *Session) Flip(ctx context.Context, dir Direction) error {
	const op = "flip"
	if dir != FlipHorizontal && dir != FlipVertical {
		return invalidf(op, "unknown direction %v", dir)
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.flip(ctx, dir)
}

func (s *Session) flip(ctx context.Context, dir Direction) error {
	return s.stage(ctx, "flip", false, func(in, out string) call {
		return s.engine.convert(flipArgs(in, out, dir))
	})
}

// Sharpen applies an unsharp radius derived from amount (0-100). Amounts
// below 5 behave like 5.
func (s *Session) Sharpen(ctx context.Context, amount int) error {
	const op = "sharpen"
	if err := checkPercent(op, "amount", amount); err != nil {
		return err
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.stage(ctx, op, true, func(in, out string) call {
		return s.engine.convert(sharpenArgs(in, out, amount))
	})
}

// Reflection appends a mirrored, fading copy of the bottom height rows below
// the image. opacity (0-100) is the strength at the edge touching the image;
// fadeIn reverses the gradient. The result is PNG and height rows taller.
//
// Five invocations are involved. If any fails, every file this call created
// is released and the session is left untouched.
func (s *Session) Reflection(ctx context.Context, height, opacity int, fadeIn bool) error {
	const op = "reflection"
	if height <= 0 {
		return invalidf(op, "height must be positive, got %d", height)
	}
	if err := checkPercent(op, "opacity", opacity); err != nil {
		return err
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()

	in, meta := s.input(), s.meta
	if height > meta.Height {
		height = meta.Height
	}

	var intermediates []string
	defer func() {
		for _, path := range intermediates {
			s.engine.release(path)
		}
	}()

	// The strip lives in its own session so its working file is chained and
	// released the same way as any other stage.
	strip := s.engine.newSession(in, meta)
	defer strip.Close()

	if err := strip.crop(ctx, meta.Width, height, 0, meta.Height-height); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := strip.flip(ctx, FlipVertical); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	mask, err := s.engine.scratch.Allocate()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	intermediates = append(intermediates, mask)
	gradient := gradientArgs(mask, strip.meta.Width, strip.meta.Height, alphaLevel(opacity), fadeIn)
	if _, err := s.engine.invoke(ctx, op, s.engine.convert(gradient)); err != nil {
		return err
	}

	faded, err := s.engine.scratch.Allocate()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	intermediates = append(intermediates, faded)
	if _, err := s.engine.invoke(ctx, op, s.engine.convert(copyOpacityArgs(strip.input(), mask, faded))); err != nil {
		return err
	}

	return s.stage(ctx, op, true, func(in, out string) call {
		return s.engine.convert(appendArgs(in, faded, out))
	})
}

// Watermark composites overlay (encoded image bytes) onto the image with its
// top-left corner at (offsetX, offsetY), dissolved to opacity percent. The
// overlay is staged in a scratch file that is always removed afterwards.
func (s *Session) Watermark(ctx context.Context, overlay []byte, offsetX, offsetY, opacity int) error {
	const op = "watermark"
	if len(overlay) == 0 {
		return invalidf(op, "overlay is empty")
	}
	if err := checkPercent(op, "opacity", opacity); err != nil {
		return err
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()

	mark, err := s.engine.scratch.Write(overlay)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.engine.release(mark)

	return s.stage(ctx, op, true, func(in, out string) call {
		return s.engine.composite(dissolveArgs(mark, in, out, offsetX, offsetY, opacity))
	})
}

// WatermarkSession renders overlay as PNG and composites it like Watermark.
func (s *Session) WatermarkSession(ctx context.Context, overlay *Session, offsetX, offsetY, opacity int) error {
	data, err := overlay.Render(ctx, "png", 0)
	if err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	return s.Watermark(ctx, data, offsetX, offsetY, opacity)
}

// Background flattens the image onto an r,g,b colour at opacity percent.
func (s *Session) Background(ctx context.Context, r, g, b, opacity int) error {
	const op = "background"
	for _, c := range []int{r, g, b} {
		if c < 0 || c > 255 {
			return invalidf(op, "colour channels must be between 0 and 255, got %d,%d,%d", r, g, b)
		}
	}
	if err := checkPercent(op, "opacity", opacity); err != nil {
		return err
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.stage(ctx, op, true, func(in, out string) call {
		return s.engine.convert(backgroundArgs(in, out, r, g, b, opacity))
	})
}

// CreateCanvas replaces the image with a transparent width x height canvas
// that has the current image flattened onto its top-left corner.
func (s *Session) CreateCanvas(ctx context.Context, width, height int) error {
	const op = "canvas"
	if err := checkSize(op, width, height); err != nil {
		return err
	}
	if err := s.lock(op); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.stage(ctx, op, true, func(in, out string) call {
		return s.engine.convert(canvasArgs(in, out, width, height))
	})
}
