package magick

import (
	"context"
	"fmt"
)

// Step is one named transform that can be replayed on any session.
type Step struct {
	Name  string
	Apply func(ctx context.Context, s *Session) error
}

// Apply runs steps in order and stops at the first failure. Every step is
// atomic, so on error the session reflects the last step that succeeded.
func (s *Session) Apply(ctx context.Context, steps ...Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Apply(ctx, s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Name, err)
		}
	}
	return nil
}

// ResizeStep replays Session.Resize.
func ResizeStep(width, height int) Step {
	return Step{Name: "resize", Apply: func(ctx context.Context, s *Session) error {
		return s.Resize(ctx, width, height)
	}}
}

// CropStep replays Session.Crop.
func CropStep(width, height, offsetX, offsetY int) Step {
	return Step{Name: "crop", Apply: func(ctx context.Context, s *Session) error {
		return s.Crop(ctx, width, height, offsetX, offsetY)
	}}
}

// RotateStep replays Session.Rotate.
func RotateStep(degrees int) Step {
	return Step{Name: "rotate", Apply: func(ctx context.Context, s *Session) error {
		return s.Rotate(ctx, degrees)
	}}
}

// FlipStep replays Session.Flip.
func FlipStep(dir Direction) Step {
	return Step{Name: "flip", Apply: func(ctx context.Context, s *Session) error {
		return s.Flip(ctx, dir)
	}}
}

// SharpenStep replays Session.Sharpen.
func SharpenStep(amount int) Step {
	return Step{Name: "sharpen", Apply: func(ctx context.Context, s *Session) error {
		return s.Sharpen(ctx, amount)
	}}
}

// ReflectionStep replays Session.Reflection.
func ReflectionStep(height, opacity int, fadeIn bool) Step {
	return Step{Name: "reflection", Apply: func(ctx context.Context, s *Session) error {
		return s.Reflection(ctx, height, opacity, fadeIn)
	}}
}

// WatermarkStep composites the same overlay bytes onto every session at a
// fixed offset.
func WatermarkStep(overlay []byte, offsetX, offsetY, opacity int) Step {
	return Step{Name: "watermark", Apply: func(ctx context.Context, s *Session) error {
		return s.Watermark(ctx, overlay, offsetX, offsetY, opacity)
	}}
}

// BackgroundStep replays Session.Background.
func BackgroundStep(r, g, b, opacity int) Step {
	return Step{Name: "background", Apply: func(ctx context.Context, s *Session) error {
		return s.Background(ctx, r, g, b, opacity)
	}}
}

// CanvasStep replays Session.CreateCanvas.
func CanvasStep(width, height int) Step {
	return Step{Name: "canvas", Apply: func(ctx context.Context, s *Session) error {
		return s.CreateCanvas(ctx, width, height)
	}}
}
