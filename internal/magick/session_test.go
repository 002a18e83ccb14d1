package magick_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ironsheep/image-magick-mcp/internal/magick"
	"github.com/ironsheep/image-magick-mcp/internal/magick/magicktest"
)

func TestMain(m *testing.M) {
	magicktest.RunAsHelper()
	os.Exit(m.Run())
}

var (
	red  = color.NRGBA{255, 0, 0, 255}
	blue = color.NRGBA{0, 0, 255, 255}
)

type fixture struct {
	engine  *magick.Engine
	runner  *magicktest.Runner
	scratch *magick.Scratch
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	scratch, err := magick.NewScratch(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)

	runner := &magicktest.Runner{}
	engine, err := magick.NewEngine(magick.Options{
		Tool:    magick.Tool{Dir: "/opt/imagemagick/bin", Convert: "convert", Composite: "composite"},
		Runner:  runner,
		Scratch: scratch,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return &fixture{engine: engine, runner: runner, scratch: scratch, dir: t.TempDir()}
}

// source writes a solid width x height image named name and returns its path.
func (f *fixture) source(t *testing.T, name string, width, height int, c color.Color) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, magicktest.WriteImage(path, width, height, c))
	return path
}

func (f *fixture) open(t *testing.T, path string) *magick.Session {
	t.Helper()
	s, err := f.engine.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// scratchFiles lists every file currently in the scratch directory.
func (f *fixture) scratchFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.scratch.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, filepath.Join(f.scratch.Dir(), e.Name()))
	}
	return names
}

func pixel(t *testing.T, path string, x, y int) color.NRGBA {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err)
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func encodePNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(width, height, c), imaging.PNG))
	return buf.Bytes()
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	path := f.source(t, "in.png", 200, 100, red)

	s := f.open(t, path)

	want, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	assert.Equal(t, want, s.Source())
	assert.Equal(t, want, s.File())
	assert.False(t, s.Modified())
	assert.Equal(t, magick.Metadata{Width: 200, Height: 100, Format: "png", Mime: "image/png"}, s.Metadata())
	assert.Empty(t, f.runner.Calls(), "opening must not invoke the tool")
}

func TestOpenProbeFailures(t *testing.T) {
	f := newFixture(t)

	empty := filepath.Join(f.dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	text := filepath.Join(f.dir, "notes.png")
	require.NoError(t, os.WriteFile(text, []byte("plain text"), 0o644))
	icon := filepath.Join(f.dir, "favicon.ico")
	require.NoError(t, os.WriteFile(icon, magicktest.ICO(16), 0o644))

	tests := []struct {
		name   string
		path   string
		reason magick.ProbeReason
	}{
		{"missing", filepath.Join(f.dir, "nope.png"), magick.ProbeMissing},
		{"empty", empty, magick.ProbeEmpty},
		{"not an image", text, magick.ProbeUnsupported},
		{"no go decoder", icon, magick.ProbeUnsupported},
		{"directory", f.dir, magick.ProbeUnreadable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Open(context.Background(), tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, magick.ErrProbe)
			assert.True(t, magick.IsProbeReason(err, tt.reason), "got %v", err)
		})
	}
}

func TestCrop(t *testing.T) {
	tests := []struct {
		name                  string
		width, height, x, y   int
		wantWidth, wantHeight int
	}{
		{"inside", 100, 100, 0, 0, 100, 100},
		{"offset", 100, 50, 50, 25, 100, 50},
		{"past the edge", 100, 100, 150, 150, 50, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.open(t, f.source(t, "in.png", 200, 200, red))

			require.NoError(t, s.Crop(context.Background(), tt.width, tt.height, tt.x, tt.y))

			meta := s.Metadata()
			assert.Equal(t, tt.wantWidth, meta.Width)
			assert.Equal(t, tt.wantHeight, meta.Height)
			assert.Equal(t, "png", meta.Format)
			assert.True(t, s.Modified())
			assert.Equal(t, []string{s.WorkingFile()}, f.scratchFiles(t))
		})
	}
}

func TestResizeKeepsInputFormat(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.jpg", 200, 100, red))

	require.NoError(t, s.Resize(context.Background(), 50, 25))

	meta := s.Metadata()
	assert.Equal(t, 50, meta.Width)
	assert.Equal(t, 25, meta.Height)
	assert.Equal(t, "jpeg", meta.Format)
	assert.Equal(t, "image/jpeg", meta.Mime)
}

func TestRotateForcesPNG(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.jpg", 200, 100, red))

	require.NoError(t, s.Rotate(context.Background(), 45))

	meta := s.Metadata()
	assert.Equal(t, "png", meta.Format)
	assert.Greater(t, meta.Width, 200)
	assert.Greater(t, meta.Height, 100)

	// Corners uncovered by the rotation are transparent.
	assert.Equal(t, uint8(0), pixel(t, s.File(), 0, 0).A)
}

func TestFlip(t *testing.T) {
	f := newFixture(t)
	split := imaging.Paste(imaging.New(20, 10, red), imaging.New(10, 10, blue), image.Pt(10, 0))
	path := filepath.Join(f.dir, "split.png")
	require.NoError(t, imaging.Save(split, path))
	s := f.open(t, path)
	before := s.Metadata()

	require.NoError(t, s.Flip(context.Background(), magick.FlipHorizontal))

	assert.Equal(t, before, s.Metadata(), "flip keeps geometry")
	assert.Equal(t, blue, pixel(t, s.File(), 0, 0))
	assert.Equal(t, red, pixel(t, s.File(), 19, 0))

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Has("-flop"))

	require.NoError(t, s.Flip(context.Background(), magick.FlipVertical))
	assert.True(t, f.runner.Calls()[1].Has("-flip"))

	assert.ErrorIs(t, s.Flip(context.Background(), magick.Direction(9)), magick.ErrInvalid)
}

func TestSharpenClampsSmallAmounts(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 40, 40, red))

	require.NoError(t, s.Sharpen(context.Background(), 3))
	require.NoError(t, s.Sharpen(context.Background(), 5))

	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Has("0x0.15"))
	assert.True(t, calls[1].Has("0x0.15"))

	assert.ErrorIs(t, s.Sharpen(context.Background(), 101), magick.ErrInvalid)
}

func TestReflection(t *testing.T) {
	tests := []struct {
		name       string
		height     int
		fadeIn     bool
		wantHeight int
	}{
		{"fade out", 40, false, 140},
		{"fade in", 40, true, 140},
		{"clamped to image height", 500, false, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.open(t, f.source(t, "in.png", 200, 100, red))

			require.NoError(t, s.Reflection(context.Background(), tt.height, 100, tt.fadeIn))

			meta := s.Metadata()
			assert.Equal(t, 200, meta.Width)
			assert.Equal(t, tt.wantHeight, meta.Height)
			assert.Equal(t, "png", meta.Format)

			near := pixel(t, s.File(), 10, 100).A
			far := pixel(t, s.File(), 10, meta.Height-1).A
			if tt.fadeIn {
				near, far = far, near
			}
			assert.GreaterOrEqual(t, near, uint8(250), "edge touching the image is opaque")
			assert.LessOrEqual(t, far, uint8(5), "far edge is transparent")

			assert.Equal(t, []string{s.WorkingFile()}, f.scratchFiles(t), "intermediates are released")
		})
	}
}

func TestReflectionFailureAtEachStage(t *testing.T) {
	stages := []string{"crop", "flip", "gradient", "copy opacity", "append"}
	inject := map[string]func(magicktest.Match) magicktest.Intercept{
		"exit":    magicktest.Fail,
		"partial": magicktest.FailPartial,
		"corrupt": magicktest.Corrupt,
	}

	for i, stage := range stages {
		for mode, intercept := range inject {
			t.Run(stage+"/"+mode, func(t *testing.T) {
				f := newFixture(t)
				s := f.open(t, f.source(t, "in.png", 200, 100, red))
				require.NoError(t, s.Resize(context.Background(), 100, 50))
				working, meta := s.WorkingFile(), s.Metadata()

				f.runner.Intercept = intercept(magicktest.Nth(i+1, magicktest.Always))
				err := s.Reflection(context.Background(), 20, 80, false)

				require.Error(t, err)
				assert.Equal(t, working, s.WorkingFile())
				assert.Equal(t, meta, s.Metadata())
				assert.Equal(t, []string{working}, f.scratchFiles(t))
			})
		}
	}
}

func TestFailedTransformLeavesSessionUnchanged(t *testing.T) {
	tests := []struct {
		name      string
		intercept magicktest.Intercept
		want      error
	}{
		{"non-zero exit", magicktest.Fail(magicktest.Always), magick.ErrInvocation},
		{"partial output", magicktest.FailPartial(magicktest.Always), magick.ErrInvocation},
		{"corrupt output", magicktest.Corrupt(magicktest.Always), magick.ErrProbe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.open(t, f.source(t, "in.png", 200, 100, red))
			require.NoError(t, s.Crop(context.Background(), 100, 100, 0, 0))
			working, meta := s.WorkingFile(), s.Metadata()

			f.runner.Intercept = tt.intercept
			err := s.Resize(context.Background(), 10, 10)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, working, s.WorkingFile())
			assert.Equal(t, meta, s.Metadata())
			assert.Equal(t, []string{working}, f.scratchFiles(t))
		})
	}
}

func TestInvocationErrorCarriesStderr(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 50, 50, red))
	f.runner.Intercept = magicktest.Fail(magicktest.Always)

	err := s.Rotate(context.Background(), 90)

	var merr *magick.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, magick.KindInvocation, merr.Kind)
	assert.Equal(t, "rotate", merr.Op)
	assert.Equal(t, 1, merr.ExitCode)
	assert.Contains(t, merr.Stderr, "injected failure")
}

func TestNoOrphansAcrossManyTransforms(t *testing.T) {
	f := newFixture(t)
	source := f.source(t, "in.png", 120, 80, red)
	s := f.open(t, source)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Resize(ctx, 100, 60))
		require.NoError(t, s.Flip(ctx, magick.FlipVertical))
		require.NoError(t, s.Sharpen(ctx, 20))
		assert.Len(t, f.scratchFiles(t), 1)
	}
	assert.Equal(t, []string{s.WorkingFile()}, f.scratchFiles(t))

	require.NoError(t, s.Close())
	assert.Empty(t, f.scratchFiles(t))
	_, err := os.Stat(source)
	assert.NoError(t, err, "source file survives")
}

func TestWatermark(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 200, 100, red))

	require.NoError(t, s.Watermark(context.Background(), encodePNG(t, 20, 20, blue), 10, 10, 100))

	meta := s.Metadata()
	assert.Equal(t, 200, meta.Width)
	assert.Equal(t, 100, meta.Height)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, blue, pixel(t, s.File(), 15, 15))
	assert.Equal(t, red, pixel(t, s.File(), 50, 50))

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "composite", calls[0].Command())
	assert.True(t, calls[0].Has("100%"))
	assert.True(t, calls[0].Has("+10+10"))
	assert.Equal(t, []string{s.WorkingFile()}, f.scratchFiles(t), "overlay file is released")
}

func TestWatermarkFailureReleasesOverlay(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 200, 100, red))
	f.runner.Intercept = magicktest.Fail(magicktest.Named("composite"))

	err := s.Watermark(context.Background(), encodePNG(t, 20, 20, blue), 0, 0, 50)

	assert.ErrorIs(t, err, magick.ErrInvocation)
	assert.False(t, s.Modified())
	assert.Empty(t, f.scratchFiles(t))
}

func TestWatermarkSession(t *testing.T) {
	f := newFixture(t)
	base := f.open(t, f.source(t, "base.png", 100, 100, red))
	mark := f.open(t, f.source(t, "mark.png", 30, 30, blue))
	require.NoError(t, mark.Resize(context.Background(), 10, 10))

	require.NoError(t, base.WatermarkSession(context.Background(), mark, 0, 0, 100))

	assert.Equal(t, blue, pixel(t, base.File(), 5, 5))
	assert.Equal(t, red, pixel(t, base.File(), 20, 20))
	assert.Len(t, f.scratchFiles(t), 2, "one working file per session")
}

func TestBackground(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "clear.png", 40, 40, color.NRGBA{}))

	require.NoError(t, s.Background(context.Background(), 255, 0, 0, 100))
	assert.Equal(t, red, pixel(t, s.File(), 20, 20))

	require.NoError(t, s.Background(context.Background(), 255, 0, 0, 50))
	assert.True(t, f.runner.Calls()[1].Has("rgba(255,0,0,0.5)"))

	assert.ErrorIs(t, s.Background(context.Background(), 256, 0, 0, 50), magick.ErrInvalid)
}

func TestCreateCanvas(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 100, 50, red))

	require.NoError(t, s.CreateCanvas(context.Background(), 300, 200))

	meta := s.Metadata()
	assert.Equal(t, 300, meta.Width)
	assert.Equal(t, 200, meta.Height)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, red, pixel(t, s.File(), 10, 10))
	assert.Equal(t, uint8(0), pixel(t, s.File(), 250, 150).A)
}

func TestInvalidArgumentsInvokeNothing(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 10, 10, red))
	ctx := context.Background()

	errs := []error{
		s.Resize(ctx, 0, 10),
		s.Crop(ctx, 10, -1, 0, 0),
		s.Reflection(ctx, 0, 50, false),
		s.Reflection(ctx, 5, 120, false),
		s.Watermark(ctx, nil, 0, 0, 50),
		s.CreateCanvas(ctx, -5, 5),
	}
	for i, err := range errs {
		assert.ErrorIs(t, err, magick.ErrInvalid, "case %d", i)
	}
	assert.Empty(t, f.runner.Calls())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 10, 10, red))
	require.NoError(t, s.Resize(context.Background(), 5, 5))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Empty(t, f.scratchFiles(t))

	assert.ErrorIs(t, s.Resize(context.Background(), 3, 3), magick.ErrClosed)
	_, err := s.Render(context.Background(), "png", 0)
	assert.ErrorIs(t, err, magick.ErrClosed)
	assert.ErrorIs(t, s.Save(context.Background(), filepath.Join(f.dir, "x.png"), 0), magick.ErrClosed)
}

func TestTimeout(t *testing.T) {
	scratch, err := magick.NewScratch(t.TempDir())
	require.NoError(t, err)
	blocking := magick.RunnerFunc(func(ctx context.Context, _ string, _ []string) (magick.Result, error) {
		<-ctx.Done()
		return magick.Result{}, ctx.Err()
	})
	engine, err := magick.NewEngine(magick.Options{
		Tool:    magick.Tool{Dir: "/opt/imagemagick/bin", Convert: "convert", Composite: "composite"},
		Runner:  blocking,
		Scratch: scratch,
		Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, magicktest.WriteImage(path, 10, 10, red))
	s, err := engine.Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	err = s.Resize(context.Background(), 5, 5)
	assert.ErrorIs(t, err, magick.ErrInvocation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Modified())
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, f.source(t, "in.png", 200, 100, red))

	err := s.Apply(context.Background(),
		magick.ResizeStep(100, 50),
		magick.CropStep(50, 50, 0, 0),
		magick.RotateStep(90),
	)
	require.NoError(t, err)
	assert.Equal(t, "png", s.Metadata().Format)

	f.runner.Intercept = magicktest.Fail(magicktest.Using("-sharpen"))
	before := s.Metadata()
	err = s.Apply(context.Background(),
		magick.FlipStep(magick.FlipHorizontal),
		magick.SharpenStep(40),
		magick.CanvasStep(500, 500),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2 (sharpen)")
	assert.ErrorIs(t, err, magick.ErrInvocation)
	assert.Equal(t, before, s.Metadata(), "flip committed, canvas never ran")
	assert.Len(t, f.runner.Calls(), 5)
}

func TestSessionsRunInParallel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		path := f.source(t, fmt.Sprintf("in%d.png", i), 60+i, 40, red)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.engine.Open(ctx, path)
			if err != nil {
				errs[i] = err
				return
			}
			defer s.Close()
			errs[i] = s.Apply(ctx, magick.ResizeStep(30, 20), magick.ReflectionStep(10, 60, false))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "session %d", i)
	}
	assert.Empty(t, f.scratchFiles(t))
}
