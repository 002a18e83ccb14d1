package magick_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/image-magick-mcp/internal/magick"
	"github.com/ironsheep/image-magick-mcp/internal/magick/magicktest"
)

// installTool points convert and composite at this test binary running in
// helper mode, so the real ExecRunner is exercised end to end.
func installTool(t *testing.T) magick.Tool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper executables are symlinks")
	}
	dir := t.TempDir()
	require.NoError(t, magicktest.InstallHelper(dir))
	t.Setenv(magicktest.HelperEnv, "1")

	tool, err := magick.NewTool(dir, "", "")
	require.NoError(t, err)
	return tool
}

func TestToolCheck(t *testing.T) {
	tool := installTool(t)
	assert.NoError(t, tool.Check(context.Background(), magick.ExecRunner{}))

	missing := magick.Tool{Dir: t.TempDir(), Convert: "convert", Composite: "composite"}
	err := missing.Check(context.Background(), magick.ExecRunner{})
	assert.ErrorIs(t, err, magick.ErrInvocation)
}

func TestToolCheckNonZeroExit(t *testing.T) {
	runner := magick.RunnerFunc(func(context.Context, string, []string) (magick.Result, error) {
		return magick.Result{ExitCode: 127, Stderr: []byte("command not found")}, nil
	})
	tool := magick.Tool{Dir: "/nowhere", Convert: "convert", Composite: "composite"}

	err := tool.Check(context.Background(), runner)

	var merr *magick.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, 127, merr.ExitCode)
	assert.Equal(t, "command not found", merr.Stderr)
}

func TestNewTool(t *testing.T) {
	dir := t.TempDir()
	tool, err := magick.NewTool(dir, "", "")
	require.NoError(t, err)
	assert.Equal(t, "convert", tool.Convert)
	assert.Equal(t, "composite", tool.Composite)
	if runtime.GOOS != "windows" {
		assert.Equal(t, filepath.Join(dir, "convert"), tool.ConvertPath())
	}

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = magick.NewTool(file, "", "")
	assert.Error(t, err)

	_, err = magick.NewTool(filepath.Join(dir, "missing"), "", "")
	assert.Error(t, err)
}

func TestExecPipeline(t *testing.T) {
	tool := installTool(t)
	scratch, err := magick.NewScratch(t.TempDir())
	require.NoError(t, err)
	engine, err := magick.NewEngine(magick.Options{Tool: tool, Scratch: scratch})
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, magicktest.WriteImage(src, 200, 100, red))

	ctx := context.Background()
	s, err := engine.Open(ctx, src)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Crop(ctx, 100, 100, 0, 0))
	require.NoError(t, s.Reflection(ctx, 30, 70, false))
	require.NoError(t, s.Watermark(ctx, encodePNG(t, 10, 10, blue), 5, 5, 60))
	assert.Equal(t, magick.Metadata{Width: 100, Height: 130, Format: "png", Mime: "image/png"}, s.Metadata())

	dest := filepath.Join(t.TempDir(), "out.jpg")
	require.NoError(t, s.Save(ctx, dest, 90))
	meta, err := magick.Probe(dest)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", meta.Format)

	// A region entirely outside the image makes the tool exit non-zero.
	working := s.WorkingFile()
	err = s.Crop(ctx, 10, 10, 1000, 1000)
	var merr *magick.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, magick.KindInvocation, merr.Kind)
	assert.NotZero(t, merr.ExitCode)
	assert.Contains(t, merr.Stderr, "geometry does not contain image")
	assert.Equal(t, working, s.WorkingFile())
}
