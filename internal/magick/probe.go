package magick

import (
	"errors"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// Metadata describes the pixels actually stored in a file.
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Mime   string `json:"mime"`
}

// Probe reads width, height, format and mime type from the file at path.
//
// The path is resolved to a canonical absolute path first. Values are always
// derived from the file contents, never from what a transform asked for.
//
// Only formats with a registered Go decoder can be probed: png, jpeg, gif,
// bmp, tiff and webp. Others that ImageMagick reads or writes, such as ico,
// psd, tga or jp2, fail with ProbeUnsupported, so they cannot be opened or
// produced by a stage. Save accepts any destination format because it does
// not probe its output.
func Probe(path string) (Metadata, error) {
	resolved, err := canonicalPath(path)
	if err != nil {
		return Metadata{}, probeErrorFor(path, err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return Metadata{}, probeError(resolved, ProbeUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, probeError(resolved, ProbeUnreadable, err)
	}
	if info.IsDir() {
		return Metadata{}, probeError(resolved, ProbeUnreadable, errors.New("is a directory"))
	}
	if info.Size() == 0 {
		return Metadata{}, probeError(resolved, ProbeEmpty, nil)
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		// Unknown formats and truncated headers both land here.
		return Metadata{}, probeError(resolved, ProbeUnsupported, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Metadata{}, probeError(resolved, ProbeUnsupported, errors.New("zero-sized image"))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Metadata{}, probeError(resolved, ProbeUnreadable, err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return Metadata{}, probeError(resolved, ProbeUnreadable, err)
	}

	return Metadata{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Mime:   mt.String(),
	}, nil
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func probeErrorFor(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return probeError(path, ProbeMissing, err)
	}
	return probeError(path, ProbeUnreadable, err)
}
