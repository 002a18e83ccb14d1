package magick

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Argument vectors for each stage. File tokens are always absolute paths;
// everything else is a literal built from typed values.

const (
	maxQuality = "100"
	// alphaFormat is forced on stages whose output may carry transparency.
	alphaFormat = "PNG"
	// minSharpen is the smallest amount, on the 0-100 scale, the tool reacts to.
	minSharpen = 5
)

type call struct {
	name string
	args []string
}

func tagged(format, path string) string {
	return format + ":" + path
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func size(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

func resizeArgs(in, out string, width, height int) []string {
	return []string{in, "-quality", maxQuality, "-geometry", size(width, height) + "!", out}
}

func cropArgs(in, out string, width, height, offsetX, offsetY int) []string {
	region := fmt.Sprintf("%s%+d%+d", size(width, height), offsetX, offsetY)
	return []string{in, "-quality", maxQuality, "-crop", region, "+repage", out}
}

func rotateArgs(in, out string, degrees int) []string {
	return []string{
		in, "-quality", maxQuality,
		"-alpha", "set", "-background", "none",
		"-rotate", strconv.Itoa(degrees),
		tagged(alphaFormat, out),
	}
}

func flipArgs(in, out string, dir Direction) []string {
	op := "-flip"
	if dir == FlipHorizontal {
		op = "-flop"
	}
	return []string{in, "-quality", maxQuality, op, out}
}

// sharpenRadius maps the 0-100 amount onto the tool's 0.0-3.0 range.
func sharpenRadius(amount int) float64 {
	if amount < minSharpen {
		amount = minSharpen
	}
	return float64(amount) * 3.0 / 100
}

func sharpenArgs(in, out string, amount int) []string {
	return []string{in, "-quality", maxQuality, "-sharpen", "0x" + formatFloat(sharpenRadius(amount)), out}
}

// alphaLevel maps a 0-100 opacity onto the 8-bit alpha scale.
func alphaLevel(opacity int) int {
	return int(math.Round(math.Abs(float64(opacity) * 255 / 100)))
}

func gradientSpec(alpha int, fadeIn bool) string {
	solid := fmt.Sprintf("rgb(%d,%d,%d)", alpha, alpha, alpha)
	if fadeIn {
		return "rgb(0,0,0)-" + solid
	}
	return solid + "-rgb(0,0,0)"
}

func gradientArgs(out string, width, height, alpha int, fadeIn bool) []string {
	return []string{
		"-quality", maxQuality,
		"-size", size(width, height),
		"gradient:" + gradientSpec(alpha, fadeIn),
		tagged(alphaFormat, out),
	}
}

func copyOpacityArgs(strip, mask, out string) []string {
	return []string{
		strip, mask, "-quality", maxQuality,
		"-alpha", "off", "-compose", "CopyOpacity", "-composite",
		tagged(alphaFormat, out),
	}
}

func appendArgs(top, bottom, out string) []string {
	return []string{top, bottom, "-quality", maxQuality, "-append", tagged(alphaFormat, out)}
}

func dissolveArgs(overlay, base, out string, offsetX, offsetY, opacity int) []string {
	return []string{
		"-quality", maxQuality,
		"-dissolve", strconv.Itoa(opacity) + "%",
		"-geometry", fmt.Sprintf("%+d%+d", offsetX, offsetY),
		overlay, base,
		tagged(alphaFormat, out),
	}
}

func backgroundColor(r, g, b, opacity int) string {
	return fmt.Sprintf("rgba(%d,%d,%d,%s)", r, g, b, formatFloat(float64(opacity)/100))
}

func backgroundArgs(in, out string, r, g, b, opacity int) []string {
	return []string{
		in, "-quality", maxQuality,
		"-background", backgroundColor(r, g, b, opacity), "-flatten",
		tagged(alphaFormat, out),
	}
}

func canvasArgs(in, out string, width, height int) []string {
	return []string{
		"-size", size(width, height), "xc:none",
		in, "-quality", maxQuality,
		"-background", "none", "-flatten",
		tagged(alphaFormat, out),
	}
}

func exportArgs(in, out string, quality int) []string {
	args := []string{in}
	if quality > 0 {
		args = append(args, "-quality", strconv.Itoa(quality))
	}
	return append(args, out)
}

// renderFormats maps accepted render formats to the tool's format tags.
var renderFormats = map[string]string{
	"png":  "PNG",
	"jpg":  "JPEG",
	"jpeg": "JPEG",
	"gif":  "GIF",
	"webp": "WEBP",
	"bmp":  "BMP",
	"tif":  "TIFF",
	"tiff": "TIFF",
}

func renderTag(format string) (string, bool) {
	tag, ok := renderFormats[strings.ToLower(strings.TrimSpace(format))]
	return tag, ok
}
