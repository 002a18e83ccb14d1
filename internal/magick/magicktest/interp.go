package magicktest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// Version is what "convert -version" prints.
const Version = "Version: ImageMagick 6.9.12 magicktest"

// Exec interprets one convert or composite argument vector and returns the
// process exit code. It understands exactly the operators the magick package
// emits.
func Exec(command string, args []string, stdout, stderr io.Writer) int {
	var err error
	switch commandName(command) {
	case "convert", "magick":
		err = convert(args, stdout)
	case "composite":
		err = composite(args)
	default:
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", commandName(command), err)
		return 1
	}
	return 0
}

func commandName(path string) string {
	return strings.TrimSuffix(strings.ToLower(filepath.Base(path)), ".exe")
}

type frame struct {
	img       image.Image
	format    imaging.Format
	hasFormat bool
}

type state struct {
	frames     []frame
	quality    int
	size       image.Point
	background color.NRGBA
	compose    string
}

func convert(args []string, stdout io.Writer) error {
	if len(args) == 1 && args[0] == "-version" {
		_, err := fmt.Fprintln(stdout, Version)
		return err
	}
	if len(args) < 2 {
		return errors.New("no output file")
	}

	st := &state{background: color.NRGBA{255, 255, 255, 255}, compose: "over"}
	last := len(args) - 1
	for i := 0; i < last; i++ {
		opt := args[i]
		value := func() (string, error) {
			if i+1 >= last {
				return "", fmt.Errorf("option %s requires an argument", opt)
			}
			i++
			return args[i], nil
		}

		var err error
		switch opt {
		case "-quality":
			var v string
			if v, err = value(); err == nil {
				st.quality, err = strconv.Atoi(v)
			}
		case "-size":
			var v string
			if v, err = value(); err == nil {
				var g geometry
				if g, err = parseGeometry(v); err == nil {
					st.size = image.Pt(g.w, g.h)
				}
			}
		case "-background":
			var v string
			if v, err = value(); err == nil {
				st.background, err = parseColor(v)
			}
		case "-compose":
			var v string
			if v, err = value(); err == nil {
				st.compose = strings.ToLower(strings.ReplaceAll(v, "_", ""))
			}
		case "-alpha":
			var v string
			if v, err = value(); err == nil {
				err = st.alpha(strings.ToLower(v))
			}
		case "-geometry":
			var v string
			if v, err = value(); err == nil {
				err = st.resize(v)
			}
		case "-crop":
			var v string
			if v, err = value(); err == nil {
				err = st.crop(v)
			}
		case "+repage":
		case "-rotate":
			var v string
			if v, err = value(); err == nil {
				err = st.rotate(v)
			}
		case "-flip":
			st.each(func(img image.Image) image.Image { return imaging.FlipV(img) })
		case "-flop":
			st.each(func(img image.Image) image.Image { return imaging.FlipH(img) })
		case "-sharpen":
			var v string
			if v, err = value(); err == nil {
				err = st.sharpen(v)
			}
		case "-composite":
			err = st.composite()
		case "-append":
			err = st.append()
		case "-flatten":
			err = st.flatten()
		default:
			err = st.read(opt)
		}
		if err != nil {
			return err
		}
	}

	switch len(st.frames) {
	case 0:
		return errors.New("no images defined")
	case 1:
		return write(args[last], st.frames[0], st.quality)
	default:
		return fmt.Errorf("%d images left in list, expected 1", len(st.frames))
	}
}

func composite(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: composite [options] overlay base output")
	}
	last := len(args) - 1
	dissolve := 100.0
	quality := 0
	var offset image.Point
	var files []string

	for i := 0; i < last; i++ {
		opt := args[i]
		if !strings.HasPrefix(opt, "-") {
			files = append(files, opt)
			continue
		}
		if i+1 >= last {
			return fmt.Errorf("option %s requires an argument", opt)
		}
		i++
		v := args[i]
		var err error
		switch opt {
		case "-quality":
			quality, err = strconv.Atoi(v)
		case "-dissolve":
			dissolve, err = strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		case "-geometry":
			var g geometry
			if g, err = parseGeometry(v); err == nil {
				offset = image.Pt(g.x, g.y)
			}
		case "-compose":
		default:
			err = fmt.Errorf("unrecognized option %s", opt)
		}
		if err != nil {
			return err
		}
	}
	if len(files) != 2 {
		return fmt.Errorf("expected overlay and base images, got %d", len(files))
	}

	overlay, err := readFile(files[0])
	if err != nil {
		return err
	}
	base, err := readFile(files[1])
	if err != nil {
		return err
	}
	base.img = imaging.Overlay(base.img, overlay.img, offset, dissolve/100)
	return write(args[last], base, quality)
}

func (st *state) each(fn func(image.Image) image.Image) {
	for i := range st.frames {
		st.frames[i].img = fn(st.frames[i].img)
	}
}

func (st *state) read(token string) error {
	switch {
	case strings.HasPrefix(token, "-") || strings.HasPrefix(token, "+"):
		return fmt.Errorf("unrecognized option %s", token)
	case strings.HasPrefix(token, "gradient:"):
		return st.gradient(strings.TrimPrefix(token, "gradient:"))
	case strings.HasPrefix(token, "xc:"):
		if st.size == (image.Point{}) {
			return errors.New("xc: requires -size")
		}
		c, err := parseColor(strings.TrimPrefix(token, "xc:"))
		if err != nil {
			return err
		}
		st.frames = append(st.frames, frame{img: imaging.New(st.size.X, st.size.Y, c)})
		return nil
	}
	f, err := readFile(token)
	if err != nil {
		return err
	}
	st.frames = append(st.frames, f)
	return nil
}

func (st *state) alpha(mode string) error {
	switch mode {
	case "set", "on", "activate":
		return nil
	case "off", "deactivate":
		st.each(func(img image.Image) image.Image {
			out := imaging.Clone(img)
			for i := 3; i < len(out.Pix); i += 4 {
				out.Pix[i] = 0xff
			}
			return out
		})
		return nil
	default:
		return fmt.Errorf("unrecognized alpha channel option %q", mode)
	}
}

func (st *state) resize(spec string) error {
	g, err := parseGeometry(spec)
	if err != nil {
		return err
	}
	if g.w <= 0 || g.h <= 0 {
		return fmt.Errorf("invalid geometry %q", spec)
	}
	st.each(func(img image.Image) image.Image {
		return imaging.Resize(img, g.w, g.h, imaging.Lanczos)
	})
	return nil
}

func (st *state) crop(spec string) error {
	g, err := parseGeometry(spec)
	if err != nil {
		return err
	}
	for i, f := range st.frames {
		b := f.img.Bounds()
		r := image.Rect(g.x, g.y, g.x+g.w, g.y+g.h).Add(b.Min).Intersect(b)
		if r.Empty() {
			return errors.New("geometry does not contain image")
		}
		st.frames[i].img = imaging.Crop(f.img, r)
	}
	return nil
}

func (st *state) rotate(spec string) error {
	degrees, err := strconv.ParseFloat(spec, 64)
	if err != nil {
		return fmt.Errorf("invalid rotate argument %q", spec)
	}
	bg := st.background
	st.each(func(img image.Image) image.Image {
		// bild rotates clockwise, matching -rotate.
		rotated := transform.Rotate(img, degrees, &transform.RotationOptions{ResizeBounds: true})
		if bg.A == 0 {
			return rotated
		}
		b := rotated.Bounds()
		return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), bg), rotated, image.Pt(0, 0), 1)
	})
	return nil
}

func (st *state) sharpen(spec string) error {
	_, sigma, ok := strings.Cut(spec, "x")
	if !ok {
		sigma = spec
	}
	s, err := strconv.ParseFloat(sigma, 64)
	if err != nil || s <= 0 {
		return fmt.Errorf("invalid sharpen argument %q", spec)
	}
	st.each(func(img image.Image) image.Image { return imaging.Sharpen(img, s) })
	return nil
}

func (st *state) gradient(spec string) error {
	if st.size == (image.Point{}) {
		return errors.New("gradient: requires -size")
	}
	i := strings.Index(spec, ")-")
	if i < 0 {
		return fmt.Errorf("invalid gradient %q", spec)
	}
	from, err := parseColor(spec[:i+1])
	if err != nil {
		return err
	}
	to, err := parseColor(spec[i+2:])
	if err != nil {
		return err
	}

	top := colorful.Color{R: float64(from.R) / 255, G: float64(from.G) / 255, B: float64(from.B) / 255}
	bottom := colorful.Color{R: float64(to.R) / 255, G: float64(to.G) / 255, B: float64(to.B) / 255}
	w, h := st.size.X, st.size.Y
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		t := 0.0
		if h > 1 {
			t = float64(y) / float64(h-1)
		}
		r, g, b := top.BlendRgb(bottom, t).Clamped().RGB255()
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{r, g, b, 0xff})
		}
	}
	st.frames = append(st.frames, frame{img: img})
	return nil
}

func (st *state) composite() error {
	if len(st.frames) < 2 {
		return errors.New("-composite requires two images")
	}
	dst, src := st.frames[0], st.frames[1]
	switch st.compose {
	case "copyopacity":
		out := imaging.Clone(dst.img)
		sb := src.img.Bounds()
		for y := 0; y < out.Bounds().Dy(); y++ {
			for x := 0; x < out.Bounds().Dx(); x++ {
				p := image.Pt(sb.Min.X+x, sb.Min.Y+y)
				if !p.In(sb) {
					continue
				}
				gray := color.GrayModel.Convert(src.img.At(p.X, p.Y)).(color.Gray)
				out.Pix[y*out.Stride+x*4+3] = gray.Y
			}
		}
		dst.img = out
	case "over", "src-over":
		dst.img = imaging.Overlay(dst.img, src.img, image.Pt(0, 0), 1)
	default:
		return fmt.Errorf("unsupported compose operator %q", st.compose)
	}
	st.frames = append([]frame{dst}, st.frames[2:]...)
	return nil
}

func (st *state) append() error {
	if len(st.frames) == 0 {
		return errors.New("-append requires an image")
	}
	width, height := 0, 0
	for _, f := range st.frames {
		b := f.img.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
	}
	out := imaging.New(width, height, st.background)
	y := 0
	for _, f := range st.frames {
		out = imaging.Paste(out, f.img, image.Pt(0, y))
		y += f.img.Bounds().Dy()
	}
	first := st.frames[0]
	first.img = out
	st.frames = []frame{first}
	return nil
}

func (st *state) flatten() error {
	if len(st.frames) == 0 {
		return errors.New("-flatten requires an image")
	}
	b := st.frames[0].img.Bounds()
	out := imaging.New(b.Dx(), b.Dy(), st.background)
	format, hasFormat := imaging.PNG, false
	for _, f := range st.frames {
		out = imaging.Overlay(out, f.img, image.Pt(0, 0), 1)
		if f.hasFormat && !hasFormat {
			format, hasFormat = f.format, true
		}
	}
	st.frames = []frame{{img: out, format: format, hasFormat: hasFormat}}
	return nil
}

func readFile(path string) (frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return frame{}, fmt.Errorf("unable to open image %q: %w", path, err)
	}
	defer f.Close()

	img, name, err := image.Decode(f)
	if err != nil {
		return frame{}, fmt.Errorf("no decode delegate for %q: %w", path, err)
	}
	format, err := imaging.FormatFromExtension(name)
	return frame{img: img, format: format, hasFormat: err == nil}, nil
}

func write(token string, f frame, quality int) error {
	format, path, err := target(token, f)
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to open image %q: %w", path, err)
	}

	var opts []imaging.EncodeOption
	if quality > 0 {
		opts = append(opts, imaging.JPEGQuality(quality))
	}
	if err := imaging.Encode(out, f.img, format, opts...); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return out.Close()
}

// target splits an output token into format and path. An explicit "TAG:"
// prefix wins, then the file extension, then the format of the input.
func target(token string, f frame) (imaging.Format, string, error) {
	if i := strings.Index(token, ":"); i > 1 && !strings.ContainsAny(token[:i], `/\`) {
		format, err := imaging.FormatFromExtension(token[:i])
		if err != nil {
			return 0, "", fmt.Errorf("no encode delegate for this image format %q", token[:i])
		}
		return format, token[i+1:], nil
	}
	if format, err := imaging.FormatFromFilename(token); err == nil {
		return format, token, nil
	}
	if f.hasFormat {
		return f.format, token, nil
	}
	return imaging.PNG, token, nil
}

type geometry struct {
	w, h, x, y int
	exact      bool
}

var geometryRe = regexp.MustCompile(`^(?:(\d+)x(\d+))?([+-]\d+)?([+-]\d+)?(!)?$`)

func parseGeometry(s string) (geometry, error) {
	m := geometryRe.FindStringSubmatch(s)
	if m == nil || s == "" {
		return geometry{}, fmt.Errorf("invalid geometry %q", s)
	}
	var g geometry
	atoi := func(v string) int {
		n, _ := strconv.Atoi(v)
		return n
	}
	g.w, g.h, g.x, g.y = atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4])
	g.exact = m[5] != ""
	return g, nil
}

func parseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
	switch {
	case s == "none" || s == "transparent":
		return color.NRGBA{}, nil
	case s == "white":
		return color.NRGBA{255, 255, 255, 255}, nil
	case s == "black":
		return color.NRGBA{0, 0, 0, 255}, nil
	case strings.HasPrefix(s, "#"):
		c, err := colorful.Hex(s)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("unrecognized color %q", s)
		}
		r, g, b := c.RGB255()
		return color.NRGBA{r, g, b, 255}, nil
	case strings.HasPrefix(s, "rgba("):
		var r, g, b int
		var a float64
		if _, err := fmt.Sscanf(s, "rgba(%d,%d,%d,%g)", &r, &g, &b, &a); err != nil {
			return color.NRGBA{}, fmt.Errorf("unrecognized color %q", s)
		}
		return color.NRGBA{channel(r), channel(g), channel(b), uint8(math.Round(clamp01(a) * 255))}, nil
	case strings.HasPrefix(s, "rgb("):
		var r, g, b int
		if _, err := fmt.Sscanf(s, "rgb(%d,%d,%d)", &r, &g, &b); err != nil {
			return color.NRGBA{}, fmt.Errorf("unrecognized color %q", s)
		}
		return color.NRGBA{channel(r), channel(g), channel(b), 255}, nil
	}
	return color.NRGBA{}, fmt.Errorf("unrecognized color %q", s)
}

func channel(v int) uint8 {
	return uint8(min(max(v, 0), 255))
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
