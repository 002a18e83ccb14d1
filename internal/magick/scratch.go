package magick

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const scratchPrefix = "magick-"

// Scratch allocates ephemeral files in a single directory.
//
// Allocate is safe for concurrent use: every file is created with O_EXCL under
// a random name, so writers never share a path.
type Scratch struct {
	dir string
}

// NewScratch prepares dir (creating it if needed) and returns a Scratch
// rooted at its absolute path.
func NewScratch(dir string) (*Scratch, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, ioError("scratch", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, ioError("scratch", abs, fmt.Errorf("failed to create directory: %w", err))
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Scratch{dir: abs}, nil
}

// Dir returns the absolute scratch directory.
func (s *Scratch) Dir() string {
	return s.dir
}

// Allocate creates a new, empty, uniquely named file and returns its path.
func (s *Scratch) Allocate() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		path := filepath.Join(s.dir, scratchPrefix+uuid.NewString())
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", ioError("allocate", path, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", ioError("allocate", path, err)
		}
		return path, nil
	}
	return "", ioError("allocate", s.dir, errors.New("could not find a free name"))
}

// Write allocates a file and fills it with data.
func (s *Scratch) Write(data []byte) (string, error) {
	path, err := s.Allocate()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		_ = s.Release(path)
		return "", ioError("write", path, err)
	}
	return path, nil
}

// Release deletes path. A file that is already gone is not an error.
func (s *Scratch) Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioError("release", path, err)
	}
	return nil
}

// Owns reports whether path was allocated under this scratch directory.
func (s *Scratch) Owns(path string) bool {
	return filepath.Dir(path) == s.dir && strings.HasPrefix(filepath.Base(path), scratchPrefix)
}
