// Package imagestore turns uploaded images into 600px-wide JPEG files in the
// public image directory and removes them again when their product goes away.
package imagestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

const (
	// TargetWidth is the width every stored image is resized to
	TargetWidth = 600

	jpegQuality = 90

	// maxNameAttempts bounds the suffix search when two uploads collide on a name
	maxNameAttempts = 100
)

var (
	ErrWriteFailed      = errors.New("image could not be written")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrInvalidName      = errors.New("invalid image name")
)

// AllowedTypes lists the upload types the store can decode
var AllowedTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Store persists images on an afero filesystem under a single directory.
type Store struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// New creates the image directory when missing and returns a store rooted there.
func New(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory %s: %w", dir, err)
	}
	return &Store{fs: fs, dir: dir, now: time.Now}, nil
}

// NewOnDisk is New on the host filesystem.
func NewOnDisk(dir string) (*Store, error) {
	return New(afero.NewOsFs(), dir)
}

// DetectType sniffs the upload and rewinds it. Types outside AllowedTypes
// return ErrUnsupportedImage.
func DetectType(r io.ReadSeeker) (string, error) {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind upload: %w", err)
	}

	for _, allowed := range AllowedTypes {
		if mtype.Is(allowed) {
			return allowed, nil
		}
	}
	return mtype.String(), ErrUnsupportedImage
}

// Store decodes the image, resizes it to TargetWidth keeping the aspect ratio,
// re-encodes it as JPEG and writes it under a generated name:
// SanitizeName(original) + "_" + unix seconds + "." + original extension.
func (s *Store) Store(r io.Reader, originalFilename string) (string, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	resized := imaging.Resize(img, TargetWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrWriteFailed, err)
	}

	base := SanitizeName(originalFilename) + "_" + strconv.FormatInt(s.now().Unix(), 10)
	ext := Extension(originalFilename)

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base
		if attempt > 0 {
			name += "-" + strconv.Itoa(attempt+1)
		}
		name += "." + ext

		err := s.write(name, buf.Bytes())
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}

	return "", fmt.Errorf("%w: no free name for %s", ErrWriteFailed, base)
}

// write creates the file exclusively so a stored image is never overwritten
func (s *Store) write(name string, data []byte) error {
	full := filepath.Join(s.dir, name)

	f, err := s.fs.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.fs.Remove(full)
		return err
	}

	if err := f.Close(); err != nil {
		_ = s.fs.Remove(full)
		return err
	}
	return nil
}

// Remove deletes a stored image. A missing file counts as removed.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	err := s.fs.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove image %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a stored image is present
func (s *Store) Exists(name string) (bool, error) {
	if !validName(name) {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return afero.Exists(s.fs, filepath.Join(s.dir, name))
}

// Handler serves stored images read-only. Directory listings are not exposed.
func (s *Store) Handler() http.Handler {
	files := http.FileServer(afero.NewHttpFs(s.fs).Dir(s.dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func validName(name string) bool {
	return name != "" &&
		name != "." &&
		name != ".." &&
		!strings.ContainsAny(name, `/\`) &&
		path.Base(name) == name
}
