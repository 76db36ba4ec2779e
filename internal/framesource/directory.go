package framesource

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg"}

// DirectorySource replays the PNG and JPEG files of a directory in name
// order, optionally looping. Unreadable files are skipped.
type DirectorySource struct {
	*pacedSource
	dir   string
	files []string
	loop  bool
}

// NewDirectorySource lists the images in dir. frames limits the number of
// frames emitted; zero emits every file once, or forever when looping.
func NewDirectorySource(dir string, fps float64, loop bool, frames int) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Component("framesource").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.Newf("no PNG or JPEG images in %s", dir).
			Component("framesource").
			Category(errors.CategoryFrameSource).
			Context("path", dir).
			Build()
	}
	slices.Sort(files)

	return &DirectorySource{
		pacedSource: newPacedSource(TypeDirectory, fps, frames),
		dir:         dir,
		files:       files,
		loop:        loop,
	}, nil
}

// Files returns the images in replay order
func (d *DirectorySource) Files() []string {
	return slices.Clone(d.files)
}

// Run emits the images into sink until they run out or ctx is done
func (d *DirectorySource) Run(ctx context.Context, sink Sink) error {
	pos := 0
	return d.run(ctx, sink, func(int) (image.Image, bool, error) {
		for failures := 0; failures < len(d.files); failures++ {
			if pos >= len(d.files) {
				if !d.loop {
					return nil, false, nil
				}
				pos = 0
			}
			path := d.files[pos]
			pos++

			img, err := decodeFile(path)
			if err == nil {
				return img, true, nil
			}
			d.decodeErrors.Add(1)
			d.logger.Warn("skipping unreadable image",
				logger.String("path", path),
				logger.Error(err))
		}
		return nil, false, errors.Newf("no decodable image in %s", d.dir).
			Component("framesource").
			Category(errors.CategoryFrameSource).
			Context("path", d.dir).
			Build()
	})
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
