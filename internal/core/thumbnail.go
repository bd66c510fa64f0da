package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/framefarm/internal/process"
)

// ThumbnailFormats are the image extensions the converter accepts, matched
// case-insensitively.
var ThumbnailFormats = []string{".png", ".bmp", ".jpg", ".jpeg", ".tga", ".exr"}

// Thumbnailer renders small PNG previews with the bundled image converter.
// Every failure is logged and reported as "no preview".
type Thumbnailer struct {
	Tool   string
	Runner process.Runner
}

func NewThumbnailer(executablesRoot string, r process.Runner) *Thumbnailer {
	name := "convert"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return &Thumbnailer{Tool: filepath.Join(executablesRoot, "ImageMagick", name), Runner: r}
}

// TaskThumbnailName is the preview file name for one frame.
func TaskThumbnailName(jobID string, index int) string {
	return fmt.Sprintf("%s_%d_thumbnail.png", jobID, index)
}

// JobThumbnailName is the preview file name for a merged job.
func JobThumbnailName(jobID string) string {
	return jobID + "_thumbnail.png"
}

// PickThumbnailInput returns the first supported image, preferring a beauty pass.
func PickThumbnailInput(files []string) string {
	var first string
	for _, f := range files {
		if !isThumbnailFormat(f) {
			continue
		}
		if strings.Contains(strings.ToLower(filepath.Base(f)), "beauty") {
			return f
		}
		if first == "" {
			first = f
		}
	}
	return first
}

func isThumbnailFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range ThumbnailFormats {
		if ext == f {
			return true
		}
	}
	return false
}

// Create converts the best candidate among files into dir/name and returns the
// thumbnail path, or "" when no thumbnail was produced.
func (t *Thumbnailer) Create(ctx context.Context, dir, name string, files []string) string {
	if t == nil {
		return ""
	}
	if _, err := os.Stat(t.Tool); err != nil {
		log.Info().Str("tool", t.Tool).Msg("image converter not found, skipping thumbnail")
		return ""
	}
	input := PickThumbnailInput(files)
	if input == "" {
		log.Info().Msg("no thumbnail compatible images found")
		return ""
	}

	output := filepath.Join(dir, name)
	res, err := t.Runner.Run(ctx, process.Command{
		Path: t.Tool,
		Args: []string{input, "-thumbnail", "200x150>", output},
		Dir:  dir,
	})
	if err != nil {
		log.Warn().Err(err).Str("input", filepath.Base(input)).Str("output", res.Output()).Msg("no thumbnail generated")
		return ""
	}
	if _, err := os.Stat(output); err != nil {
		log.Warn().Err(err).Str("input", filepath.Base(input)).Msg("converter produced no thumbnail")
		return ""
	}
	log.Info().Str("input", filepath.Base(input)).Str("thumbnail", name).Msg("generated thumbnail")
	return output
}
