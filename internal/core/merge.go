package core

import (
	"archive/zip"
	"compress/flate"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/3cpo-dev/framefarm/internal/telemetry"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

// ArchiveName is the packaged job output.
const ArchiveName = "output.zip"

// NoOutputsError is returned when a merge finds nothing to package.
type NoOutputsError struct {
	Dir string
}

func (e *NoOutputsError) Error() string {
	return fmt.Sprintf("no job outputs found in %s", e.Dir)
}

// PackageError is returned when the archive cannot be written.
type PackageError struct {
	Archive string
	Err     error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("failed to zip outputs into %s: %v", e.Archive, e.Err)
}

func (e *PackageError) Unwrap() error { return e.Err }

// MergeAggregator packages every task output of a job into one archive.
type MergeAggregator struct {
	Thumbnails *Thumbnailer
}

// Merge archives the outputs found under dir and renders a job preview.
// All tasks must be terminal before Merge is called.
func (m *MergeAggregator) Merge(ctx context.Context, jobID, dir string) (*api.JobResult, error) {
	start := time.Now()
	logger := log.With().Str("job_id", jobID).Logger()

	found, err := CollectFiles(dir)
	if err != nil {
		return nil, err
	}
	archive := filepath.Join(dir, ArchiveName)
	preview := filepath.Join(dir, JobThumbnailName(jobID))
	var inputs []string
	for _, f := range FilterOutputs(found.Sorted()) {
		if f == archive || f == preview {
			continue
		}
		inputs = append(inputs, f)
	}
	if len(inputs) == 0 {
		return nil, &NoOutputsError{Dir: dir}
	}

	manifest, err := writeArchive(archive, inputs)
	if err != nil {
		logger.Error().Err(err).Msg("packaging failed")
		telemetry.CounterGlobal("framefarm_merge_failed", 1, map[string]string{"component": "merge"})
		return nil, err
	}

	result := &api.JobResult{JobID: jobID, OutputFile: archive, Manifest: manifest}
	result.PreviewFile = m.Thumbnails.Create(ctx, dir, JobThumbnailName(jobID), inputs)

	telemetry.TimerGlobal("framefarm_merge_duration", time.Since(start), map[string]string{"component": "merge"})
	logger.Info().Int("files", len(manifest)).Str("archive", archive).Msg("job outputs merged")
	return result, nil
}

// writeArchive zips inputs flat by base name with maximum compression. The
// archive is built under a temporary name and renamed into place on success.
func writeArchive(archive string, inputs []string) ([]api.FileDigest, error) {
	partial := archive + ".temp"
	f, err := os.Create(partial)
	if err != nil {
		return nil, &PackageError{Archive: archive, Err: err}
	}
	fail := func(err error) ([]api.FileDigest, error) {
		f.Close()
		os.Remove(partial)
		return nil, &PackageError{Archive: archive, Err: err}
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	seen := map[string]string{}
	var manifest []api.FileDigest
	for _, in := range inputs {
		name := filepath.Base(in)
		if prev, dup := seen[name]; dup {
			log.Warn().Str("file", in).Str("kept", prev).Msg("duplicate output name, skipping")
			continue
		}
		seen[name] = in
		d, err := addFile(zw, in, name)
		if err != nil {
			return fail(fmt.Errorf("add %s: %w", name, err))
		}
		manifest = append(manifest, d)
	}
	if err := zw.Close(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return nil, &PackageError{Archive: archive, Err: err}
	}
	if err := os.Rename(partial, archive); err != nil {
		os.Remove(partial)
		return nil, &PackageError{Archive: archive, Err: err}
	}
	return manifest, nil
}

func addFile(zw *zip.Writer, path, name string) (api.FileDigest, error) {
	src, err := os.Open(path)
	if err != nil {
		return api.FileDigest{}, err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return api.FileDigest{}, err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return api.FileDigest{}, err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return api.FileDigest{}, err
	}
	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(w, h), src)
	if err != nil {
		return api.FileDigest{}, err
	}
	return api.FileDigest{Name: name, Size: n, BLAKE3: hex.EncodeToString(h.Sum(nil))}, nil
}
