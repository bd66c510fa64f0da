package core

import (
	"archive/zip"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/zeebo/blake3"
)

func blake3File(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()
	var names []string
	for _, f := range r.File {
		if f.Method != zip.Deflate {
			t.Errorf("%s stored with method %d", f.Name, f.Method)
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestMergeArchivesOutputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.exr"), "aaaa")
	writeFile(t, filepath.Join(dir, "sub", "b.png"), "bbbb")
	writeFile(t, filepath.Join(dir, "render.log"), "log")
	writeFile(t, filepath.Join(dir, "renderPrep.mel"), "mel")

	m := &MergeAggregator{}
	res, err := m.Merge(context.Background(), "job-1", dir)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.OutputFile != filepath.Join(dir, ArchiveName) || res.PreviewFile != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	names := zipNames(t, res.OutputFile)
	if len(names) != 2 || names[0] != "a.exr" || names[1] != "b.png" {
		t.Fatalf("archive entries %v", names)
	}
	if _, err := os.Stat(res.OutputFile + ".temp"); !os.IsNotExist(err) {
		t.Fatal("temporary archive left behind")
	}

	if len(res.Manifest) != 2 {
		t.Fatalf("manifest %+v", res.Manifest)
	}
	for _, d := range res.Manifest {
		src := filepath.Join(dir, d.Name)
		if d.Name == "b.png" {
			src = filepath.Join(dir, "sub", "b.png")
		}
		want, err := blake3File(src)
		if err != nil {
			t.Fatal(err)
		}
		if d.BLAKE3 != want || d.Size != 4 {
			t.Errorf("digest of %s = %+v", d.Name, d)
		}
	}
}

func TestMergeRerunSkipsOwnArchive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.exr"), "aaaa")
	m := &MergeAggregator{}
	if _, err := m.Merge(context.Background(), "job-1", dir); err != nil {
		t.Fatal(err)
	}
	res, err := m.Merge(context.Background(), "job-1", dir)
	if err != nil {
		t.Fatal(err)
	}
	if names := zipNames(t, res.OutputFile); len(names) != 1 || names[0] != "a.exr" {
		t.Fatalf("archive entries %v", names)
	}
}

func TestMergeDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1", "frame.exr"), "first")
	writeFile(t, filepath.Join(dir, "2", "frame.exr"), "second")
	res, err := (&MergeAggregator{}).Merge(context.Background(), "job-1", dir)
	if err != nil {
		t.Fatal(err)
	}
	if names := zipNames(t, res.OutputFile); len(names) != 1 {
		t.Fatalf("archive entries %v", names)
	}
	if res.Manifest[0].Size != int64(len("first")) {
		t.Fatalf("kept the wrong file: %+v", res.Manifest[0])
	}
}

func TestMergeWithPreview(t *testing.T) {
	root := newExecutablesRoot(t, true)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "frame.0001.png"), "pixels")
	m := &MergeAggregator{Thumbnails: NewThumbnailer(root, &fakeRunner{fn: renderFrames()})}
	res, err := m.Merge(context.Background(), "job-1", dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.PreviewFile != filepath.Join(dir, "job-1_thumbnail.png") {
		t.Fatalf("preview %q", res.PreviewFile)
	}
	if names := zipNames(t, res.OutputFile); len(names) != 1 {
		t.Fatalf("preview archived: %v", names)
	}
}

func TestMergeNoOutputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "render.log"), "log")
	writeFile(t, filepath.Join(dir, "x.stdout"), "out")
	_, err := (&MergeAggregator{}).Merge(context.Background(), "job-1", dir)
	var nerr *NoOutputsError
	if !errors.As(err, &nerr) || nerr.Dir != dir {
		t.Fatalf("expected NoOutputsError, got %v", err)
	}
}

func TestMergePackageError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.exr"), "aaaa")
	if err := os.Mkdir(filepath.Join(dir, ArchiveName+".temp"), 0755); err != nil {
		t.Fatal(err)
	}
	_, err := (&MergeAggregator{}).Merge(context.Background(), "job-1", dir)
	var perr *PackageError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PackageError, got %v", err)
	}
}
