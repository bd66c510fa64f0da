package core

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DenySuffixes marks incidental renderer and driver artifacts that are never
// reported as outputs.
var DenySuffixes = []string{".temp", ".stdout", ".log", ".xml", "mayaLog", ".mel", ".gbtaskcompletion"}

// FileSet is a set of absolute file paths.
type FileSet map[string]struct{}

// CollectFiles lists every regular file under root, recursively.
func CollectFiles(root string) (FileSet, error) {
	files := FileSet{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	return files, nil
}

// Sorted returns the paths in lexical order.
func (s FileSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// NewFiles returns files under root absent from before, minus denied artifacts.
func NewFiles(before FileSet, root string) ([]string, error) {
	now, err := CollectFiles(root)
	if err != nil {
		return nil, err
	}
	for p := range before {
		delete(now, p)
	}
	return FilterOutputs(now.Sorted()), nil
}

// FilterOutputs drops paths ending in a denied suffix.
func FilterOutputs(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !denied(p) {
			out = append(out, p)
		}
	}
	return out
}

func denied(path string) bool {
	for _, s := range DenySuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}
