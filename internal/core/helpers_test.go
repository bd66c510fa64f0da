package core

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/3cpo-dev/framefarm/internal/environment"
	"github.com/3cpo-dev/framefarm/internal/plugins"
	"github.com/3cpo-dev/framefarm/internal/process"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

const testAppConfig = `{"Version": "2017", "Application": "Maya2017", "UserDirectory": "2017-x64", "Adlm": "R12"}`

// fakeRunner records commands and hands each one to fn.
type fakeRunner struct {
	mu    sync.Mutex
	calls []process.Command
	fn    func(cmd process.Command) (process.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, cmd process.Command) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.fn == nil {
		return process.Result{}, nil
	}
	return f.fn(cmd)
}

func (f *fakeRunner) Calls() []process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Command(nil), f.calls...)
}

// newExecutablesRoot lays out app.config and, when withConvert is set, a
// placeholder image converter.
func newExecutablesRoot(t *testing.T, withConvert bool) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.config"), testAppConfig)
	if withConvert {
		writeFile(t, filepath.Join(root, "ImageMagick", "convert"), "#!/bin/sh\n")
	}
	return root
}

func newTestExecutor(root string, r process.Runner) *TaskExecutor {
	return &TaskExecutor{
		ExecutablesRoot: root,
		TempDir:         os.TempDir(),
		Registry:        plugins.NewRegistry(),
		Runner:          r,
		Thumbnails:      NewThumbnailer(root, r),
		NewEnviron:      func() environment.Environ { return environment.NewMapEnviron(map[string]string{"PATH": "/usr/bin"}) },
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// argAfter returns the argument following flag.
func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// renderFrames fakes the renderer: it writes the task log and, for each
// extension, one image named after the frame. The converter writes its
// output argument.
func renderFrames(exts ...string) func(process.Command) (process.Result, error) {
	return func(cmd process.Command) (process.Result, error) {
		if filepath.Base(cmd.Path) == "convert" {
			return process.Result{}, os.WriteFile(cmd.Args[3], []byte("thumb"), 0644)
		}
		frame, _ := strconv.Atoi(argAfter(cmd.Args, "-s"))
		log := filepath.Join(cmd.Dir, argAfter(cmd.Args, "-log"))
		if err := os.WriteFile(log, []byte("Result: success\n"), 0644); err != nil {
			return process.Result{}, err
		}
		for _, ext := range exts {
			name := filepath.Join(cmd.Dir, "images", "frame."+pad4(frame)+ext)
			if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
				return process.Result{}, err
			}
			if err := os.WriteFile(name, []byte("pixels "+strconv.Itoa(frame)), 0644); err != nil {
				return process.Result{}, err
			}
		}
		return process.Result{}, nil
	}
}

func pad4(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

func testTask(index int) api.Task {
	return api.Task{
		ID:    "task-" + strconv.Itoa(index),
		JobID: "job-1",
		Index: index,
		Parameters: map[string]string{
			ParamJobFile:  "scene.mb",
			ParamEngine:   "arnold",
			ParamPrefix:   "shot",
			ParamSettings: `{"Plugins": ["Arnold"], "PathMaps": ["X:/assets"]}`,
		},
	}
}
