package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/3cpo-dev/framefarm/internal/process"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

func TestTaskExecutorRendersFrame(t *testing.T) {
	root := newExecutablesRoot(t, true)
	runner := &fakeRunner{fn: renderFrames(".png")}
	e := newTestExecutor(root, runner)
	local := t.TempDir()
	writeFile(t, filepath.Join(local, "scene.mb"), "scene")

	res, err := e.Run(context.Background(), testTask(1), local)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != api.RunSucceeded {
		t.Fatalf("status %s: %s", res.Status, res.Output)
	}
	if res.Output != "Result: success\n" {
		t.Fatalf("output %q", res.Output)
	}
	outputs := res.Outputs(api.FileOutput)
	if len(outputs) != 1 || filepath.Base(outputs[0]) != "frame.0001.png" {
		t.Fatalf("outputs %v", outputs)
	}
	previews := res.Outputs(api.FilePreview)
	if len(previews) != 1 || filepath.Base(previews[0]) != "job-1_1_thumbnail.png" {
		t.Fatalf("previews %v", previews)
	}

	calls := runner.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected renderer and converter calls, got %d", len(calls))
	}
	render := calls[0]
	if render.Path != filepath.Join(root, "Maya2017", "bin", "Render") {
		t.Errorf("renderer path %s", render.Path)
	}
	if render.Dir != local {
		t.Errorf("renderer dir %s", render.Dir)
	}
	if argAfter(render.Args, "-renderer") != "arnold" || argAfter(render.Args, "-s") != "1" || argAfter(render.Args, "-e") != "1" {
		t.Errorf("renderer args %v", render.Args)
	}
	if render.Args[len(render.Args)-1] != "scene.mb" {
		t.Errorf("scene is not the last argument: %v", render.Args)
	}
	if !containsEnv(render.Env, "MAYA_APP_DIR="+local) {
		t.Errorf("MAYA_APP_DIR missing from %v", render.Env)
	}
	if calls[1].Args[0] != outputs[0] {
		t.Errorf("thumbnail input %s", calls[1].Args[0])
	}
}

func TestTaskExecutorWithoutConverter(t *testing.T) {
	root := newExecutablesRoot(t, false)
	runner := &fakeRunner{fn: renderFrames(".exr")}
	res, err := newTestExecutor(root, runner).Run(context.Background(), testTask(2), t.TempDir())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Outputs(api.FilePreview)) != 0 {
		t.Fatal("preview produced without converter")
	}
	if len(runner.Calls()) != 1 {
		t.Fatalf("converter should not run")
	}
}

func TestTaskExecutorRendererFailure(t *testing.T) {
	root := newExecutablesRoot(t, false)
	runner := &fakeRunner{fn: func(cmd process.Command) (process.Result, error) {
		os.WriteFile(filepath.Join(cmd.Dir, argAfter(cmd.Args, "-log")), []byte("license checkout failed"), 0644)
		return process.Result{ExitCode: 211}, &process.Error{Path: cmd.Path, ExitCode: 211, Err: errors.New("exit status 211")}
	}}
	res, err := newTestExecutor(root, runner).Run(context.Background(), testTask(3), t.TempDir())
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *process.Error
	if !errors.As(err, &perr) || perr.ExitCode != 211 {
		t.Fatalf("unexpected error %v", err)
	}
	if res.Status != api.RunFailed || res.Output != "license checkout failed" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTaskExecutorMissingLog(t *testing.T) {
	root := newExecutablesRoot(t, false)
	runner := &fakeRunner{}
	res, err := newTestExecutor(root, runner).Run(context.Background(), testTask(4), t.TempDir())
	if err != nil {
		t.Fatalf("missing log should not fail the task: %v", err)
	}
	if res.Status != api.RunSucceeded || res.Output != "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTaskExecutorParameterFailure(t *testing.T) {
	root := newExecutablesRoot(t, false)
	runner := &fakeRunner{}
	local := t.TempDir()
	task := testTask(5)
	delete(task.Parameters, ParamSettings)

	res, err := newTestExecutor(root, runner).Run(context.Background(), task, local)
	var perr *ParamError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParamError, got %v", err)
	}
	if !strings.HasPrefix(res.Output, "Parameter error: ") {
		t.Fatalf("output %q", res.Output)
	}
	if len(runner.Calls()) != 0 {
		t.Fatal("renderer ran with bad parameters")
	}
	entries, _ := os.ReadDir(local)
	if len(entries) != 0 {
		t.Fatalf("working directory touched: %d entries", len(entries))
	}
}

func TestTaskExecutorUnknownPlugin(t *testing.T) {
	root := newExecutablesRoot(t, false)
	runner := &fakeRunner{}
	task := testTask(6)
	task.Parameters[ParamSettings] = `{"Plugins": ["Houdini"]}`

	res, err := newTestExecutor(root, runner).Run(context.Background(), task, t.TempDir())
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Status != api.RunFailed || !strings.Contains(res.Output, "Houdini") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(runner.Calls()) != 0 {
		t.Fatal("renderer ran with unknown plugin")
	}
}

func containsEnv(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}
