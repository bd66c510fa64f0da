package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	core "github.com/3cpo-dev/framefarm/internal/core"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
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

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "framefarm "+version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSplit(t *testing.T) {
	dir := t.TempDir()
	job := filepath.Join(dir, "job.yaml")
	writeFile(t, job, `id: job-7
parameters:
  start: "10"
  end: "12"
  jobfile: scene.mb
  engine: arnold
files: [scene.mb]
settings: '{"Plugins": ["Arnold"]}'
`)
	out, err := execute(t, "split", job)
	if err != nil {
		t.Fatal(err)
	}
	var tasks []api.Task
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if len(tasks) != 3 || tasks[0].Index != 10 || tasks[2].Index != 12 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[0].Files[0] != filepath.Join(dir, "scene.mb") {
		t.Fatalf("input not resolved against the job file: %v", tasks[0].Files)
	}
}

func TestSplitInvalidJob(t *testing.T) {
	job := filepath.Join(t.TempDir(), "job.yaml")
	writeFile(t, job, "parameters:\n  end: \"-1\"\n")
	if _, err := execute(t, "split", job); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestTaskParameterFailure(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "exe")
	writeFile(t, filepath.Join(root, "app.config"), `{"Version": "2017", "Application": "Maya2017", "UserDirectory": "2017-x64", "Adlm": "R12"}`)
	cfg := filepath.Join(dir, "config.yaml")
	writeFile(t, cfg, "executables_root: "+root+"\nwork_dir: "+filepath.Join(dir, "work")+"\nledger: "+filepath.Join(dir, "ledger.db")+"\n")

	out, err := execute(t, "--config", cfg, "task", "--frame", "3", "--param", "jobfile=scene.mb")
	if err == nil {
		t.Fatal("expected failure")
	}
	var res api.TaskResult
	if jerr := json.Unmarshal([]byte(out), &res); jerr != nil {
		t.Fatalf("unmarshal %q: %v", out, jerr)
	}
	if res.Status != api.RunFailed || !strings.Contains(res.Output, "engine parameter not specified") {
		t.Fatalf("unexpected result %+v", res)
	}

	hist, err := execute(t, "--config", cfg, "history", "local")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(hist, "failed") || !strings.Contains(hist, "not merged") {
		t.Fatalf("unexpected history:\n%s", hist)
	}
}

func TestKeygenAndKnownHost(t *testing.T) {
	dir := t.TempDir()
	key := filepath.Join(dir, "ssh", "id_ed25519")
	pub, err := execute(t, "keygen", "--out", key)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(pub, "ssh-ed25519 ") {
		t.Fatalf("unexpected public key %q", pub)
	}
	if _, err := execute(t, "keygen", "--out", key); err == nil {
		t.Fatal("keygen overwrote an existing key")
	}

	known := filepath.Join(dir, "known_hosts")
	if _, err := execute(t, "known-host", "add", "--file", known, "--port", "2222", "storage.local", strings.TrimSpace(pub)); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(known)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "[storage.local]:2222 ssh-ed25519 ") {
		t.Fatalf("unexpected known_hosts %q", b)
	}
}

func TestPrintReport(t *testing.T) {
	report := &core.RunReport{
		Job:   api.Job{ID: "job-1"},
		Tasks: []api.Task{{Index: 1}, {Index: 2}},
		Results: []*api.TaskResult{
			{Status: api.RunSucceeded, Files: []api.OutputFile{{Path: "a.exr", Kind: api.FileOutput}}},
			{Status: api.RunFailed},
		},
		Merge: &api.JobResult{OutputFile: "/work/job-1/merge/output.zip", Manifest: []api.FileDigest{{Name: "a.exr"}}},
	}
	var out bytes.Buffer
	printReport(&out, report)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var rows []string
	for _, l := range lines {
		if strings.Contains(l, "succeeded") || strings.Contains(l, "failed") {
			rows = append(rows, strings.Join(strings.Fields(l), " "))
		}
	}
	if len(rows) != 2 || !strings.Contains(rows[0], "1") || !strings.Contains(rows[1], "2") {
		t.Fatalf("unexpected rows %q in:\n%s", rows, out.String())
	}
	if !strings.Contains(out.String(), "job job-1 archived to /work/job-1/merge/output.zip (1 files)") {
		t.Fatalf("missing archive line:\n%s", out.String())
	}
}
