package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestExecRunnerSuccess(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	res, err := ExecRunner{}.Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", `echo "$GREETING"; pwd >&2`},
		Dir:  dir,
		Env:  []string{"GREETING=hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, res.Stderr, filepath.Base(resolved))
}

func TestExecRunnerExitCode(t *testing.T) {
	skipWithoutShell(t)
	res, err := ExecRunner{}.Run(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	require.Error(t, err)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom", res.Output())
}

func TestExecRunnerLaunchFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-tool")
	res, err := ExecRunner{}.Run(context.Background(), Command{Path: missing})
	require.Error(t, err)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, -1, perr.ExitCode)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, "No program output", res.Output())
}

func TestExecRunnerCancel(t *testing.T) {
	skipWithoutShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := ExecRunner{}.Run(ctx, Command{Path: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	require.Error(t, err)
}
