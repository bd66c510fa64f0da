package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/framefarm/internal/environment"
	"github.com/3cpo-dev/framefarm/internal/plugins"
	"github.com/3cpo-dev/framefarm/internal/process"
	"github.com/3cpo-dev/framefarm/internal/telemetry"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

// TaskExecutor renders one frame in a prepared working directory.
type TaskExecutor struct {
	ExecutablesRoot string
	TempDir         string
	Registry        *plugins.Registry
	Runner          process.Runner
	Thumbnails      *Thumbnailer
	// NewEnviron returns the environment boundary for one task. The process
	// environment is used when nil.
	NewEnviron func() environment.Environ
}

// NewTaskExecutor wires an executor with the built-in plugins and os/exec.
func NewTaskExecutor(executablesRoot, tempDir string) *TaskExecutor {
	runner := process.ExecRunner{}
	return &TaskExecutor{
		ExecutablesRoot: executablesRoot,
		TempDir:         tempDir,
		Registry:        plugins.NewRegistry(),
		Runner:          runner,
		Thumbnails:      NewThumbnailer(executablesRoot, runner),
	}
}

// Run executes task in localDir. The result is never nil; the error is non-nil
// exactly when the result is a permanent failure.
func (e *TaskExecutor) Run(ctx context.Context, task api.Task, localDir string) (*api.TaskResult, error) {
	start := time.Now()
	logger := log.With().Str("task_id", task.ID).Str("job_id", task.JobID).Int("frame", task.Index).Logger()
	labels := map[string]string{"component": "executor"}
	result := &api.TaskResult{TaskID: task.ID, Status: api.RunFailed}

	params, err := ParseTaskParams(task.Parameters, e.ExecutablesRoot)
	if err != nil {
		logger.Error().Err(err).Msg("invalid task parameters")
		result.Output = "Parameter error: " + err.Error()
		telemetry.CounterGlobal("framefarm_task_failed", 1, labels)
		return result, err
	}

	var env environment.Environ
	if e.NewEnviron != nil {
		env = e.NewEnviron()
	}
	composer := &environment.Composer{
		ExecutablesRoot: e.ExecutablesRoot,
		LocalDir:        localDir,
		TempDir:         e.TempDir,
		Registry:        e.Registry,
		Environ:         env,
	}
	composed, err := composer.Compose(environment.Request{
		TaskID:   task.ID,
		JobID:    task.JobID,
		Frame:    task.Index,
		Engine:   params.Engine,
		JobFile:  params.JobFile,
		Prefix:   params.Prefix,
		App:      params.Application,
		Settings: params.Environment,
	})
	if err != nil {
		logger.Error().Err(err).Msg("environment setup failed")
		result.Output = err.Error()
		telemetry.CounterGlobal("framefarm_task_failed", 1, labels)
		return result, err
	}

	before, err := CollectFiles(localDir)
	if err != nil {
		result.Output = err.Error()
		return result, err
	}

	logger.Info().Str("executable", composed.Executable).Str("args", composed.Command).Msg("invoking renderer")
	res, runErr := e.Runner.Run(ctx, process.Command{
		Path: composed.Executable,
		Args: composed.Args,
		Dir:  localDir,
		Env:  composed.Env(),
	})
	logText, logErr := readLog(composed.LogFile)
	if runErr != nil {
		logger.Error().Err(runErr).Int("exit_code", res.ExitCode).Str("output", res.Output()).Msg("failed to invoke renderer")
		result.Output = logText
		telemetry.CounterGlobal("framefarm_task_failed", 1, labels)
		return result, fmt.Errorf("render frame %d: %w", task.Index, runErr)
	}
	if logErr != nil {
		logger.Warn().Err(logErr).Str("log", composed.LogFile).Msg("renderer log unavailable")
	}

	outputs, err := NewFiles(before, localDir)
	if err != nil {
		result.Output = err.Error()
		return result, err
	}
	result.Status = api.RunSucceeded
	result.Output = logText
	for _, f := range outputs {
		result.Files = append(result.Files, api.OutputFile{Path: f, Kind: api.FileOutput})
	}

	if thumb := e.Thumbnails.Create(ctx, localDir, TaskThumbnailName(task.JobID, task.Index), outputs); thumb != "" {
		result.Files = append(result.Files, api.OutputFile{Path: thumb, Kind: api.FilePreview})
	}

	telemetry.TimerGlobal("framefarm_task_duration", time.Since(start), labels)
	telemetry.HistogramGlobal("framefarm_task_outputs", float64(len(outputs)), labels)
	logger.Info().Int("outputs", len(outputs)).Dur("duration", time.Since(start)).Msg("task complete")
	return result, nil
}

func readLog(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("log %s not found", path)
		}
		return "", err
	}
	return string(b), nil
}
