package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/framefarm/internal/environment"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

// NewID returns a fresh job or task identifier.
func NewID() string { return uuid.NewString() }

// LocalOptions configures a single-machine render of a whole job.
type LocalOptions struct {
	Executor    *TaskExecutor
	Merger      *MergeAggregator
	Store       *Store
	Concurrency int
	// JobDir holds one working directory per frame plus the merge directory.
	JobDir string
}

// RunReport collects what a local run produced.
type RunReport struct {
	Job     api.Job
	Tasks   []api.Task
	Results []*api.TaskResult
	Merge   *api.JobResult
}

// FrameDir is the working directory of one frame under a job directory.
func FrameDir(jobDir string, index int) string {
	return filepath.Join(jobDir, "frames", strconv.Itoa(index))
}

// MergeDir is where task outputs are gathered before packaging.
func MergeDir(jobDir string) string {
	return filepath.Join(jobDir, "merge")
}

// RunLocal splits job, renders every frame with bounded concurrency, then
// merges the outputs of all frames. The merge is skipped if any task fails.
func RunLocal(ctx context.Context, job api.Job, opts LocalOptions) (*RunReport, error) {
	if job.ID == "" {
		job.ID = NewID()
	}
	tasks, err := SplitJob(job)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].ID = NewID()
	}

	executor := *opts.Executor
	if executor.NewEnviron == nil {
		ambient := environment.ProcessEnviron{}.Snapshot()
		executor.NewEnviron = func() environment.Environ { return environment.NewMapEnviron(ambient) }
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	report := &RunReport{Job: job, Tasks: tasks, Results: make([]*api.TaskResult, len(tasks))}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, t api.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := RunFrame(ctx, &executor, t, FrameDir(opts.JobDir, t.Index))
			report.Results[i] = res
			if opts.Store != nil {
				if serr := opts.Store.RecordTask(ctx, t, res); serr != nil {
					log.Warn().Err(serr).Str("task_id", t.ID).Msg("ledger write failed")
				}
			}
			if err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("frame %d: %w", t.Index, err))
				mu.Unlock()
			}
		}(i, task)
	}
	wg.Wait()

	if len(failures) > 0 {
		return report, errors.Join(failures...)
	}

	mergeDir := MergeDir(opts.JobDir)
	if err := GatherOutputs(mergeDir, report.Results); err != nil {
		return report, err
	}
	merged, err := opts.Merger.Merge(ctx, job.ID, mergeDir)
	if err != nil {
		return report, err
	}
	report.Merge = merged
	if opts.Store != nil {
		if err := opts.Store.RecordMerge(ctx, merged); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("ledger write failed")
		}
	}
	return report, nil
}

// RunFrame stages the task's input files into dir and executes the task there.
func RunFrame(ctx context.Context, e *TaskExecutor, t api.Task, dir string) (*api.TaskResult, error) {
	fail := func(err error) (*api.TaskResult, error) {
		return &api.TaskResult{TaskID: t.ID, Status: api.RunFailed, Output: err.Error()}, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail(fmt.Errorf("create frame dir: %w", err))
	}
	for _, f := range t.Files {
		if err := copyFile(f, filepath.Join(dir, filepath.Base(f))); err != nil {
			return fail(fmt.Errorf("stage input: %w", err))
		}
	}
	return e.Run(ctx, t, dir)
}

// GatherOutputs copies every task output into dir, flattened by base name.
func GatherOutputs(dir string, results []*api.TaskResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create merge dir: %w", err)
	}
	for _, res := range results {
		for _, f := range res.Outputs(api.FileOutput) {
			dst := filepath.Join(dir, filepath.Base(f))
			if _, err := os.Stat(dst); err == nil {
				log.Warn().Str("file", f).Msg("output name already gathered, skipping")
				continue
			}
			if err := copyFile(f, dst); err != nil {
				return fmt.Errorf("gather output: %w", err)
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
