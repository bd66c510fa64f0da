package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aquasecurity/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	core "github.com/3cpo-dev/framefarm/internal/core"
	gssh "github.com/3cpo-dev/framefarm/internal/ssh"
	"github.com/3cpo-dev/framefarm/internal/telemetry"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

// Load the config and start telemetry if enabled
func loadConfig(cmd *cobra.Command) (core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return cfg, err
	}
	if cfg.Telemetry.Enabled {
		telemetry.InitGlobal(true, cfg.Telemetry.OTLPEndpoint)
	}
	return cfg, nil
}

func openStore(cfg core.Config) (*core.Store, error) {
	if cfg.Ledger == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger), 0700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return core.NewStore(cfg.Ledger)
}

func newExecutor(cfg core.Config) (*core.TaskExecutor, error) {
	if cfg.ExecutablesRoot == "" {
		return nil, errors.New("executables_root is not configured")
	}
	tmp := cfg.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	return core.NewTaskExecutor(cfg.ExecutablesRoot, tmp), nil
}

// readJob loads a job description in YAML or JSON. Relative input files are
// resolved against the job file's directory.
func readJob(path string) (api.Job, error) {
	var job api.Job
	b, err := os.ReadFile(path)
	if err != nil {
		return job, fmt.Errorf("read job: %w", err)
	}
	if err := yaml.Unmarshal(b, &job); err != nil {
		return job, fmt.Errorf("parse job: %w", err)
	}
	base := filepath.Dir(path)
	for i, f := range job.Files {
		if !filepath.IsAbs(f) {
			job.Files[i] = filepath.Join(base, f)
		}
	}
	return job, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Split a job into tasks
func newSplitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split JOB_FILE",
		Short: "Validate a job and print one task per frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJob(args[0])
			if err != nil {
				return err
			}
			tasks, err := core.SplitJob(job)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tasks)
		},
	}
}

// Render a single frame
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Render one frame in a working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			taskFile, _ := cmd.Flags().GetString("task")
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var task api.Task
			if taskFile != "" {
				b, err := os.ReadFile(taskFile)
				if err != nil {
					return fmt.Errorf("read task: %w", err)
				}
				if err := yaml.Unmarshal(b, &task); err != nil {
					return fmt.Errorf("parse task: %w", err)
				}
			} else {
				task, err = taskFromFlags(cmd)
				if err != nil {
					return err
				}
			}
			if task.ID == "" {
				task.ID = core.NewID()
			}
			if dir == "" {
				dir = core.FrameDir(filepath.Join(cfg.WorkDir, task.JobID), task.Index)
			}

			e, err := newExecutor(cfg)
			if err != nil {
				return err
			}
			res, runErr := core.RunFrame(cmd.Context(), e, task, dir)
			if store, err := openStore(cfg); err != nil {
				log.Warn().Err(err).Msg("ledger unavailable")
			} else if store != nil {
				defer store.Close()
				if err := store.RecordTask(cmd.Context(), task, res); err != nil {
					log.Warn().Err(err).Msg("ledger write failed")
				}
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().String("task", "", "task file (YAML or JSON); overrides the flags below")
	cmd.Flags().String("dir", "", "working directory (default <work_dir>/<job-id>/frames/<frame>)")
	cmd.Flags().String("job-id", "local", "job id")
	cmd.Flags().Int("frame", 0, "frame number")
	cmd.Flags().StringToString("param", nil, "task parameter key=value (jobfile, engine, prefix)")
	cmd.Flags().String("settings", "", "environment settings, inline or @file (default {})")
	cmd.Flags().StringSlice("file", nil, "input file to stage into the working directory")
	return cmd
}

func taskFromFlags(cmd *cobra.Command) (api.Task, error) {
	jobID, _ := cmd.Flags().GetString("job-id")
	frame, _ := cmd.Flags().GetInt("frame")
	params, _ := cmd.Flags().GetStringToString("param")
	settings, _ := cmd.Flags().GetString("settings")
	files, _ := cmd.Flags().GetStringSlice("file")

	if strings.HasPrefix(settings, "@") {
		b, err := os.ReadFile(settings[1:])
		if err != nil {
			return api.Task{}, fmt.Errorf("read settings: %w", err)
		}
		settings = string(b)
	}
	if strings.TrimSpace(settings) == "" {
		settings = "{}"
	}
	p := make(map[string]string, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	p[core.ParamSettings] = settings
	return api.Task{JobID: jobID, Index: frame, Parameters: p, Files: files}, nil
}

// Package the outputs of a job
func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge DIR",
		Short: "Archive every output under DIR into output.zip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString("job-id")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m := &core.MergeAggregator{}
			if cfg.ExecutablesRoot != "" {
				e, _ := newExecutor(cfg)
				m.Thumbnails = e.Thumbnails
			}
			res, err := m.Merge(cmd.Context(), jobID, args[0])
			if err != nil {
				return err
			}
			if store, err := openStore(cfg); err != nil {
				log.Warn().Err(err).Msg("ledger unavailable")
			} else if store != nil {
				defer store.Close()
				if err := store.RecordMerge(cmd.Context(), res); err != nil {
					log.Warn().Err(err).Msg("ledger write failed")
				}
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("job-id", "local", "job id")
	return cmd
}

// Render a whole job on this machine
func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render JOB_FILE",
		Short: "Split a job, render every frame locally and merge the outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			publish, _ := cmd.Flags().GetBool("publish")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			job, err := readJob(args[0])
			if err != nil {
				return err
			}
			if job.ID == "" {
				job.ID = core.NewID()
			}
			if concurrency <= 0 {
				concurrency = cfg.Concurrency
			}
			e, err := newExecutor(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			report, err := core.RunLocal(cmd.Context(), job, core.LocalOptions{
				Executor:    e,
				Merger:      &core.MergeAggregator{Thumbnails: e.Thumbnails},
				Store:       store,
				Concurrency: concurrency,
				JobDir:      filepath.Join(cfg.WorkDir, job.ID),
			})
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			if publish {
				remote, err := core.NewPublisher(cfg.Publish).Publish(cmd.Context(), report.Merge)
				if err != nil {
					return err
				}
				for _, r := range remote {
					fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", r)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("concurrency", 0, "frames rendered in parallel (default from config)")
	cmd.Flags().Bool("publish", false, "upload the archive to the storage host when done")
	return cmd
}

func printReport(w io.Writer, report *core.RunReport) {
	tbl := newTable(w, "Frame", "Status", "Outputs")
	for i, res := range report.Results {
		if res == nil {
			continue
		}
		tbl.AddRow(strconv.Itoa(report.Tasks[i].Index), string(res.Status), strconv.Itoa(len(res.Outputs(api.FileOutput))))
	}
	tbl.Render()
	if report.Merge != nil {
		fmt.Fprintf(w, "job %s archived to %s (%d files)\n", report.Job.ID, report.Merge.OutputFile, len(report.Merge.Manifest))
	}
}

func newTable(w io.Writer, headers ...string) *table.Table {
	tbl := table.New(w)
	tbl.SetBorders(false)
	tbl.SetHeaders(headers...)
	return tbl
}

// Show recorded results of a job
func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history JOB_ID",
		Short: "Show the recorded task and merge results of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("ledger is not configured")
			}
			defer store.Close()

			tasks, err := store.TaskHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			tbl := newTable(w, "Frame", "Task", "Status", "Outputs", "Recorded")
			for _, t := range tasks {
				tbl.AddRow(strconv.Itoa(t.Frame), t.TaskID, string(t.Status), strconv.Itoa(t.Outputs), t.RecordedAt.Format("2006-01-02 15:04:05"))
			}
			tbl.Render()

			rec, err := store.Job(cmd.Context(), args[0])
			switch {
			case errors.Is(err, sql.ErrNoRows):
				fmt.Fprintln(w, "not merged")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(w, "merged %s into %s\n", rec.MergedAt.Format("2006-01-02 15:04:05"), rec.Result.OutputFile)
			for _, d := range rec.Result.Manifest {
				fmt.Fprintf(w, "  %s\t%d\t%s\n", d.Name, d.Size, d.BLAKE3)
			}
			return nil
		},
	}
}

// Upload a merged job to the storage host
func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish JOB_ID",
		Short: "Upload a merged job's archive and preview over SFTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("ledger is not configured")
			}
			defer store.Close()
			rec, err := store.Job(cmd.Context(), args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job %s has not been merged", args[0])
			}
			if err != nil {
				return err
			}
			remote, err := core.NewPublisher(cfg.Publish).Publish(cmd.Context(), &rec.Result)
			if err != nil {
				return err
			}
			for _, r := range remote {
				fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", r)
			}
			return nil
		},
	}
}

// Generate the SSH key used to publish
func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the ed25519 key used to publish to the storage host",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				out = cfg.Publish.KeyPath
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			pub, err := gssh.GenerateEd25519Keypair(out)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), pub)
			return nil
		},
	}
	cmd.Flags().String("out", "", "private key path (default publish.key_path)")
	return cmd
}

// Manage pinned storage host keys
func newKnownHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "known-host",
		Short: "Manage the storage host keys trusted by publish",
	}
	add := &cobra.Command{
		Use:   "add HOST KEY...",
		Short: "Trust HOST's key, given in authorized_keys format",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetInt("port")
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				file = cfg.Publish.KnownHosts
			}
			addr := net.JoinHostPort(args[0], strconv.Itoa(port))
			if err := gssh.AppendKnownHost(file, addr, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", addr, file)
			return nil
		},
	}
	add.Flags().Int("port", 22, "SSH port of the host")
	add.Flags().String("file", "", "known_hosts file (default publish.known_hosts)")
	cmd.AddCommand(add)
	return cmd
}
