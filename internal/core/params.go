package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/3cpo-dev/framefarm/internal/settings"
)

// Parameter names recognized on jobs and tasks.
const (
	ParamStart    = "start"
	ParamEnd      = "end"
	ParamJobFile  = "jobfile"
	ParamEngine   = "engine"
	ParamPrefix   = "prefix"
	ParamSettings = "settings"
)

// ParamError aggregates every invalid parameter of a job or task.
type ParamError struct {
	Problems []string
}

func (e *ParamError) Error() string {
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = "* " + p
	}
	return strings.Join(lines, "\n")
}

// Permanent reports that retrying with the same parameters cannot succeed.
func (e *ParamError) Permanent() bool { return true }

type paramReader struct {
	params   map[string]string
	problems []string
}

func (r *paramReader) fail(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *paramReader) str(name string) string {
	v, ok := r.params[name]
	if !ok {
		r.fail("%s parameter not specified", name)
		return ""
	}
	return v
}

func (r *paramReader) nonEmpty(name string) string {
	v, ok := r.params[name]
	switch {
	case !ok:
		r.fail("%s parameter not specified", name)
	case strings.TrimSpace(v) == "":
		r.fail("%s parameter is empty", name)
	}
	return v
}

func (r *paramReader) nonNegative(name string) int {
	v, ok := r.params[name]
	if !ok {
		r.fail("%s parameter not specified", name)
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.fail("%s parameter is not a valid integer", name)
		return 0
	}
	if n < 0 {
		r.fail("%s parameter is not a positive integer", name)
	}
	return n
}

func (r *paramReader) err() error {
	if len(r.problems) == 0 {
		return nil
	}
	return &ParamError{Problems: r.problems}
}

// JobParams are the validated parameters of a job.
type JobParams struct {
	Start   int
	End     int
	JobFile string
	Engine  string
}

// ParseJobParams validates the job parameter bag, reporting every problem at once.
func ParseJobParams(params map[string]string) (JobParams, error) {
	r := &paramReader{params: params}
	p := JobParams{
		Start:   r.nonNegative(ParamStart),
		End:     r.nonNegative(ParamEnd),
		JobFile: r.nonEmpty(ParamJobFile),
		Engine:  r.nonEmpty(ParamEngine),
	}
	if len(r.problems) == 0 && p.End < p.Start {
		r.fail("%s parameter is less than %s", ParamEnd, ParamStart)
	}
	return p, r.err()
}

// TaskParams are the validated parameters of a task together with the
// application settings of the installed renderer.
type TaskParams struct {
	JobFile     string
	Engine      string
	Prefix      string
	Environment settings.Environment
	Application settings.Application
}

// ParseTaskParams validates the task parameter bag and loads app.config from
// executablesRoot.
func ParseTaskParams(params map[string]string, executablesRoot string) (TaskParams, error) {
	r := &paramReader{params: params}
	p := TaskParams{
		JobFile: r.nonEmpty(ParamJobFile),
		Engine:  r.nonEmpty(ParamEngine),
		Prefix:  r.str(ParamPrefix),
	}
	if blob, ok := params[ParamSettings]; !ok {
		r.fail("%s parameter not specified", ParamSettings)
	} else if env, err := settings.ParseEnvironment(blob); err != nil {
		r.fail("%v", err)
	} else {
		p.Environment = env
	}

	app, err := settings.LoadApplication(filepath.Join(executablesRoot, settings.AppConfigName))
	switch {
	case errors.Is(err, settings.ErrNoAppConfig):
		r.fail("No config file found on the application image")
	case err != nil:
		r.fail("%v", err)
	default:
		p.Application = app
	}
	return p, r.err()
}
