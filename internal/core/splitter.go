package core

import (
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/framefarm/pkg/api"
)

// SplitJob produces one task per frame in [start, end], ascending. Task ids
// are left to the scheduler; NewTaskID fills them for local runs. Nothing is
// returned when any job parameter is invalid.
func SplitJob(job api.Job) ([]api.Task, error) {
	p, err := ParseJobParams(job.Parameters)
	if err != nil {
		log.Error().Str("job_id", job.ID).Err(err).Msg("invalid job parameters")
		return nil, err
	}

	tasks := make([]api.Task, 0, p.End-p.Start+1)
	for frame := p.Start; frame <= p.End; frame++ {
		params := make(map[string]string, len(job.Parameters)+1)
		for k, v := range job.Parameters {
			params[k] = v
		}
		if job.Settings != "" {
			params[ParamSettings] = job.Settings
		}
		tasks = append(tasks, api.Task{
			JobID:      job.ID,
			Index:      frame,
			Parameters: params,
			Files:      append([]string(nil), job.Files...),
		})
	}
	log.Info().Str("job_id", job.ID).Int("start", p.Start).Int("end", p.End).Int("tasks", len(tasks)).Msg("job split")
	return tasks, nil
}
