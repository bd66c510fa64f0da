package agent

import (
	"time"

	"github.com/3cpo-dev/framefarm/pkg/api"
)

type HeartbeatResponse struct {
	Time    time.Time `json:"time"`
	Host    string    `json:"host"`
	Version string    `json:"version"`
	Running int       `json:"running_tasks"`
}

// TaskRequest is the body of POST /v0/tasks.
type TaskRequest = api.Task

// TaskResponse is the body returned by POST /v0/tasks. Failed tasks are
// reported through Status with HTTP 200.
type TaskResponse = api.TaskResult

// MergeRequest names the job to package. When Outputs is empty the outputs of
// the tasks this agent ran for the job are used.
type MergeRequest struct {
	JobID   string   `json:"job_id"`
	Outputs []string `json:"outputs,omitempty"`
}

// MergeResponse is the body returned by POST /v0/merge.
type MergeResponse = api.JobResult

type ErrorResponse struct {
	Error string `json:"error"`
}
