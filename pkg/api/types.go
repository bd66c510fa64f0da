package api

// v0 contains the public job and task types exchanged with schedulers and the agent.

// Job is a frame-range render request. Parameters must carry start, end,
// jobfile and engine.
type Job struct {
	ID         string            `json:"id" yaml:"id"`
	Parameters map[string]string `json:"parameters" yaml:"parameters"`
	// Files are the inputs every task needs, such as the scene and its assets.
	Files []string `json:"files" yaml:"files"`
	// Settings is the serialized environment settings blob attached to each task.
	Settings string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Task renders one frame of a job.
type Task struct {
	ID         string            `json:"id" yaml:"id"`
	JobID      string            `json:"job_id" yaml:"job_id"`
	Index      int               `json:"index" yaml:"index"`
	Parameters map[string]string `json:"parameters" yaml:"parameters"`
	Files      []string          `json:"files" yaml:"files"`
}

type FileKind string

const (
	FileOutput  FileKind = "output"
	FilePreview FileKind = "preview"
)

type OutputFile struct {
	Path string   `json:"path"`
	Kind FileKind `json:"kind"`
}

type TaskResult struct {
	TaskID string       `json:"task_id"`
	Status RunStatus    `json:"status"`
	Output string       `json:"output"`
	Files  []OutputFile `json:"files"`
}

// Outputs returns the paths of files of the given kind.
func (r TaskResult) Outputs(kind FileKind) []string {
	var out []string
	for _, f := range r.Files {
		if f.Kind == kind {
			out = append(out, f.Path)
		}
	}
	return out
}

// FileDigest identifies one archived file by content.
type FileDigest struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	BLAKE3 string `json:"blake3"`
}

type JobResult struct {
	JobID       string       `json:"job_id"`
	OutputFile  string       `json:"output_file"`
	PreviewFile string       `json:"preview_file,omitempty"`
	Manifest    []FileDigest `json:"manifest"`
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)
