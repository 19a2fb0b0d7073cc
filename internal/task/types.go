package task

import "time"

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one document's end-to-end pipeline run and its tracked state.
type Task struct {
	ID            string    `json:"task_id"`
	Owner         string    `json:"owner"`
	Status        Status    `json:"status"`
	Filename      string    `json:"filename"`
	Language      string    `json:"language"`
	UseGPU        bool      `json:"use_gpu"`
	CreatedAt     time.Time `json:"created_at"`
	Error         string    `json:"error,omitempty"`
	ExternalJobID string    `json:"external_job_id,omitempty"`
}

// Result holds the recognized text of a completed task. Pages is ordered,
// index+1 is the page number. AllText is the pages joined with newlines.
type Result struct {
	Pages          []string `json:"detected_texts"`
	AllText        string   `json:"all_text"`
	PagesProcessed int      `json:"pages_processed"`
}

// Clone returns a copy safe to hand to callers while the original keeps
// being mutated under the store lock.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}
