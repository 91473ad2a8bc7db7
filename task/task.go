package task

import (
	"time"

	"ytdlapi/fetch"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the record kept for one accepted download request. Result or
// Batch is set once a task completes, Error once it fails.
type Task struct {
	ID         string        `json:"task_id"`
	Status     Status        `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	FinishedAt time.Time     `json:"-"` // zero until the task is completed or failed
	Result     *fetch.Result `json:"-"`
	Batch      *BatchResult  `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// Outcome returns the result body exposed to clients: the single download
// result or the batch summary.
func (t *Task) Outcome() interface{} {
	switch {
	case t.Batch != nil:
		return t.Batch
	case t.Result != nil:
		return t.Result
	}
	return nil
}

type BatchItem struct {
	Index  int           `json:"index"`
	Status Status        `json:"status"`
	Result *fetch.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type BatchSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type BatchResult struct {
	Items   []BatchItem  `json:"items"`
	Summary BatchSummary `json:"summary"`
}

// Counts aggregates tasks per status.
type Counts struct {
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Payload is the work attached to a task. A non-nil Videos marks a batch;
// otherwise Video is downloaded on its own.
type Payload struct {
	Video  fetch.Request
	Videos []fetch.Request
}

func (p Payload) IsBatch() bool { return p.Videos != nil }

// Size is the number of videos the payload asks for.
func (p Payload) Size() int {
	if p.IsBatch() {
		return len(p.Videos)
	}
	return 1
}
