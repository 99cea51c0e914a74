package model

import "time"

// JobStatus is the lifecycle state of a validation job. A job is terminal
// once its status leaves Running; later transitions are ignored.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether no further status transitions are accepted.
func (s JobStatus) Terminal() bool {
	return s != JobStatusRunning && s != ""
}

// JobStep names the pipeline stage a job has most recently reached.
type JobStep string

const (
	StepStarting   JobStep = "starting"
	StepExtraction JobStep = "extraction"
	StepEnrichment JobStep = "enrichment"
	StepQA         JobStep = "qa"
	StepComplete   JobStep = "complete"
	StepFailed     JobStep = "failed"
	StepCancelled  JobStep = "cancelled"
)

// Job tracks the visible progress of one end-to-end validation run for a
// single uploaded document. Mutated by the pipeline as it advances; polled
// concurrently for progress display and cancellation.
type Job struct {
	ID                 string    `json:"id"`
	Filename           string    `json:"filename"`
	Status             JobStatus `json:"status"`
	CurrentStep        JobStep   `json:"current_step"`
	TotalProviders     int       `json:"total_providers"`
	ProcessedProviders int       `json:"processed_providers"`
	CreatedAt          time.Time `json:"created_at"`
}
