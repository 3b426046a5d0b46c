package domain

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeArticle JobType = "article"
	JobTypeImage   JobType = "image"
	JobTypeVideo   JobType = "video"
)

// JobTypes lists every supported type; workers run one poll loop per entry.
var JobTypes = []JobType{JobTypeArticle, JobTypeImage, JobTypeVideo}

func (t JobType) Valid() bool {
	switch t {
	case JobTypeArticle, JobTypeImage, JobTypeVideo:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job may never change status again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the durable record of one generation request and its lifecycle.
// Result is set iff status is completed; ErrorMessage is set iff status is failed.
type Job struct {
	ID           string
	Type         JobType
	UserID       string
	Status       JobStatus
	Payload      json.RawMessage
	Attempts     int
	Result       json.RawMessage
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// QueueMessage is the wire format sent to queue backends. It is self-describing:
// a worker needs the job store only to record the outcome, not to learn the work.
type QueueMessage struct {
	JobID      string          `json:"job_id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type JobListFilter struct {
	UserID   string
	Type     JobType
	Page     int
	PageSize int
}

type JobListItem struct {
	JobID     string
	Type      JobType
	Status    JobStatus
	CreatedAt time.Time
}
