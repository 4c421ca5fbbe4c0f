package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is one queued chat turn. The user message is already stored when the
// job is created; the worker produces and stores the assistant reply.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID    uint64 `gorm:"index;not null;index:uniq_chat_job_idempo,unique,priority:1"`
	SessionID string `gorm:"size:26;index;not null"`
	Model     string `gorm:"type:varchar(128);not null"`
	// provider-side name of Model, empty when they are the same
	UpstreamModel string `gorm:"type:varchar(128)"`

	UserMessageID uint64 `gorm:"not null"`
	Prompt        string `gorm:"type:text;not null"`
	Temperature   float64
	MaxTokens     int

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_chat_job_idempo,unique,priority:2" json:"idempotency_key"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ResultMessageID *uint64 `gorm:"index"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "chat_jobs" }
