package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// PurgeJob is a request to physically remove a message and everything hanging
// off it. One job per message: the unique index makes requests idempotent.
type PurgeJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	MessageID   string `gorm:"size:26;not null;uniqueIndex"`
	ChatID      string `gorm:"size:26;index;not null"`
	RequestedBy string `gorm:"size:64;index;not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PurgeJob) TableName() string { return "purge_jobs" }
