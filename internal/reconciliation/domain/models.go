package domain

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus string

const (
	BatchStatusUploading  BatchStatus = "uploading"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusUploading, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the batch has finished processing. Terminal
// batches carry a completed_at timestamp and their counters satisfy
// processed = auto_matched + needs_review + unmatched.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// ReconciliationBatch is one CSV upload session. The worker owns every
// mutation after creation; reprocessing deletes the batch's transactions
// before inserting fresh ones, so counters always describe the latest run.
type ReconciliationBatch struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Filename          string      `gorm:"type:varchar(255);not null" json:"filename"`
	Status            BatchStatus `gorm:"type:varchar(20);not null;default:'uploading';index:ix_reconciliation_batches_status_created,priority:1" json:"status"`
	TotalTransactions int         `gorm:"not null;default:0" json:"totalTransactions"`
	Processed         int         `gorm:"not null;default:0" json:"processed"`
	AutoMatched       int         `gorm:"not null;default:0" json:"autoMatched"`
	NeedsReview       int         `gorm:"not null;default:0" json:"needsReview"`
	Unmatched         int         `gorm:"not null;default:0" json:"unmatched"`
	StartedAt         *time.Time  `json:"startedAt,omitempty"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
	CreatedAt         time.Time   `gorm:"autoCreateTime;index:ix_reconciliation_batches_status_created,priority:2,sort:desc" json:"createdAt"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ReconciliationBatch) TableName() string {
	return "reconciliation_batches"
}

// CounterDelta carries per-class increments accumulated over one processed
// chunk. Total is set once up front by SetBatchTotal, not incremented.
type CounterDelta struct {
	Processed   int
	AutoMatched int
	NeedsReview int
	Unmatched   int
}

func (d CounterDelta) Empty() bool {
	return d.Processed == 0 && d.AutoMatched == 0 && d.NeedsReview == 0 && d.Unmatched == 0
}
