package domain

import (
	"context"
	"errors"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	transactiondomain "github.com/smallbiznis/tally/internal/transaction/domain"
	"gorm.io/gorm"
)

// JobBatchProcessing is the queue job name for batch ingestion.
const JobBatchProcessing = "reconciliation-batch-processing"

// BatchJobPayload is the persisted queue payload.
type BatchJobPayload struct {
	BatchID  string `json:"batchId"`
	FilePath string `json:"filePath"`
}

var (
	ErrBatchNotFound       = errors.New("batch_not_found")
	ErrInvalidBatchID      = errors.New("invalid_batch_id")
	ErrMissingFile         = errors.New("missing_upload_file")
	ErrFileTooLarge        = errors.New("upload_too_large")
	ErrInvalidFileType     = errors.New("invalid_file_type")
	ErrInvalidStatusFilter = errors.New("invalid_status_filter")
	ErrInvalidSort         = errors.New("invalid_sort")
	ErrBatchNotTerminal    = errors.New("batch_not_terminal")
)

// BatchListFilter is the repository-level batch listing filter. SortBy and
// SortOrder arrive pre-validated as column name and direction.
type BatchListFilter struct {
	Status    *BatchStatus
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// AutoMatchedAudit is the scan row feeding the worker's audit pass.
type AutoMatchedAudit struct {
	ID               uuid.UUID        `gorm:"column:id"`
	MatchedInvoiceID *uuid.UUID       `gorm:"column:matched_invoice_id"`
	ConfidenceScore  *decimal.Decimal `gorm:"column:confidence_score"`
}

// Repository owns batch rows and the worker's bulk writes. Every method
// takes the caller's handle so the worker can group writes transactionally.
type Repository interface {
	CreateBatch(ctx context.Context, db *gorm.DB, batch *ReconciliationBatch) error
	GetBatch(ctx context.Context, db *gorm.DB, id uuid.UUID) (*ReconciliationBatch, error)
	ListBatches(ctx context.Context, db *gorm.DB, filter BatchListFilter) ([]*ReconciliationBatch, int64, error)
	ResetBatchForProcessing(ctx context.Context, db *gorm.DB, id uuid.UUID, now time.Time) error
	SetBatchTotal(ctx context.Context, db *gorm.DB, id uuid.UUID, total int) error
	IncrementBatchCounters(ctx context.Context, db *gorm.DB, id uuid.UUID, delta CounterDelta) error
	MarkBatchCompleted(ctx context.Context, db *gorm.DB, id uuid.UUID, now time.Time) error
	MarkBatchFailed(ctx context.Context, db *gorm.DB, id uuid.UUID, now time.Time) error
	BulkInsertTransactions(ctx context.Context, db *gorm.DB, rows []*transactiondomain.BankTransaction) error
	ListAutoMatchedForAudit(ctx context.Context, db *gorm.DB, batchID uuid.UUID) ([]AutoMatchedAudit, error)
}

// Processor runs one batch job end to end. The worker implements it; the
// upload path calls it directly when the queue is down.
type Processor interface {
	Process(ctx context.Context, batchID uuid.UUID, filePath string) error
}

type UploadRequest struct {
	File *multipart.FileHeader
}

type UploadResponse struct {
	BatchID string `json:"batchId"`
}

// BatchStatusView is the polling payload. Progress is a whole percent of
// processed over total, zero while the total is still unknown.
type BatchStatusView struct {
	BatchID           string      `json:"batchId"`
	Status            BatchStatus `json:"status"`
	TotalTransactions int64       `json:"totalTransactions"`
	Processed         int64       `json:"processed"`
	AutoMatched       int64       `json:"autoMatched"`
	NeedsReview       int64       `json:"needsReview"`
	Unmatched         int64       `json:"unmatched"`
	Progress          int         `json:"progress"`
}

type ListBatchesRequest struct {
	Status    string `form:"status"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
}

type ListBatchesResponse struct {
	Batches []*ReconciliationBatch `json:"batches"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// BatchSummary derives timing and per-class rates from the stored counters.
// Duration fields are only present for terminal batches.
type BatchSummary struct {
	BatchID           string      `json:"batchId"`
	Filename          string      `json:"filename"`
	Status            BatchStatus `json:"status"`
	TotalTransactions int         `json:"totalTransactions"`
	Processed         int         `json:"processed"`
	AutoMatched       int         `json:"autoMatched"`
	NeedsReview       int         `json:"needsReview"`
	Unmatched         int         `json:"unmatched"`
	AutoMatchedRate   int         `json:"autoMatchedRate"`
	NeedsReviewRate   int         `json:"needsReviewRate"`
	UnmatchedRate     int         `json:"unmatchedRate"`
	DurationMS        *int64      `json:"durationMs,omitempty"`
	Duration          *string     `json:"duration,omitempty"`
	RowsPerSec        *float64    `json:"rowsPerSec,omitempty"`
	StartedAt         *string     `json:"startedAt,omitempty"`
	CompletedAt       *string     `json:"completedAt,omitempty"`
}

type Service interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResponse, error)
	GetStatus(ctx context.Context, batchID string) (*BatchStatusView, error)
	ListBatches(ctx context.Context, req ListBatchesRequest) (*ListBatchesResponse, error)
	Summary(ctx context.Context, batchID string) (*BatchSummary, error)
	GetBatch(ctx context.Context, batchID string) (*ReconciliationBatch, error)
}
