// Package domain defines bank transactions and the state machine governing
// how admins finalize their disposition.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	StatusPending     TransactionStatus = "pending"
	StatusAutoMatched TransactionStatus = "auto_matched"
	StatusNeedsReview TransactionStatus = "needs_review"
	StatusUnmatched   TransactionStatus = "unmatched"
	StatusConfirmed   TransactionStatus = "confirmed"
	StatusExternal    TransactionStatus = "external"
)

// Valid reports whether the status is a known transaction state.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAutoMatched, StatusNeedsReview, StatusUnmatched, StatusConfirmed, StatusExternal:
		return true
	}
	return false
}

// The capability checks carry the allowed-from sets of the admin actions.
// Every transition is re-validated under the transaction's row lock and again
// by the status guard on the UPDATE itself.

func (s TransactionStatus) CanConfirm() bool {
	return s == StatusAutoMatched || s == StatusNeedsReview
}

func (s TransactionStatus) CanReject() bool {
	return s == StatusAutoMatched || s == StatusNeedsReview
}

func (s TransactionStatus) CanManualMatch() bool {
	return s == StatusNeedsReview || s == StatusUnmatched
}

func (s TransactionStatus) CanMarkExternal() bool {
	return s == StatusUnmatched
}

// BankTransaction is one parsed CSV row with its match outcome. The worker
// creates rows; only the state machine mutates them afterwards; rows are
// deleted only when the owning batch is reprocessed.
type BankTransaction struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey;index:ix_bank_transactions_batch_scan,priority:4,sort:desc" json:"id"`
	UploadBatchID    uuid.UUID         `gorm:"type:uuid;not null;index:ix_bank_transactions_batch_scan,priority:1" json:"uploadBatchId"`
	TransactionDate  time.Time         `gorm:"type:date;not null" json:"transactionDate"`
	Description      string            `gorm:"type:text;not null" json:"description"`
	Amount           decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	ReferenceNumber  *string           `gorm:"type:text" json:"referenceNumber,omitempty"`
	Status           TransactionStatus `gorm:"type:text;not null;default:'pending';index:ix_bank_transactions_batch_scan,priority:2" json:"status"`
	MatchedInvoiceID *uuid.UUID        `gorm:"type:uuid" json:"matchedInvoiceId"`
	ConfidenceScore  *decimal.Decimal  `gorm:"type:numeric(5,2)" json:"confidenceScore"`
	MatchDetails     datatypes.JSON    `json:"matchDetails"`
	CreatedAt        time.Time         `gorm:"not null;index:ix_bank_transactions_batch_scan,priority:3,sort:desc" json:"createdAt"`
}

// TableName sets the database table name.
func (BankTransaction) TableName() string { return "bank_transactions" }

// ListFilter scopes a cursor scan to one batch, optionally one status.
type ListFilter struct {
	BatchID uuid.UUID
	Status  *TransactionStatus
	Cursor  *pagination.Cursor
	Limit   int
}

// AutoMatchedRow is the projection bulk confirmation works from.
type AutoMatchedRow struct {
	ID               uuid.UUID  `gorm:"column:id"`
	MatchedInvoiceID *uuid.UUID `gorm:"column:matched_invoice_id"`
}

// InvoiceChange describes what a transition does to matched_invoice_id. The
// zero value keeps the current reference.
type InvoiceChange struct {
	Set   *uuid.UUID
	Clear bool
}

// Repository persists bank transactions. Write and lock paths take the
// caller's handle so transitions and their audit entries share a transaction.
type Repository interface {
	Get(ctx context.Context, db *gorm.DB, id uuid.UUID) (*BankTransaction, error)

	// GetForUpdate reads the row under a row lock where the dialect has one.
	GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*BankTransaction, error)

	// UpdateStatus applies the transition guarded by the allowed-from set.
	// A zero affected count means a concurrent action won the race.
	UpdateStatus(ctx context.Context, db *gorm.DB, id uuid.UUID, from []TransactionStatus, to TransactionStatus, invoice InvoiceChange) (int64, error)

	ListByBatch(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*BankTransaction, error)

	// ListAutoMatchedByBatch locks and returns the batch's auto-matched rows.
	ListAutoMatchedByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]AutoMatchedRow, error)

	BulkConfirm(ctx context.Context, db *gorm.DB, ids []uuid.UUID) (int64, error)

	BatchExists(ctx context.Context, db *gorm.DB, id uuid.UUID) (bool, error)
	InvoiceExists(ctx context.Context, db *gorm.DB, id uuid.UUID) (bool, error)
}
