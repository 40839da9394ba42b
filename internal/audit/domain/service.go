package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidAction      = errors.New("invalid_audit_action")
	ErrInvalidTransaction = errors.New("invalid_transaction_id")
)

// RecordRequest describes one audit line to append. PerformedBy may be left
// empty; the service resolves the actor from the request context.
type RecordRequest struct {
	TransactionID     uuid.UUID
	Action            AuditAction
	PreviousInvoiceID *uuid.UUID
	NewInvoiceID      *uuid.UUID
	PerformedBy       string
	Reason            string
}

// ListAuditRequest pages the audit trail of one transaction, newest first.
type ListAuditRequest struct {
	pagination.Pagination
	TransactionID string `form:"-" json:"-"`
}

// ListAuditResponse carries one page of audit entries.
type ListAuditResponse struct {
	pagination.PageInfo
	Entries []*MatchAuditEntry `json:"entries"`
}

// Service records and reads match audit entries.
type Service interface {
	// Record appends a single entry using the caller's db handle, so the
	// entry commits together with the state change it describes. The stored
	// entry is returned so callers can surface its id.
	Record(ctx context.Context, db *gorm.DB, req RecordRequest) (*MatchAuditEntry, error)

	// RecordAll appends many entries in one statement.
	RecordAll(ctx context.Context, db *gorm.DB, reqs []RecordRequest) error

	// ListByTransaction returns the transaction's audit trail newest first.
	ListByTransaction(ctx context.Context, req ListAuditRequest) (*ListAuditResponse, error)
}
