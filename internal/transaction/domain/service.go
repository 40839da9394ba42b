package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
)

var (
	ErrTransactionNotFound  = errors.New("transaction_not_found")
	ErrInvalidTransactionID = errors.New("invalid_transaction_id")
	ErrInvalidState         = errors.New("invalid_state")
	ErrBatchNotFound        = errors.New("batch_not_found")
	ErrInvalidBatchID       = errors.New("invalid_batch_id")
	ErrInvalidStatusFilter  = errors.New("invalid_status_filter")
)

// ActionRequest carries a per-transaction admin action. PerformedBy falls
// back to the request actor, then "admin".
type ActionRequest struct {
	ID          string `json:"-"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performedBy"`
}

// ManualMatchRequest assigns a specific invoice to a transaction.
type ManualMatchRequest struct {
	ID          string `json:"-"`
	InvoiceID   string `json:"invoiceId" binding:"required"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performedBy"`
}

// ActionResponse returns the transitioned row and the audit entry written
// with it.
type ActionResponse struct {
	Transaction TransactionView `json:"transaction"`
	AuditLogID  string          `json:"auditLogId"`
}

// BulkConfirmRequest confirms every auto-matched transaction of one batch.
type BulkConfirmRequest struct {
	BatchID     string `json:"batchId" binding:"required"`
	PerformedBy string `json:"performedBy"`
}

type BulkConfirmResponse struct {
	ConfirmedCount int      `json:"confirmedCount"`
	TransactionIDs []string `json:"transactionIds"`
}

// ListRequest pages one batch's transactions newest first.
type ListRequest struct {
	pagination.Pagination
	BatchID string `form:"-" json:"-"`
	Status  string `form:"status"`
}

type ListResponse struct {
	pagination.PageInfo
	Data []TransactionView `json:"data"`
}

// TransactionView is the wire form of a bank transaction. Amounts and
// confidence scores are fixed to two decimal places.
type TransactionView struct {
	ID               string            `json:"id"`
	UploadBatchID    string            `json:"uploadBatchId"`
	TransactionDate  string            `json:"transactionDate"`
	Description      string            `json:"description"`
	Amount           string            `json:"amount"`
	ReferenceNumber  *string           `json:"referenceNumber,omitempty"`
	Status           TransactionStatus `json:"status"`
	MatchedInvoiceID *string           `json:"matchedInvoiceId"`
	ConfidenceScore  *string           `json:"confidenceScore"`
	MatchDetails     json.RawMessage   `json:"matchDetails,omitempty"`
	CreatedAt        string            `json:"createdAt"`
}

// ViewOf converts a transaction row to its wire form.
func ViewOf(txn BankTransaction) TransactionView {
	view := TransactionView{
		ID:              txn.ID.String(),
		UploadBatchID:   txn.UploadBatchID.String(),
		TransactionDate: txn.TransactionDate.Format("2006-01-02"),
		Description:     txn.Description,
		Amount:          txn.Amount.StringFixed(2),
		ReferenceNumber: txn.ReferenceNumber,
		Status:          txn.Status,
		CreatedAt:       txn.CreatedAt.UTC().Format(time.RFC3339),
	}
	if txn.MatchedInvoiceID != nil {
		id := txn.MatchedInvoiceID.String()
		view.MatchedInvoiceID = &id
	}
	if txn.ConfidenceScore != nil {
		score := txn.ConfidenceScore.StringFixed(2)
		view.ConfidenceScore = &score
	}
	if len(txn.MatchDetails) > 0 {
		view.MatchDetails = json.RawMessage(txn.MatchDetails)
	}
	return view
}

// DetailResponse is the review screen payload: the transaction, its matched
// invoice when one exists, the audit trail newest first, and which actions
// the current status allows.
type DetailResponse struct {
	Transaction     TransactionView                `json:"transaction"`
	Invoice         *invoicedomain.InvoiceView     `json:"invoice,omitempty"`
	AuditTrail      []*auditdomain.MatchAuditEntry `json:"auditTrail"`
	CanConfirm      bool                           `json:"canConfirm"`
	CanReject       bool                           `json:"canReject"`
	CanManualMatch  bool                           `json:"canManualMatch"`
	CanMarkExternal bool                           `json:"canMarkExternal"`
}

// Service applies admin actions to transactions and serves their reads.
// Every transition commits atomically with exactly one audit entry (one per
// row for bulk confirmation).
type Service interface {
	Confirm(ctx context.Context, req ActionRequest) (*ActionResponse, error)
	Reject(ctx context.Context, req ActionRequest) (*ActionResponse, error)
	ManualMatch(ctx context.Context, req ManualMatchRequest) (*ActionResponse, error)
	MarkExternal(ctx context.Context, req ActionRequest) (*ActionResponse, error)
	BulkConfirmAuto(ctx context.Context, req BulkConfirmRequest) (*BulkConfirmResponse, error)
	Get(ctx context.Context, id string) (*DetailResponse, error)
	ListByBatch(ctx context.Context, req ListRequest) (*ListResponse, error)
}
