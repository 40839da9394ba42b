package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SearchRequest filters invoices for the manual-match picker. A nil Amount
// skips the amount predicate; an empty status list defaults to every
// non-paid status unless IncludePaid is set.
type SearchRequest struct {
	Query       string
	Amount      *decimal.Decimal
	Statuses    []InvoiceStatus
	IncludePaid bool
	Limit       int
}

type SearchResponse struct {
	Invoices []InvoiceView `json:"invoices"`
}

// CandidatesRequest looks up unpaid invoices carrying the exact transaction
// amount, the same filter the matcher uses.
type CandidatesRequest struct {
	Amount decimal.Decimal
	Limit  int
}

type CandidatesResponse struct {
	Invoices []InvoiceView `json:"invoices"`
}

// InvoiceView is the wire form of an invoice. Amounts are fixed to two
// decimal places; the due date is a calendar day.
type InvoiceView struct {
	ID            string        `json:"id"`
	InvoiceNumber string        `json:"invoiceNumber"`
	CustomerName  string        `json:"customerName"`
	CustomerEmail string        `json:"customerEmail"`
	Amount        string        `json:"amount"`
	Status        InvoiceStatus `json:"status"`
	DueDate       string        `json:"dueDate"`
	PaidAt        *string       `json:"paidAt,omitempty"`
	CreatedAt     string        `json:"createdAt"`
}

// ViewOf converts an invoice row to its wire form.
func ViewOf(inv Invoice) InvoiceView {
	view := InvoiceView{
		ID:            inv.ID.String(),
		InvoiceNumber: inv.InvoiceNumber,
		CustomerName:  inv.CustomerName,
		CustomerEmail: inv.CustomerEmail,
		Amount:        inv.Amount.StringFixed(2),
		Status:        inv.Status,
		DueDate:       inv.DueDate.Format("2006-01-02"),
		CreatedAt:     inv.CreatedAt.UTC().Format(time.RFC3339),
	}
	if inv.PaidAt != nil {
		paidAt := inv.PaidAt.UTC().Format(time.RFC3339)
		view.PaidAt = &paidAt
	}
	return view
}

type Service interface {
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	Candidates(ctx context.Context, req CandidatesRequest) (CandidatesResponse, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	GetByNumber(ctx context.Context, number string) (Invoice, error)
	// FindCandidatesByAmounts returns unpaid invoices for each distinct
	// amount, keyed by the two-decimal string form of the amount.
	FindCandidatesByAmounts(ctx context.Context, amounts []decimal.Decimal) (map[string][]Invoice, error)
}

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvalidInvoiceID = errors.New("invalid_invoice_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidAmount    = errors.New("invalid_amount")
)
