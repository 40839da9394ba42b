// Package domain contains the invoice read model.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// Valid reports whether the status is a known lifecycle state.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue:
		return true
	}
	return false
}

// ParseStatusList parses a comma-separated status filter. Blank input yields
// an empty list; any unknown status fails the whole list.
func ParseStatusList(raw string) ([]InvoiceStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]InvoiceStatus, 0, len(parts))
	for _, part := range parts {
		status := InvoiceStatus(strings.ToLower(strings.TrimSpace(part)))
		if status == "" {
			continue
		}
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Invoice is loaded by the seed fixtures and matched against bank
// transactions. Core flows never mutate or delete rows; only non-paid
// invoices participate in matching.
type Invoice struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceNumber string          `gorm:"type:text;not null;uniqueIndex" json:"invoiceNumber"`
	CustomerName  string          `gorm:"type:text;not null" json:"customerName"`
	CustomerEmail string          `gorm:"type:text;not null" json:"customerEmail"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2);not null;index:ix_invoices_amount_status,priority:1" json:"amount"`
	Status        InvoiceStatus   `gorm:"type:text;not null;default:'draft';index:ix_invoices_amount_status,priority:2" json:"status"`
	DueDate       time.Time       `gorm:"type:date;not null" json:"dueDate"`
	PaidAt        *time.Time      `gorm:"" json:"paidAt,omitempty"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }
