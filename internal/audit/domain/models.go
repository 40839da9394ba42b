// Package domain defines the append-only match audit trail.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
)

// AuditAction labels one recorded decision about a transaction.
type AuditAction string

const (
	ActionAutoMatched    AuditAction = "auto_matched"
	ActionConfirmed      AuditAction = "confirmed"
	ActionRejected       AuditAction = "rejected"
	ActionManualMatched  AuditAction = "manual_matched"
	ActionMarkedExternal AuditAction = "marked_external"
)

// Valid reports whether the action is a known decision kind.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionAutoMatched, ActionConfirmed, ActionRejected, ActionManualMatched, ActionMarkedExternal:
		return true
	}
	return false
}

// The worker writes as ActorSystem; admin endpoints fall back to ActorAdmin
// when the caller does not identify themselves.
const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
)

// MatchAuditEntry is one immutable line of the match audit trail. Rows are
// only ever inserted, never updated or deleted.
type MatchAuditEntry struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID     uuid.UUID   `gorm:"type:uuid;not null;index:ix_match_audit_logs_txn_created,priority:1" json:"transactionId"`
	Action            AuditAction `gorm:"type:text;not null" json:"action"`
	PreviousInvoiceID *uuid.UUID  `gorm:"type:uuid" json:"previousInvoiceId"`
	NewInvoiceID      *uuid.UUID  `gorm:"type:uuid" json:"newInvoiceId"`
	PerformedBy       string      `gorm:"type:text;not null" json:"performedBy"`
	Reason            *string     `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt         time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_match_audit_logs_txn_created,priority:2,sort:desc" json:"createdAt"`
}

// TableName sets the database table name.
func (MatchAuditEntry) TableName() string { return "match_audit_logs" }

// ListFilter narrows an audit scan to one transaction, resuming after the
// cursor when set.
type ListFilter struct {
	TransactionID uuid.UUID
	Cursor        *pagination.Cursor
	Limit         int
}

// Repository persists audit entries. Writes take the caller's handle so a
// state change and its audit line commit in the same transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *MatchAuditEntry) error
	BulkInsert(ctx context.Context, db *gorm.DB, entries []*MatchAuditEntry) error
	ListByTransaction(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*MatchAuditEntry, error)
}
