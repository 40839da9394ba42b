package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/tally/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.MatchAuditEntry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO match_audit_logs (
			id, transaction_id, action, previous_invoice_id, new_invoice_id,
			performed_by, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.TransactionID,
		entry.Action,
		entry.PreviousInvoiceID,
		entry.NewInvoiceID,
		entry.PerformedBy,
		entry.Reason,
		entry.CreatedAt,
	).Error
}

func (r *repo) BulkInsert(ctx context.Context, db *gorm.DB, entries []*domain.MatchAuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO match_audit_logs (
		id, transaction_id, action, previous_invoice_id, new_invoice_id,
		performed_by, reason, created_at
	) VALUES `)

	args := make([]any, 0, len(entries)*8)
	for i, entry := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			entry.ID,
			entry.TransactionID,
			entry.Action,
			entry.PreviousInvoiceID,
			entry.NewInvoiceID,
			entry.PerformedBy,
			entry.Reason,
			entry.CreatedAt,
		)
	}

	return db.WithContext(ctx).Exec(sb.String(), args...).Error
}

func (r *repo) ListByTransaction(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.MatchAuditEntry, error) {
	var entries []*domain.MatchAuditEntry
	stmt := db.WithContext(ctx).Model(&domain.MatchAuditEntry{}).
		Where("transaction_id = ?", filter.TransactionID)

	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
