package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/smallbiznis/tally/internal/transaction/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.BankTransaction, error) {
	var txn domain.BankTransaction
	err := db.WithContext(ctx).First(&txn, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repo) GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.BankTransaction, error) {
	query := `SELECT id, upload_batch_id, transaction_date, description, amount,
			reference_number, status, matched_invoice_id, confidence_score,
			match_details, created_at
		FROM bank_transactions
		WHERE id = ?`

	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var txn domain.BankTransaction
	if err := tx.WithContext(ctx).Raw(query, id).Scan(&txn).Error; err != nil {
		return nil, err
	}
	if txn.ID == uuid.Nil {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id uuid.UUID, from []domain.TransactionStatus, to domain.TransactionStatus, invoice domain.InvoiceChange) (int64, error) {
	updates := map[string]any{"status": to}
	if invoice.Clear {
		updates["matched_invoice_id"] = nil
	}
	if invoice.Set != nil {
		updates["matched_invoice_id"] = *invoice.Set
	}

	res := db.WithContext(ctx).Model(&domain.BankTransaction{}).
		Where("id = ? AND status IN ?", id, statusValues(from)).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repo) ListByBatch(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.BankTransaction, error) {
	var rows []*domain.BankTransaction
	stmt := db.WithContext(ctx).Model(&domain.BankTransaction{}).
		Where("upload_batch_id = ?", filter.BatchID)

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", string(*filter.Status))
	}
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

	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListAutoMatchedByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]domain.AutoMatchedRow, error) {
	// Locking the selection pins the set the guarded bulk UPDATE will hit,
	// so the audit append covers exactly the confirmed rows.
	query := `SELECT id, matched_invoice_id
		FROM bank_transactions
		WHERE upload_batch_id = ? AND status = ?
		ORDER BY created_at, id`

	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var rows []domain.AutoMatchedRow
	if err := tx.WithContext(ctx).Raw(query, batchID, string(domain.StatusAutoMatched)).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) BulkConfirm(ctx context.Context, db *gorm.DB, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&domain.BankTransaction{}).
		Where("id IN ? AND status = ?", ids, string(domain.StatusAutoMatched)).
		Update("status", string(domain.StatusConfirmed))
	return res.RowsAffected, res.Error
}

func (r *repo) BatchExists(ctx context.Context, db *gorm.DB, id uuid.UUID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Table("reconciliation_batches").
		Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *repo) InvoiceExists(ctx context.Context, db *gorm.DB, id uuid.UUID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Table("invoices").
		Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func statusValues(statuses []domain.TransactionStatus) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return values
}
