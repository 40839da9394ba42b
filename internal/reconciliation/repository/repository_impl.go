package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/tally/internal/reconciliation/domain"
	transactiondomain "github.com/smallbiznis/tally/internal/transaction/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreateBatch(ctx context.Context, db *gorm.DB, batch *domain.ReconciliationBatch) error {
	return db.WithContext(ctx).Create(batch).Error
}

func (r *repo) GetBatch(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.ReconciliationBatch, error) {
	var batch domain.ReconciliationBatch
	err := db.WithContext(ctx).First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repo) ListBatches(ctx context.Context, db *gorm.DB, filter domain.BatchListFilter) ([]*domain.ReconciliationBatch, int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.ReconciliationBatch{})
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", string(*filter.Status))
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	stmt = stmt.Order(filter.SortBy + " " + filter.SortOrder + ", id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}

	var rows []*domain.ReconciliationBatch
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repo) ResetBatchForProcessing(ctx context.Context, db *gorm.DB, id uuid.UUID, now time.Time) error {
	// A retried job replays the whole file, so rows and counters from any
	// earlier attempt go away in the same transaction that flips the status.
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM bank_transactions WHERE upload_batch_id = ?`, id).Error; err != nil {
			return err
		}
		return tx.Exec(`UPDATE reconciliation_batches
			SET status = ?, started_at = ?, completed_at = NULL,
				total_transactions = 0, processed = 0, auto_matched = 0,
				needs_review = 0, unmatched = 0, updated_at = ?
			WHERE id = ?`,
			string(domain.BatchStatusProcessing), now, now, id,
		).Error
	})
}

func (r *repo) SetBatchTotal(ctx context.Context, db *gorm.DB, id uuid.UUID, total int) error {
	return db.WithContext(ctx).Model(&domain.ReconciliationBatch{}).
		Where("id = ?", id).
		Update("total_transactions", total).Error
}

func (r *repo) IncrementBatchCounters(ctx context.Context, db *gorm.DB, id uuid.UUID, delta domain.CounterDelta) error {
	if delta.Empty() {
		return nil
	}

	updates := map[string]any{}
	if delta.Processed != 0 {
		updates["processed"] = gorm.Expr("processed + ?", delta.Processed)
	}
	if delta.AutoMatched != 0 {
		updates["auto_matched"] = gorm.Expr("auto_matched + ?", delta.AutoMatched)
	}
	if delta.NeedsReview != 0 {
		updates["needs_review"] = gorm.Expr("needs_review + ?", delta.NeedsReview)
	}
	if delta.Unmatched != 0 {
		updates["unmatched"] = gorm.Expr("unmatched + ?", delta.Unmatched)
	}

	return db.WithContext(ctx).Model(&domain.ReconciliationBatch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repo) MarkBatchCompleted(ctx context.Context, db *gorm.DB, id uuid.UUID, now time.Time) error {
	return r.finishBatch(ctx, db, id, domain.BatchStatusCompleted, now)
}

func (r *repo) MarkBatchFailed(ctx context.Context, db *gorm.DB, id uuid.UUID, now time.Time) error {
	return r.finishBatch(ctx, db, id, domain.BatchStatusFailed, now)
}

func (r *repo) finishBatch(ctx context.Context, db *gorm.DB, id uuid.UUID, status domain.BatchStatus, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.ReconciliationBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       string(status),
			"completed_at": now,
		}).Error
}

func (r *repo) BulkInsertTransactions(ctx context.Context, db *gorm.DB, rows []*transactiondomain.BankTransaction) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO bank_transactions (
		id, upload_batch_id, transaction_date, description, amount,
		reference_number, status, matched_invoice_id, confidence_score,
		match_details, created_at
	) VALUES `)

	args := make([]any, 0, len(rows)*11)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			row.ID,
			row.UploadBatchID,
			row.TransactionDate,
			row.Description,
			row.Amount,
			row.ReferenceNumber,
			string(row.Status),
			row.MatchedInvoiceID,
			row.ConfidenceScore,
			row.MatchDetails,
			row.CreatedAt,
		)
	}

	return db.WithContext(ctx).Exec(sb.String(), args...).Error
}

func (r *repo) ListAutoMatchedForAudit(ctx context.Context, db *gorm.DB, batchID uuid.UUID) ([]domain.AutoMatchedAudit, error) {
	var rows []domain.AutoMatchedAudit
	err := db.WithContext(ctx).Raw(
		`SELECT id, matched_invoice_id, confidence_score
		FROM bank_transactions
		WHERE upload_batch_id = ? AND status = ?
		ORDER BY created_at, id`,
		batchID, string(transactiondomain.StatusAutoMatched),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
