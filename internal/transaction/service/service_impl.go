package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/transaction/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"github.com/smallbiznis/tally/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	listDefaultLimit = 50
	listMaxLimit     = 100
)

const bulkConfirmReason = "Bulk confirmation of auto-matched transactions"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	AuditSvc   auditdomain.Service
	InvoiceSvc invoicedomain.Service
	Metrics    *telemetry.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	auditSvc   auditdomain.Service
	invoiceSvc invoicedomain.Service
	metrics    *telemetry.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("transaction.service"),
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		invoiceSvc: p.InvoiceSvc,
		metrics:    p.Metrics,
	}
}

func (s *Service) Confirm(ctx context.Context, req domain.ActionRequest) (*domain.ActionResponse, error) {
	txnID, err := parseTransactionID(req.ID)
	if err != nil {
		return nil, err
	}

	var resp *domain.ActionResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.lockTransaction(ctx, tx, txnID)
		if err != nil {
			return err
		}
		if !txn.Status.CanConfirm() {
			return domain.ErrInvalidState
		}

		affected, err := s.repo.UpdateStatus(ctx, tx, txnID,
			[]domain.TransactionStatus{domain.StatusAutoMatched, domain.StatusNeedsReview},
			domain.StatusConfirmed, domain.InvoiceChange{})
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrInvalidState
		}

		entry, err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			TransactionID:     txnID,
			Action:            auditdomain.ActionConfirmed,
			PreviousInvoiceID: txn.MatchedInvoiceID,
			NewInvoiceID:      txn.MatchedInvoiceID,
			PerformedBy:       req.PerformedBy,
			Reason:            req.Reason,
		})
		if err != nil {
			return err
		}

		resp, err = s.actionResponse(ctx, tx, txnID, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReviewDecision("confirm")
	s.log.Info("transaction confirmed", zap.String("transaction_id", txnID.String()))
	return resp, nil
}

func (s *Service) Reject(ctx context.Context, req domain.ActionRequest) (*domain.ActionResponse, error) {
	txnID, err := parseTransactionID(req.ID)
	if err != nil {
		return nil, err
	}

	var resp *domain.ActionResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.lockTransaction(ctx, tx, txnID)
		if err != nil {
			return err
		}
		if !txn.Status.CanReject() {
			return domain.ErrInvalidState
		}

		affected, err := s.repo.UpdateStatus(ctx, tx, txnID,
			[]domain.TransactionStatus{domain.StatusAutoMatched, domain.StatusNeedsReview},
			domain.StatusUnmatched, domain.InvoiceChange{Clear: true})
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrInvalidState
		}

		entry, err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			TransactionID:     txnID,
			Action:            auditdomain.ActionRejected,
			PreviousInvoiceID: txn.MatchedInvoiceID,
			PerformedBy:       req.PerformedBy,
			Reason:            req.Reason,
		})
		if err != nil {
			return err
		}

		resp, err = s.actionResponse(ctx, tx, txnID, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReviewDecision("reject")
	s.log.Info("transaction rejected", zap.String("transaction_id", txnID.String()))
	return resp, nil
}

func (s *Service) ManualMatch(ctx context.Context, req domain.ManualMatchRequest) (*domain.ActionResponse, error) {
	txnID, err := parseTransactionID(req.ID)
	if err != nil {
		return nil, err
	}
	invoiceID, err := uuid.Parse(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}

	var resp *domain.ActionResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.lockTransaction(ctx, tx, txnID)
		if err != nil {
			return err
		}
		if !txn.Status.CanManualMatch() {
			return domain.ErrInvalidState
		}

		exists, err := s.repo.InvoiceExists(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if !exists {
			return invoicedomain.ErrInvoiceNotFound
		}

		affected, err := s.repo.UpdateStatus(ctx, tx, txnID,
			[]domain.TransactionStatus{domain.StatusNeedsReview, domain.StatusUnmatched},
			domain.StatusConfirmed, domain.InvoiceChange{Set: &invoiceID})
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrInvalidState
		}

		entry, err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			TransactionID:     txnID,
			Action:            auditdomain.ActionManualMatched,
			PreviousInvoiceID: txn.MatchedInvoiceID,
			NewInvoiceID:      &invoiceID,
			PerformedBy:       req.PerformedBy,
			Reason:            req.Reason,
		})
		if err != nil {
			return err
		}

		resp, err = s.actionResponse(ctx, tx, txnID, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReviewDecision("manual_match")
	s.log.Info("transaction manually matched",
		zap.String("transaction_id", txnID.String()),
		zap.String("invoice_id", invoiceID.String()),
	)
	return resp, nil
}

func (s *Service) MarkExternal(ctx context.Context, req domain.ActionRequest) (*domain.ActionResponse, error) {
	txnID, err := parseTransactionID(req.ID)
	if err != nil {
		return nil, err
	}

	var resp *domain.ActionResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.lockTransaction(ctx, tx, txnID)
		if err != nil {
			return err
		}
		if !txn.Status.CanMarkExternal() {
			return domain.ErrInvalidState
		}

		affected, err := s.repo.UpdateStatus(ctx, tx, txnID,
			[]domain.TransactionStatus{domain.StatusUnmatched},
			domain.StatusExternal, domain.InvoiceChange{Clear: true})
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrInvalidState
		}

		entry, err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			TransactionID:     txnID,
			Action:            auditdomain.ActionMarkedExternal,
			PreviousInvoiceID: txn.MatchedInvoiceID,
			PerformedBy:       req.PerformedBy,
			Reason:            req.Reason,
		})
		if err != nil {
			return err
		}

		resp, err = s.actionResponse(ctx, tx, txnID, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReviewDecision("mark_external")
	s.log.Info("transaction marked external", zap.String("transaction_id", txnID.String()))
	return resp, nil
}

func (s *Service) BulkConfirmAuto(ctx context.Context, req domain.BulkConfirmRequest) (*domain.BulkConfirmResponse, error) {
	batchID, err := uuid.Parse(strings.TrimSpace(req.BatchID))
	if err != nil {
		return nil, domain.ErrInvalidBatchID
	}

	var resp *domain.BulkConfirmResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.repo.BatchExists(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrBatchNotFound
		}

		rows, err := s.repo.ListAutoMatchedByBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			resp = &domain.BulkConfirmResponse{TransactionIDs: []string{}}
			return nil
		}

		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}

		affected, err := s.repo.BulkConfirm(ctx, tx, ids)
		if err != nil {
			return err
		}

		entries := make([]auditdomain.RecordRequest, 0, len(rows))
		confirmed := make([]string, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, auditdomain.RecordRequest{
				TransactionID:     row.ID,
				Action:            auditdomain.ActionConfirmed,
				PreviousInvoiceID: row.MatchedInvoiceID,
				NewInvoiceID:      row.MatchedInvoiceID,
				PerformedBy:       req.PerformedBy,
				Reason:            bulkConfirmReason,
			})
			confirmed = append(confirmed, row.ID.String())
		}
		if err := s.auditSvc.RecordAll(ctx, tx, entries); err != nil {
			return err
		}

		resp = &domain.BulkConfirmResponse{
			ConfirmedCount: int(affected),
			TransactionIDs: confirmed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReviewDecision("bulk_confirm")
	s.log.Info("batch auto-matches confirmed",
		zap.String("batch_id", batchID.String()),
		zap.Int("confirmed", resp.ConfirmedCount),
	)
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.DetailResponse, error) {
	txnID, err := parseTransactionID(id)
	if err != nil {
		return nil, err
	}

	txn, err := s.repo.Get(ctx, s.db, txnID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrTransactionNotFound
	}

	resp := &domain.DetailResponse{
		Transaction:     domain.ViewOf(*txn),
		CanConfirm:      txn.Status.CanConfirm(),
		CanReject:       txn.Status.CanReject(),
		CanManualMatch:  txn.Status.CanManualMatch(),
		CanMarkExternal: txn.Status.CanMarkExternal(),
	}

	if txn.MatchedInvoiceID != nil {
		invoice, err := s.invoiceSvc.GetByID(ctx, txn.MatchedInvoiceID.String())
		switch {
		case err == nil:
			view := invoicedomain.ViewOf(invoice)
			resp.Invoice = &view
		case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
			s.log.Warn("matched invoice missing",
				zap.String("transaction_id", txnID.String()),
				zap.String("invoice_id", txn.MatchedInvoiceID.String()),
			)
		default:
			return nil, err
		}
	}

	trail, err := s.auditSvc.ListByTransaction(ctx, auditdomain.ListAuditRequest{
		TransactionID: txnID.String(),
	})
	if err != nil {
		return nil, err
	}
	resp.AuditTrail = trail.Entries

	return resp, nil
}

func (s *Service) ListByBatch(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	batchID, err := uuid.Parse(strings.TrimSpace(req.BatchID))
	if err != nil {
		return nil, domain.ErrInvalidBatchID
	}

	exists, err := s.repo.BatchExists(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrBatchNotFound
	}

	var status *domain.TransactionStatus
	if raw := strings.TrimSpace(req.Status); raw != "" {
		candidate := domain.TransactionStatus(strings.ToLower(raw))
		if !candidate.Valid() {
			return nil, domain.ErrInvalidStatusFilter
		}
		status = &candidate
	}

	var cursor *pagination.Cursor
	if strings.TrimSpace(req.Cursor) != "" {
		decoded, err := pagination.Decode(req.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = &decoded
	}

	limit := req.Clamp(listDefaultLimit, listMaxLimit)

	rows, err := s.repo.ListByBatch(ctx, s.db, domain.ListFilter{
		BatchID: batchID,
		Status:  status,
		Cursor:  cursor,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	page := pagination.BuildPage(rows, limit, func(row *domain.BankTransaction) string {
		return pagination.Encode(row.CreatedAt, row.ID)
	})

	views := make([]domain.TransactionView, 0, len(page.Items))
	for _, row := range page.Items {
		views = append(views, domain.ViewOf(*row))
	}

	return &domain.ListResponse{
		PageInfo: pagination.PageInfo{NextCursor: page.NextCursor, HasMore: page.HasMore},
		Data:     views,
	}, nil
}

func (s *Service) lockTransaction(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.BankTransaction, error) {
	txn, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) actionResponse(ctx context.Context, tx *gorm.DB, id uuid.UUID, entry *auditdomain.MatchAuditEntry) (*domain.ActionResponse, error) {
	updated, err := s.repo.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return &domain.ActionResponse{
		Transaction: domain.ViewOf(*updated),
		AuditLogID:  entry.ID.String(),
	}, nil
}

func parseTransactionID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil || parsed == uuid.Nil {
		return uuid.Nil, domain.ErrInvalidTransactionID
	}
	return parsed, nil
}
