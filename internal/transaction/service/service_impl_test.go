package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	auditrepository "github.com/smallbiznis/tally/internal/audit/repository"
	auditservice "github.com/smallbiznis/tally/internal/audit/service"
	"github.com/smallbiznis/tally/internal/clock"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/tally/internal/invoice/service"
	recondomain "github.com/smallbiznis/tally/internal/reconciliation/domain"
	"github.com/smallbiznis/tally/internal/transaction/domain"
	"github.com/smallbiznis/tally/internal/transaction/repository"
	"github.com/smallbiznis/tally/pkg/db/pagination"
)

type testEnv struct {
	svc *Service
	db  *gorm.DB
	clk *clock.FakeClock
	seq int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&recondomain.ReconciliationBatch{},
		&domain.BankTransaction{},
		&auditdomain.MatchAuditEntry{},
	))

	clk := clock.NewFakeClock(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:  db,
		Log: zap.NewNop(),
	})

	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Repo:       repository.Provide(),
		AuditSvc:   auditSvc,
		InvoiceSvc: invoiceSvc,
	}).(*Service)

	return &testEnv{svc: svc, db: db, clk: clk}
}

func (e *testEnv) seedBatch(t *testing.T) uuid.UUID {
	t.Helper()
	batch := recondomain.ReconciliationBatch{
		ID:       uuid.New(),
		Filename: "statements.csv",
		Status:   recondomain.BatchStatusCompleted,
	}
	assert.NoError(t, e.db.Create(&batch).Error)
	return batch.ID
}

func (e *testEnv) seedInvoice(t *testing.T, number string) uuid.UUID {
	t.Helper()
	invoice := invoicedomain.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: number,
		CustomerName:  "Acme Corp",
		CustomerEmail: "billing@acme.test",
		Amount:        decimal.RequireFromString("1250.00"),
		Status:        invoicedomain.InvoiceStatusSent,
		DueDate:       time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, e.db.Create(&invoice).Error)
	return invoice.ID
}

// seedTransaction spaces created_at one minute apart so keyset paging is
// deterministic.
func (e *testEnv) seedTransaction(t *testing.T, batchID uuid.UUID, status domain.TransactionStatus, invoiceID *uuid.UUID) *domain.BankTransaction {
	t.Helper()
	e.seq++
	txn := domain.BankTransaction{
		ID:               uuid.New(),
		UploadBatchID:    batchID,
		TransactionDate:  time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC),
		Description:      "ACME CORP PAYMENT",
		Amount:           decimal.RequireFromString("1250.00"),
		Status:           status,
		MatchedInvoiceID: invoiceID,
		CreatedAt:        e.clk.Now().Add(time.Duration(e.seq) * time.Minute),
	}
	assert.NoError(t, e.db.Create(&txn).Error)
	return &txn
}

func (e *testEnv) auditCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	assert.NoError(t, e.db.Model(&auditdomain.MatchAuditEntry{}).Count(&count).Error)
	return count
}

func TestConfirmAutoMatched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-001")
	txn := env.seedTransaction(t, batchID, domain.StatusAutoMatched, &invoiceID)

	resp, err := env.svc.Confirm(ctx, domain.ActionRequest{ID: txn.ID.String()})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, resp.Transaction.Status)
	assert.NotNil(t, resp.Transaction.MatchedInvoiceID)
	assert.Equal(t, invoiceID.String(), *resp.Transaction.MatchedInvoiceID)
	assert.NotEmpty(t, resp.AuditLogID)

	var entry auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.First(&entry, "transaction_id = ?", txn.ID).Error)
	assert.Equal(t, auditdomain.ActionConfirmed, entry.Action)
	assert.Equal(t, invoiceID, *entry.PreviousInvoiceID)
	assert.Equal(t, invoiceID, *entry.NewInvoiceID)
	assert.Equal(t, auditdomain.ActorAdmin, entry.PerformedBy)
	assert.Equal(t, resp.AuditLogID, entry.ID.String())
}

func TestConfirmNeedsReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-002")
	txn := env.seedTransaction(t, batchID, domain.StatusNeedsReview, &invoiceID)

	resp, err := env.svc.Confirm(ctx, domain.ActionRequest{
		ID:          txn.ID.String(),
		PerformedBy: "ops@acme.test",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, resp.Transaction.Status)

	var entry auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.First(&entry, "transaction_id = ?", txn.ID).Error)
	assert.Equal(t, "ops@acme.test", entry.PerformedBy)
}

func TestConfirmInvalidStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-003")

	for _, status := range []domain.TransactionStatus{
		domain.StatusPending,
		domain.StatusUnmatched,
		domain.StatusConfirmed,
		domain.StatusExternal,
	} {
		var matched *uuid.UUID
		if status == domain.StatusConfirmed {
			matched = &invoiceID
		}
		txn := env.seedTransaction(t, batchID, status, matched)

		_, err := env.svc.Confirm(ctx, domain.ActionRequest{ID: txn.ID.String()})
		assert.ErrorIs(t, err, domain.ErrInvalidState, "status %s", status)

		// A refused transition must leave the row exactly as it was.
		var got domain.BankTransaction
		assert.NoError(t, env.db.First(&got, "id = ?", txn.ID).Error)
		assert.Equal(t, status, got.Status)
		assert.Equal(t, matched == nil, got.MatchedInvoiceID == nil)
	}

	assert.EqualValues(t, 0, env.auditCount(t))
}

func TestRejectClearsMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-004")
	txn := env.seedTransaction(t, batchID, domain.StatusNeedsReview, &invoiceID)

	resp, err := env.svc.Reject(ctx, domain.ActionRequest{
		ID:          txn.ID.String(),
		Reason:      "wrong customer",
		PerformedBy: "ops@acme.test",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusUnmatched, resp.Transaction.Status)
	assert.Nil(t, resp.Transaction.MatchedInvoiceID)

	var got domain.BankTransaction
	assert.NoError(t, env.db.First(&got, "id = ?", txn.ID).Error)
	assert.Nil(t, got.MatchedInvoiceID)

	var entry auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.First(&entry, "transaction_id = ?", txn.ID).Error)
	assert.Equal(t, auditdomain.ActionRejected, entry.Action)
	assert.Equal(t, invoiceID, *entry.PreviousInvoiceID)
	assert.Nil(t, entry.NewInvoiceID)
	assert.Equal(t, "ops@acme.test", entry.PerformedBy)
	assert.NotNil(t, entry.Reason)
	assert.Equal(t, "wrong customer", *entry.Reason)
}

func TestManualMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	oldInvoice := env.seedInvoice(t, "INV-2024-005")
	newInvoice := env.seedInvoice(t, "INV-2024-006")

	// From needs_review the previous suggestion is replaced.
	reviewed := env.seedTransaction(t, batchID, domain.StatusNeedsReview, &oldInvoice)
	resp, err := env.svc.ManualMatch(ctx, domain.ManualMatchRequest{
		ID:        reviewed.ID.String(),
		InvoiceID: newInvoice.String(),
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, resp.Transaction.Status)
	assert.Equal(t, newInvoice.String(), *resp.Transaction.MatchedInvoiceID)

	var entry auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.First(&entry, "transaction_id = ?", reviewed.ID).Error)
	assert.Equal(t, auditdomain.ActionManualMatched, entry.Action)
	assert.Equal(t, oldInvoice, *entry.PreviousInvoiceID)
	assert.Equal(t, newInvoice, *entry.NewInvoiceID)

	// From unmatched there is no previous invoice.
	unmatched := env.seedTransaction(t, batchID, domain.StatusUnmatched, nil)
	resp, err = env.svc.ManualMatch(ctx, domain.ManualMatchRequest{
		ID:        unmatched.ID.String(),
		InvoiceID: newInvoice.String(),
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, resp.Transaction.Status)

	// A fresh struct, so the first entry's primary key does not leak into
	// the query conditions.
	var second auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.First(&second, "transaction_id = ?", unmatched.ID).Error)
	assert.Nil(t, second.PreviousInvoiceID)
	assert.Equal(t, newInvoice, *second.NewInvoiceID)
}

func TestManualMatchInvoiceValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	txn := env.seedTransaction(t, batchID, domain.StatusNeedsReview, nil)

	_, err := env.svc.ManualMatch(ctx, domain.ManualMatchRequest{
		ID:        txn.ID.String(),
		InvoiceID: "not-a-uuid",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceID)

	_, err = env.svc.ManualMatch(ctx, domain.ManualMatchRequest{
		ID:        txn.ID.String(),
		InvoiceID: uuid.NewString(),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	var got domain.BankTransaction
	assert.NoError(t, env.db.First(&got, "id = ?", txn.ID).Error)
	assert.Equal(t, domain.StatusNeedsReview, got.Status)
	assert.EqualValues(t, 0, env.auditCount(t))
}

func TestMarkExternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	txn := env.seedTransaction(t, batchID, domain.StatusUnmatched, nil)

	resp, err := env.svc.MarkExternal(ctx, domain.ActionRequest{
		ID:     txn.ID.String(),
		Reason: "payroll transfer, no invoice expected",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusExternal, resp.Transaction.Status)
	assert.Nil(t, resp.Transaction.MatchedInvoiceID)

	var entry auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.First(&entry, "transaction_id = ?", txn.ID).Error)
	assert.Equal(t, auditdomain.ActionMarkedExternal, entry.Action)
	assert.Nil(t, entry.PreviousInvoiceID)
	assert.Nil(t, entry.NewInvoiceID)

	// Only unmatched rows can leave the ledger.
	invoiceID := env.seedInvoice(t, "INV-2024-007")
	matched := env.seedTransaction(t, batchID, domain.StatusAutoMatched, &invoiceID)
	_, err = env.svc.MarkExternal(ctx, domain.ActionRequest{ID: matched.ID.String()})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestActionTransactionLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Confirm(ctx, domain.ActionRequest{ID: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionID)

	_, err = env.svc.Confirm(ctx, domain.ActionRequest{ID: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestBulkConfirmAuto(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-008")
	autoOne := env.seedTransaction(t, batchID, domain.StatusAutoMatched, &invoiceID)
	autoTwo := env.seedTransaction(t, batchID, domain.StatusAutoMatched, &invoiceID)
	review := env.seedTransaction(t, batchID, domain.StatusNeedsReview, &invoiceID)
	env.seedTransaction(t, batchID, domain.StatusConfirmed, &invoiceID)

	resp, err := env.svc.BulkConfirmAuto(ctx, domain.BulkConfirmRequest{BatchID: batchID.String()})
	assert.NoError(t, err)
	assert.Equal(t, 2, resp.ConfirmedCount)
	assert.ElementsMatch(t, []string{autoOne.ID.String(), autoTwo.ID.String()}, resp.TransactionIDs)

	var got domain.BankTransaction
	assert.NoError(t, env.db.First(&got, "id = ?", review.ID).Error)
	assert.Equal(t, domain.StatusNeedsReview, got.Status)

	var confirmed int64
	assert.NoError(t, env.db.Model(&domain.BankTransaction{}).
		Where("status = ?", domain.StatusConfirmed).Count(&confirmed).Error)
	assert.EqualValues(t, 3, confirmed)

	assert.EqualValues(t, 2, env.auditCount(t))
	var entry auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.First(&entry, "transaction_id = ?", autoOne.ID).Error)
	assert.Equal(t, auditdomain.ActionConfirmed, entry.Action)
	assert.Equal(t, invoiceID, *entry.PreviousInvoiceID)
	assert.Equal(t, invoiceID, *entry.NewInvoiceID)
	assert.Equal(t, auditdomain.ActorAdmin, entry.PerformedBy)
	assert.NotNil(t, entry.Reason)
	assert.Equal(t, "Bulk confirmation of auto-matched transactions", *entry.Reason)
}

func TestBulkConfirmAutoRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-009")
	env.seedTransaction(t, batchID, domain.StatusAutoMatched, &invoiceID)
	env.seedTransaction(t, batchID, domain.StatusAutoMatched, &invoiceID)

	first, err := env.svc.BulkConfirmAuto(ctx, domain.BulkConfirmRequest{BatchID: batchID.String()})
	assert.NoError(t, err)
	assert.Equal(t, 2, first.ConfirmedCount)

	second, err := env.svc.BulkConfirmAuto(ctx, domain.BulkConfirmRequest{BatchID: batchID.String()})
	assert.NoError(t, err)
	assert.Equal(t, 0, second.ConfirmedCount)
	assert.Empty(t, second.TransactionIDs)

	// No second wave of audit entries.
	assert.EqualValues(t, 2, env.auditCount(t))
}

func TestBulkConfirmAutoScopedToBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoiceID := env.seedInvoice(t, "INV-2024-010")
	mine := env.seedBatch(t)
	other := env.seedBatch(t)
	env.seedTransaction(t, mine, domain.StatusAutoMatched, &invoiceID)
	untouched := env.seedTransaction(t, other, domain.StatusAutoMatched, &invoiceID)

	resp, err := env.svc.BulkConfirmAuto(ctx, domain.BulkConfirmRequest{BatchID: mine.String()})
	assert.NoError(t, err)
	assert.Equal(t, 1, resp.ConfirmedCount)

	var got domain.BankTransaction
	assert.NoError(t, env.db.First(&got, "id = ?", untouched.ID).Error)
	assert.Equal(t, domain.StatusAutoMatched, got.Status)
}

func TestBulkConfirmAutoBatchLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.BulkConfirmAuto(ctx, domain.BulkConfirmRequest{BatchID: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidBatchID)

	_, err = env.svc.BulkConfirmAuto(ctx, domain.BulkConfirmRequest{BatchID: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestGetDetail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-011")
	txn := env.seedTransaction(t, batchID, domain.StatusNeedsReview, &invoiceID)
	assert.NoError(t, env.db.Model(&domain.BankTransaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]any{
			"confidence_score": "72.50",
			"match_details":    datatypes.JSON([]byte(`{"explanation":"Name similarity 72.5%"}`)),
		}).Error)

	detail, err := env.svc.Get(ctx, txn.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsReview, detail.Transaction.Status)
	assert.NotNil(t, detail.Transaction.ConfidenceScore)
	assert.Equal(t, "72.50", *detail.Transaction.ConfidenceScore)
	assert.NotEmpty(t, detail.Transaction.MatchDetails)
	assert.True(t, detail.CanConfirm)
	assert.True(t, detail.CanReject)
	assert.True(t, detail.CanManualMatch)
	assert.False(t, detail.CanMarkExternal)
	assert.NotNil(t, detail.Invoice)
	assert.Equal(t, "INV-2024-011", detail.Invoice.InvoiceNumber)
	assert.Empty(t, detail.AuditTrail)

	_, err = env.svc.Confirm(ctx, domain.ActionRequest{ID: txn.ID.String()})
	assert.NoError(t, err)

	detail, err = env.svc.Get(ctx, txn.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, detail.Transaction.Status)
	assert.False(t, detail.CanConfirm)
	assert.False(t, detail.CanReject)
	assert.False(t, detail.CanManualMatch)
	assert.False(t, detail.CanMarkExternal)
	assert.Len(t, detail.AuditTrail, 1)
	assert.Equal(t, auditdomain.ActionConfirmed, detail.AuditTrail[0].Action)
}

func TestGetDetailUnmatched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	txn := env.seedTransaction(t, batchID, domain.StatusUnmatched, nil)

	detail, err := env.svc.Get(ctx, txn.ID.String())
	assert.NoError(t, err)
	assert.Nil(t, detail.Invoice)
	assert.False(t, detail.CanConfirm)
	assert.False(t, detail.CanReject)
	assert.True(t, detail.CanManualMatch)
	assert.True(t, detail.CanMarkExternal)
}

func TestGetLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionID)

	_, err = env.svc.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestListByBatchPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	var newest uuid.UUID
	for i := 0; i < 5; i++ {
		newest = env.seedTransaction(t, batchID, domain.StatusPending, nil).ID
	}

	first, err := env.svc.ListByBatch(ctx, domain.ListRequest{
		Pagination: pagination.Pagination{Limit: 2},
		BatchID:    batchID.String(),
	})
	assert.NoError(t, err)
	assert.Len(t, first.Data, 2)
	assert.Equal(t, newest.String(), first.Data[0].ID)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextCursor)

	second, err := env.svc.ListByBatch(ctx, domain.ListRequest{
		Pagination: pagination.Pagination{Limit: 2, Cursor: first.NextCursor},
		BatchID:    batchID.String(),
	})
	assert.NoError(t, err)
	assert.Len(t, second.Data, 2)
	assert.True(t, second.HasMore)

	third, err := env.svc.ListByBatch(ctx, domain.ListRequest{
		Pagination: pagination.Pagination{Limit: 2, Cursor: second.NextCursor},
		BatchID:    batchID.String(),
	})
	assert.NoError(t, err)
	assert.Len(t, third.Data, 1)
	assert.False(t, third.HasMore)

	seen := map[string]bool{}
	for _, page := range [][]domain.TransactionView{first.Data, second.Data, third.Data} {
		for _, row := range page {
			assert.False(t, seen[row.ID], "row repeated across pages")
			seen[row.ID] = true
		}
	}
}

func TestListByBatchStatusFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := env.seedBatch(t)
	invoiceID := env.seedInvoice(t, "INV-2024-012")
	env.seedTransaction(t, batchID, domain.StatusNeedsReview, &invoiceID)
	env.seedTransaction(t, batchID, domain.StatusNeedsReview, &invoiceID)
	env.seedTransaction(t, batchID, domain.StatusUnmatched, nil)

	resp, err := env.svc.ListByBatch(ctx, domain.ListRequest{
		BatchID: batchID.String(),
		Status:  "Needs_Review",
	})
	assert.NoError(t, err)
	assert.Len(t, resp.Data, 2)
	for _, row := range resp.Data {
		assert.Equal(t, domain.StatusNeedsReview, row.Status)
	}

	_, err = env.svc.ListByBatch(ctx, domain.ListRequest{
		BatchID: batchID.String(),
		Status:  "archived",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidStatusFilter)
}

func TestListByBatchValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ListByBatch(ctx, domain.ListRequest{BatchID: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidBatchID)

	_, err = env.svc.ListByBatch(ctx, domain.ListRequest{BatchID: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)

	batchID := env.seedBatch(t)
	_, err = env.svc.ListByBatch(ctx, domain.ListRequest{
		Pagination: pagination.Pagination{Cursor: "%%%"},
		BatchID:    batchID.String(),
	})
	assert.ErrorIs(t, err, pagination.ErrBadCursor)
}
