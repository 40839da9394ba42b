package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	auditrepository "github.com/smallbiznis/tally/internal/audit/repository"
	auditservice "github.com/smallbiznis/tally/internal/audit/service"
	"github.com/smallbiznis/tally/internal/clock"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/tally/internal/invoice/service"
	"github.com/smallbiznis/tally/internal/matching"
	"github.com/smallbiznis/tally/internal/progress"
	"github.com/smallbiznis/tally/internal/queue"
	"github.com/smallbiznis/tally/internal/reconciliation/domain"
	"github.com/smallbiznis/tally/internal/reconciliation/repository"
	transactiondomain "github.com/smallbiznis/tally/internal/transaction/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type testEnv struct {
	w   *Worker
	db  *gorm.DB
	clk *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&domain.ReconciliationBatch{},
		&transactiondomain.BankTransaction{},
		&auditdomain.MatchAuditEntry{},
	))

	clk := clock.NewFakeClock(time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
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

	w := NewWorker(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		Repo:       repository.Provide(),
		InvoiceSvc: invoiceSvc,
		AuditSvc:   auditSvc,
		Mirror:     (*progress.RedisMirror)(nil),
	})

	return &testEnv{w: w, db: db, clk: clk}
}

func (e *testEnv) seedBatch(t *testing.T) uuid.UUID {
	t.Helper()
	started := e.clk.Now()
	batch := domain.ReconciliationBatch{
		ID:        uuid.New(),
		Filename:  "statements.csv",
		Status:    domain.BatchStatusUploading,
		StartedAt: &started,
	}
	assert.NoError(t, e.db.Create(&batch).Error)
	return batch.ID
}

func (e *testEnv) seedInvoice(t *testing.T, number, customer, amount string, status invoicedomain.InvoiceStatus, due time.Time) uuid.UUID {
	t.Helper()
	invoice := invoicedomain.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: number,
		CustomerName:  customer,
		CustomerEmail: "billing@example.test",
		Amount:        decimal.RequireFromString(amount),
		Status:        status,
		DueDate:       due,
	}
	assert.NoError(t, e.db.Create(&invoice).Error)
	return invoice.ID
}

func (e *testEnv) getBatch(t *testing.T, id uuid.UUID) *domain.ReconciliationBatch {
	t.Helper()
	var batch domain.ReconciliationBatch
	assert.NoError(t, e.db.First(&batch, "id = ?", id).Error)
	return &batch
}

func (e *testEnv) transactionsByBatch(t *testing.T, id uuid.UUID) map[string]*transactiondomain.BankTransaction {
	t.Helper()
	var rows []*transactiondomain.BankTransaction
	assert.NoError(t, e.db.Find(&rows, "upload_batch_id = ?", id).Error)
	byDesc := make(map[string]*transactiondomain.BankTransaction, len(rows))
	for _, row := range rows {
		byDesc[row.Description] = row
	}
	return byDesc
}

func writeCSV(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "statements.csv")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const classifyFixture = `transaction_date,description,amount,reference_number
2024-01-15,ACME CORPORATION,1250.00,REF-001
2024-01-20,PAYMENT FROM SMITH,500.00,REF-002
2024-03-15,PAYMENT ABC,750.00,REF-003
2024-02-01,NOBODY HOME,999.99,
not-a-date,BROKEN ROW,50.00,
`

func TestProcessClassifiesAndCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acmeID := env.seedInvoice(t, "INV-2024-001", "Acme Corporation", "1250.00", invoicedomain.InvoiceStatusSent, day(2024, time.January, 15))
	// A paid invoice with the same amount and name must never be offered
	// as a candidate.
	env.seedInvoice(t, "INV-2024-009", "Acme Corporation", "1250.00", invoicedomain.InvoiceStatusPaid, day(2024, time.January, 15))

	smithDue := day(2024, time.January, 15)
	env.seedInvoice(t, "INV-A", "Smithers LLC", "500.00", invoicedomain.InvoiceStatusSent, smithDue)
	smithID := env.seedInvoice(t, "INV-B", "Smith and Sons", "500.00", invoicedomain.InvoiceStatusSent, smithDue)
	env.seedInvoice(t, "INV-C", "Smithfield Foods", "500.00", invoicedomain.InvoiceStatusSent, smithDue)

	env.seedInvoice(t, "INV-2024-003", "XYZ Corp", "750.00", invoicedomain.InvoiceStatusSent, day(2024, time.January, 15))

	batchID := env.seedBatch(t)
	path := writeCSV(t, t.TempDir(), classifyFixture)

	assert.NoError(t, env.w.Process(ctx, batchID, path))

	batch := env.getBatch(t, batchID)
	assert.Equal(t, domain.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 4, batch.TotalTransactions)
	assert.Equal(t, 4, batch.Processed)
	assert.Equal(t, 1, batch.AutoMatched)
	assert.Equal(t, 1, batch.NeedsReview)
	assert.Equal(t, 2, batch.Unmatched)
	assert.NotNil(t, batch.CompletedAt)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	rows := env.transactionsByBatch(t, batchID)
	assert.Len(t, rows, 4)

	acme := rows["ACME CORPORATION"]
	assert.Equal(t, transactiondomain.StatusAutoMatched, acme.Status)
	assert.Equal(t, acmeID, *acme.MatchedInvoiceID)
	assert.Equal(t, "100.00", acme.ConfidenceScore.StringFixed(2))
	var acmeDetails matchDetails
	assert.NoError(t, json.Unmarshal(acme.MatchDetails, &acmeDetails))
	assert.Equal(t, "INV-2024-001", acmeDetails.InvoiceNumber)
	assert.Equal(t, 1, acmeDetails.CandidateCount)

	smith := rows["PAYMENT FROM SMITH"]
	assert.Equal(t, transactiondomain.StatusNeedsReview, smith.Status)
	assert.Equal(t, smithID, *smith.MatchedInvoiceID)
	var smithDetails matchDetails
	assert.NoError(t, json.Unmarshal(smith.MatchDetails, &smithDetails))
	assert.Equal(t, "INV-B", smithDetails.InvoiceNumber)
	assert.Equal(t, 3, smithDetails.CandidateCount)

	abc := rows["PAYMENT ABC"]
	assert.Equal(t, transactiondomain.StatusUnmatched, abc.Status)
	assert.Nil(t, abc.MatchedInvoiceID)
	var abcDetails matchDetails
	assert.NoError(t, json.Unmarshal(abc.MatchDetails, &abcDetails))
	assert.Empty(t, abcDetails.InvoiceNumber)
	assert.Equal(t, 1, abcDetails.CandidateCount)

	nobody := rows["NOBODY HOME"]
	assert.Equal(t, transactiondomain.StatusUnmatched, nobody.Status)
	assert.Nil(t, nobody.MatchedInvoiceID)
	assert.Equal(t, "0.00", nobody.ConfidenceScore.StringFixed(2))
	var nobodyDetails matchDetails
	assert.NoError(t, json.Unmarshal(nobody.MatchDetails, &nobodyDetails))
	assert.Equal(t, matching.NoCandidatesExplanation, nobodyDetails.Explanation)
	assert.Equal(t, 0, nobodyDetails.CandidateCount)

	var entries []auditdomain.MatchAuditEntry
	assert.NoError(t, env.db.Find(&entries).Error)
	assert.Len(t, entries, 1)
	assert.Equal(t, acme.ID, entries[0].TransactionID)
	assert.Equal(t, auditdomain.ActionAutoMatched, entries[0].Action)
	assert.Nil(t, entries[0].PreviousInvoiceID)
	assert.Equal(t, acmeID, *entries[0].NewInvoiceID)
	assert.Equal(t, auditdomain.ActorSystem, entries[0].PerformedBy)
	assert.Equal(t, "Auto-matched with 100.00% confidence", *entries[0].Reason)
}

func TestProcessReprocessRunsClean(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedInvoice(t, "INV-2024-001", "Acme Corporation", "1250.00", invoicedomain.InvoiceStatusSent, day(2024, time.January, 15))
	batchID := env.seedBatch(t)

	dir := t.TempDir()
	content := `transaction_date,description,amount
2024-01-15,ACME CORPORATION,1250.00
2024-01-16,NOBODY HOME,42.00
`
	path := writeCSV(t, dir, content)
	assert.NoError(t, env.w.Process(ctx, batchID, path))

	// The first run removed the file; a redelivered job replays a fresh copy.
	path = writeCSV(t, dir, content)
	assert.NoError(t, env.w.Process(ctx, batchID, path))

	batch := env.getBatch(t, batchID)
	assert.Equal(t, domain.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.TotalTransactions)
	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 1, batch.AutoMatched)
	assert.Equal(t, 1, batch.Unmatched)

	var txnCount int64
	assert.NoError(t, env.db.Model(&transactiondomain.BankTransaction{}).
		Where("upload_batch_id = ?", batchID).Count(&txnCount).Error)
	assert.Equal(t, int64(2), txnCount)

	// Audit history is append-only, so both runs' auto-match entries remain.
	var auditCount int64
	assert.NoError(t, env.db.Model(&auditdomain.MatchAuditEntry{}).Count(&auditCount).Error)
	assert.Equal(t, int64(2), auditCount)
}

func TestProcessMissingFileFails(t *testing.T) {
	env := newTestEnv(t)
	batchID := env.seedBatch(t)

	err := env.w.Process(context.Background(), batchID, filepath.Join(t.TempDir(), "gone.csv"))
	assert.Error(t, err)
	// A file that is gone stays gone, so redelivering the job is pointless.
	assert.ErrorIs(t, err, queue.SkipRetry)

	batch := env.getBatch(t, batchID)
	assert.Equal(t, domain.BatchStatusFailed, batch.Status)
	assert.NotNil(t, batch.CompletedAt)
	assert.Equal(t, 0, batch.TotalTransactions)
	assert.Equal(t, 0, batch.Processed)
}

func TestProcessCanceledRunKeepsFile(t *testing.T) {
	env := newTestEnv(t)
	batchID := env.seedBatch(t)
	path := writeCSV(t, t.TempDir(), "transaction_date,description,amount\n2024-01-15,WIRE,10.00\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.w.Process(ctx, batchID, path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, queue.SkipRetry)

	// The next delivery replays the same file, so it must still be there.
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestProcessHeaderOnlyCompletes(t *testing.T) {
	env := newTestEnv(t)
	batchID := env.seedBatch(t)
	path := writeCSV(t, t.TempDir(), "transaction_date,description,amount\n")

	assert.NoError(t, env.w.Process(context.Background(), batchID, path))

	batch := env.getBatch(t, batchID)
	assert.Equal(t, domain.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 0, batch.TotalTransactions)
	assert.Equal(t, 0, batch.Processed)
}

func TestProcessCrossesChunkBoundary(t *testing.T) {
	env := newTestEnv(t)
	batchID := env.seedBatch(t)

	var sb strings.Builder
	sb.WriteString("transaction_date,description,amount\n")
	for i := 0; i < chunkSize+2; i++ {
		fmt.Fprintf(&sb, "2024-01-%02d,WIRE %d,999.00\n", i%28+1, i)
	}
	path := writeCSV(t, t.TempDir(), sb.String())

	assert.NoError(t, env.w.Process(context.Background(), batchID, path))

	batch := env.getBatch(t, batchID)
	assert.Equal(t, domain.BatchStatusCompleted, batch.Status)
	assert.Equal(t, chunkSize+2, batch.TotalTransactions)
	assert.Equal(t, chunkSize+2, batch.Processed)
	assert.Equal(t, chunkSize+2, batch.Unmatched)
}

func TestHandle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batchID := env.seedBatch(t)
	path := writeCSV(t, t.TempDir(), "transaction_date,description,amount\n2024-01-15,WIRE,10.00\n")

	payload, err := json.Marshal(domain.BatchJobPayload{BatchID: batchID.String(), FilePath: path})
	assert.NoError(t, err)

	assert.NoError(t, env.w.Handle(ctx, queue.Job{ID: "1", Name: domain.JobBatchProcessing, Payload: payload, Attempt: 1}))
	assert.Equal(t, domain.BatchStatusCompleted, env.getBatch(t, batchID).Status)

	// Undecodable payloads fail the same way on every delivery.
	err = env.w.Handle(ctx, queue.Job{Payload: []byte(`{"batchId":"nope"}`)})
	assert.ErrorIs(t, err, queue.SkipRetry)
	err = env.w.Handle(ctx, queue.Job{Payload: []byte(`not json`)})
	assert.ErrorIs(t, err, queue.SkipRetry)
}
