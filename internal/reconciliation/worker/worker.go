// Package worker turns one uploaded CSV into classified bank transactions.
// It is the only writer of batch counters and transaction rows after upload,
// and every attempt replays the file from scratch.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/clock"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/matching"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/progress"
	"github.com/smallbiznis/tally/internal/queue"
	"github.com/smallbiznis/tally/internal/reconciliation/csvstream"
	"github.com/smallbiznis/tally/internal/reconciliation/domain"
	transactiondomain "github.com/smallbiznis/tally/internal/transaction/domain"
	pkgdb "github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/log/ctxlogger"
	"github.com/smallbiznis/tally/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// chunkSize bounds how many rows are classified and written per statement,
// so memory stays flat no matter how large the upload is.
const chunkSize = 1000

const (
	chunkCommitAttempts = 3
	chunkCommitBackoff  = 200 * time.Millisecond
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service
	Mirror     progress.Mirror
	Metrics    *telemetry.Metrics  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service
	mirror     progress.Mirror
	metrics    *telemetry.Metrics
	obsMetrics *obsmetrics.Metrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.worker"),
		clock:      p.Clock,
		repo:       p.Repo,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
		mirror:     p.Mirror,
		metrics:    p.Metrics,
		obsMetrics: p.ObsMetrics,
	}
}

// Handle adapts Process to the queue handler contract. A payload that does
// not decode will not decode on redelivery either, so those fail permanent.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	var payload domain.BatchJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("decode job payload: %w", err))
	}
	batchID, err := uuid.Parse(payload.BatchID)
	if err != nil {
		return queue.Permanent(fmt.Errorf("parse batch id %q: %w", payload.BatchID, err))
	}
	return w.Process(ctx, batchID, payload.FilePath)
}

// Process runs one batch end to end and always leaves it in a terminal
// state. The uploaded file is removed once the batch completes or fails for
// good; a retryable failure keeps it so the next attempt has something to
// read.
func (w *Worker) Process(ctx context.Context, batchID uuid.UUID, filePath string) error {
	started := w.clock.Now()
	key := batchID.String()
	ctx = ctxlogger.ContextWithBatchID(ctx, key)
	log := ctxlogger.WithContext(ctx, w.log)

	if err := w.run(ctx, batchID, filePath); err != nil {
		now := w.clock.Now()
		if markErr := w.repo.MarkBatchFailed(ctx, w.db, batchID, now); markErr != nil {
			log.Error("mark batch failed", zap.Error(markErr))
		}
		w.mirror.SetStatus(ctx, key, string(domain.BatchStatusFailed))
		w.metrics.ObserveBatch("failed", now.Sub(started))
		log.Error("batch processing failed", zap.Error(err))
		if obsmetrics.IsWorkerErrorRetryable(err) {
			// The file stays on disk so a redelivery can replay it.
			return err
		}
		w.removeFile(filePath, key)
		return queue.Permanent(err)
	}

	now := w.clock.Now()
	if err := w.repo.MarkBatchCompleted(ctx, w.db, batchID, now); err != nil {
		return fmt.Errorf("mark batch completed: %w", err)
	}
	w.mirror.SetStatus(ctx, key, string(domain.BatchStatusCompleted))
	w.metrics.ObserveBatch("completed", now.Sub(started))
	w.removeFile(filePath, key)
	log.Info("batch processing completed", zap.Duration("elapsed", now.Sub(started)))
	return nil
}

func (w *Worker) run(ctx context.Context, batchID uuid.UUID, filePath string) error {
	key := batchID.String()

	// The replay delete queues behind any review transaction still holding
	// rows from an earlier attempt.
	lockStart := time.Now()
	err := w.repo.ResetBatchForProcessing(ctx, w.db, batchID, w.clock.Now())
	obsmetrics.Worker().ObserveDBLockWait(obsmetrics.LockResourceBatchReplay, time.Since(lockStart))
	if err != nil {
		return fmt.Errorf("reset batch: %w", err)
	}
	w.mirror.Init(ctx, key)

	// First pass only counts, so the stored total is final before any row
	// lands and processed never exceeds it.
	total, err := w.countValidRows(filePath)
	if err != nil {
		return err
	}
	if err := w.repo.SetBatchTotal(ctx, w.db, batchID, total); err != nil {
		return fmt.Errorf("set batch total: %w", err)
	}
	w.mirror.SetTotal(ctx, key, total)

	stream, err := csvstream.Open(filePath)
	if err != nil {
		return err
	}
	defer stream.Close()

	chunk := make([]*csvstream.Row, 0, chunkSize)
	for {
		row, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		chunk = append(chunk, row)
		if len(chunk) == chunkSize {
			if err := w.processChunk(ctx, batchID, chunk); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		if err := w.processChunk(ctx, batchID, chunk); err != nil {
			return err
		}
	}

	if skipped := stream.Skipped(); skipped > 0 {
		w.metrics.AddRowsSkipped(skipped)
		if w.obsMetrics != nil {
			w.obsMetrics.RecordRowsParsed(ctx, "skipped", skipped)
		}
		ctxlogger.WithContext(ctx, w.log).Info("rows skipped", zap.Int("skipped", skipped))
	}

	return w.recordAutoMatchAudits(ctx, batchID)
}

func (w *Worker) countValidRows(path string) (int, error) {
	stream, err := csvstream.Open(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	total := 0
	for {
		if _, err := stream.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return 0, err
		}
		total++
	}
}

// processChunk classifies one chunk and commits its rows together with the
// matching counter increment, so counters never drift from stored rows.
func (w *Worker) processChunk(ctx context.Context, batchID uuid.UUID, rows []*csvstream.Row) error {
	candidates, err := w.lookupCandidates(ctx, rows)
	if err != nil {
		return err
	}

	now := w.clock.Now()
	txns := make([]*transactiondomain.BankTransaction, 0, len(rows))
	var delta domain.CounterDelta
	for _, row := range rows {
		txn, err := w.classify(row, candidates[row.Amount.StringFixed(2)], batchID, now)
		if err != nil {
			return err
		}
		txns = append(txns, txn)

		delta.Processed++
		switch txn.Status {
		case transactiondomain.StatusAutoMatched:
			delta.AutoMatched++
		case transactiondomain.StatusNeedsReview:
			delta.NeedsReview++
		default:
			delta.Unmatched++
		}
	}

	if err := w.commitChunk(ctx, batchID, txns, delta); err != nil {
		return err
	}
	obsmetrics.Worker().AddBatchProcessed(domain.JobBatchProcessing, "transactions", delta.Processed)
	if w.obsMetrics != nil {
		w.obsMetrics.RecordRowsParsed(ctx, "imported", delta.Processed)
	}

	w.mirror.Increment(ctx, batchID.String(), progress.Delta{
		Processed:   delta.Processed,
		AutoMatched: delta.AutoMatched,
		NeedsReview: delta.NeedsReview,
		Unmatched:   delta.Unmatched,
	})
	return nil
}

// commitChunk writes the chunk and its counter increment in one transaction,
// retrying serialization and connection failures. Anything else, constraint
// violations included, surfaces immediately and fails the batch attempt.
func (w *Worker) commitChunk(ctx context.Context, batchID uuid.UUID, txns []*transactiondomain.BankTransaction, delta domain.CounterDelta) error {
	var err error
	for attempt := 1; attempt <= chunkCommitAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * chunkCommitBackoff):
			}
		}
		err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := w.repo.BulkInsertTransactions(ctx, tx, txns); err != nil {
				return fmt.Errorf("insert transactions: %w", err)
			}
			lockStart := time.Now()
			incErr := w.repo.IncrementBatchCounters(ctx, tx, batchID, delta)
			obsmetrics.Worker().ObserveDBLockWait(obsmetrics.LockResourceBatchCounters, time.Since(lockStart))
			return incErr
		})
		if err == nil || !pkgdb.IsTransientErr(err) {
			return err
		}
		ctxlogger.WithContext(ctx, w.log).Warn("chunk commit retry",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}

// lookupCandidates fetches unpaid invoices for the chunk's distinct amounts
// in a single query, keyed by the amount's canonical two-decimal string.
func (w *Worker) lookupCandidates(ctx context.Context, rows []*csvstream.Row) (map[string][]invoicedomain.Invoice, error) {
	seen := make(map[string]struct{}, len(rows))
	amounts := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		k := row.Amount.StringFixed(2)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		amounts = append(amounts, row.Amount)
	}

	lookupStart := time.Now()
	candidates, err := w.invoiceSvc.FindCandidatesByAmounts(ctx, amounts)
	if err != nil {
		return nil, fmt.Errorf("find candidate invoices: %w", err)
	}
	w.metrics.ObserveCandidateLookup(time.Since(lookupStart))
	return candidates, nil
}

// matchDetails is the JSON stored alongside each classified transaction.
type matchDetails struct {
	InvoiceNumber  string             `json:"invoice_number,omitempty"`
	Explanation    string             `json:"explanation"`
	CandidateCount int                `json:"candidate_count"`
	Breakdown      matching.Breakdown `json:"breakdown"`
}

func (w *Worker) classify(row *csvstream.Row, invoices []invoicedomain.Invoice, batchID uuid.UUID, now time.Time) (*transactiondomain.BankTransaction, error) {
	cands := make([]matching.Candidate, 0, len(invoices))
	for _, inv := range invoices {
		cands = append(cands, matching.Candidate{
			ID:            inv.ID.String(),
			InvoiceNumber: inv.InvoiceNumber,
			CustomerName:  inv.CustomerName,
			DueDate:       inv.DueDate,
		})
	}

	res := matching.Match(matching.Input{
		Description:     row.Description,
		TransactionDate: row.TransactionDate,
	}, cands)
	w.metrics.ObserveClassification(string(res.Outcome), res.Score)

	score := decimal.NewFromFloat(res.Score).Round(2)
	txn := &transactiondomain.BankTransaction{
		ID:              uuid.New(),
		UploadBatchID:   batchID,
		TransactionDate: row.TransactionDate,
		Description:     row.Description,
		Amount:          row.Amount,
		ReferenceNumber: row.ReferenceNumber,
		Status:          statusFor(res.Outcome),
		ConfidenceScore: &score,
		CreatedAt:       now,
	}

	if res.MatchedInvoiceID != "" {
		matchedID, err := uuid.Parse(res.MatchedInvoiceID)
		if err != nil {
			return nil, fmt.Errorf("parse matched invoice id %q: %w", res.MatchedInvoiceID, err)
		}
		txn.MatchedInvoiceID = &matchedID
	}

	details, err := json.Marshal(matchDetails{
		InvoiceNumber:  res.InvoiceNumber,
		Explanation:    res.Explanation,
		CandidateCount: res.CandidateCount,
		Breakdown:      res.Breakdown,
	})
	if err != nil {
		return nil, fmt.Errorf("encode match details: %w", err)
	}
	txn.MatchDetails = datatypes.JSON(details)

	return txn, nil
}

// recordAutoMatchAudits re-reads the auto-matched rows that actually landed
// and appends one system audit entry for each.
func (w *Worker) recordAutoMatchAudits(ctx context.Context, batchID uuid.UUID) error {
	rows, err := w.repo.ListAutoMatchedForAudit(ctx, w.db, batchID)
	if err != nil {
		return fmt.Errorf("list auto-matched rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	reqs := make([]auditdomain.RecordRequest, 0, len(rows))
	for _, row := range rows {
		score := decimal.Zero
		if row.ConfidenceScore != nil {
			score = *row.ConfidenceScore
		}
		reqs = append(reqs, auditdomain.RecordRequest{
			TransactionID: row.ID,
			Action:        auditdomain.ActionAutoMatched,
			NewInvoiceID:  row.MatchedInvoiceID,
			PerformedBy:   auditdomain.ActorSystem,
			Reason:        fmt.Sprintf("Auto-matched with %s%% confidence", score.StringFixed(2)),
		})
	}

	for start := 0; start < len(reqs); start += chunkSize {
		end := start + chunkSize
		if end > len(reqs) {
			end = len(reqs)
		}
		if err := w.auditSvc.RecordAll(ctx, w.db, reqs[start:end]); err != nil {
			return fmt.Errorf("record audit entries: %w", err)
		}
	}
	return nil
}

func (w *Worker) removeFile(path, batchID string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warn("remove upload",
			zap.String("batch_id", batchID),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func statusFor(outcome matching.Outcome) transactiondomain.TransactionStatus {
	switch outcome {
	case matching.OutcomeAutoMatched:
		return transactiondomain.StatusAutoMatched
	case matching.OutcomeNeedsReview:
		return transactiondomain.StatusNeedsReview
	default:
		return transactiondomain.StatusUnmatched
	}
}
