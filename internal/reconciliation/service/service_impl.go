package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/progress"
	"github.com/smallbiznis/tally/internal/queue"
	"github.com/smallbiznis/tally/internal/reconciliation/domain"
	"github.com/smallbiznis/tally/pkg/log/ctxlogger"
	"github.com/smallbiznis/tally/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	listDefaultLimit = 20
	listMaxLimit     = 100
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Runtime    *config.RuntimeHolder
	Clock      clock.Clock
	Repo       domain.Repository
	Queue      queue.Queue
	Mirror     progress.Mirror
	Processor  domain.Processor
	Metrics    *telemetry.Metrics  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	runtime    *config.RuntimeHolder
	clock      clock.Clock
	repo       domain.Repository
	queue      queue.Queue
	mirror     progress.Mirror
	processor  domain.Processor
	metrics    *telemetry.Metrics
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		cfg:        p.Cfg,
		runtime:    p.Runtime,
		clock:      p.Clock,
		repo:       p.Repo,
		queue:      p.Queue,
		mirror:     p.Mirror,
		processor:  p.Processor,
		metrics:    p.Metrics,
		obsMetrics: p.ObsMetrics,
	}
}

// Upload stores the file, creates the batch row, and hands the work to the
// queue. When the queue is down the batch still processes, inline in its
// own goroutine, so an upload never depends on redis being up.
func (s *Service) Upload(ctx context.Context, req domain.UploadRequest) (*domain.UploadResponse, error) {
	if req.File == nil {
		s.rejectUpload(ctx, 0, "missing-file")
		return nil, domain.ErrMissingFile
	}
	if !strings.EqualFold(filepath.Ext(req.File.Filename), ".csv") {
		s.rejectUpload(ctx, req.File.Size, "invalid-file-type")
		return nil, domain.ErrInvalidFileType
	}
	if req.File.Size > s.runtime.Current().Upload.MaxBytes {
		s.rejectUpload(ctx, req.File.Size, "file-too-large")
		return nil, domain.ErrFileTooLarge
	}

	batchID := uuid.New()
	ctx = ctxlogger.ContextWithBatchID(ctx, batchID.String())
	path, err := s.saveUpload(req, batchID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	batch := &domain.ReconciliationBatch{
		ID:        batchID,
		Filename:  displayName(req.File.Filename),
		Status:    domain.BatchStatusUploading,
		StartedAt: &now,
	}
	if err := s.repo.CreateBatch(ctx, s.db, batch); err != nil {
		s.discardUpload(path)
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.dispatch(ctx, batchID, path)
	s.metrics.ObserveUpload("accepted", req.File.Size)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordUploadAccepted(ctx)
	}
	ctxlogger.WithContext(ctx, s.log).Info("upload accepted",
		zap.String("filename", batch.Filename),
		zap.Int64("bytes", req.File.Size),
	)

	return &domain.UploadResponse{BatchID: batchID.String()}, nil
}

func (s *Service) rejectUpload(ctx context.Context, bytes int64, reason string) {
	s.metrics.ObserveUpload("rejected", bytes)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordUploadRejected(ctx, reason)
	}
}

func (s *Service) saveUpload(req domain.UploadRequest, batchID uuid.UUID) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	src, err := req.File.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(s.cfg.UploadDir, storedName(req.File.Filename, batchID))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		s.discardUpload(path)
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		s.discardUpload(path)
		return "", fmt.Errorf("store upload: %w", err)
	}
	return path, nil
}

func (s *Service) discardUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("remove stored upload", zap.String("path", path), zap.Error(err))
	}
}

func (s *Service) dispatch(ctx context.Context, batchID uuid.UUID, path string) {
	payload := domain.BatchJobPayload{BatchID: batchID.String(), FilePath: path}
	log := ctxlogger.WithContext(ctx, s.log)

	if s.queue.Enabled() {
		_, err := s.queue.Enqueue(ctx, domain.JobBatchProcessing, payload)
		if err == nil {
			return
		}
		log.Warn("enqueue failed, processing inline", zap.Error(err))
	} else {
		log.Info("queue disabled, processing inline")
	}

	// The inline run keeps the request's values, correlation included, but
	// sheds its cancelation so the batch survives the caller hanging up.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.processor.Process(runCtx, batchID, path); err != nil {
			log.Error("inline batch processing failed", zap.Error(err))
		}
	}()
}

// GetStatus serves polling. While a batch is mid-flight the redis mirror
// answers so the store is spared the poll storm; terminal and uploading
// batches always come from the store.
func (s *Service) GetStatus(ctx context.Context, batchID string) (*domain.BatchStatusView, error) {
	id, err := parseBatchID(batchID)
	if err != nil {
		return nil, err
	}

	if counters := s.mirror.Get(ctx, id.String()); counters != nil &&
		counters.Status == string(domain.BatchStatusProcessing) {
		return &domain.BatchStatusView{
			BatchID:           id.String(),
			Status:            domain.BatchStatusProcessing,
			TotalTransactions: counters.Total,
			Processed:         counters.Processed,
			AutoMatched:       counters.AutoMatched,
			NeedsReview:       counters.NeedsReview,
			Unmatched:         counters.Unmatched,
			Progress:          progressPercent(counters.Processed, counters.Total, domain.BatchStatusProcessing),
		}, nil
	}

	batch, err := s.repo.GetBatch(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}

	return &domain.BatchStatusView{
		BatchID:           batch.ID.String(),
		Status:            batch.Status,
		TotalTransactions: int64(batch.TotalTransactions),
		Processed:         int64(batch.Processed),
		AutoMatched:       int64(batch.AutoMatched),
		NeedsReview:       int64(batch.NeedsReview),
		Unmatched:         int64(batch.Unmatched),
		Progress:          progressPercent(int64(batch.Processed), int64(batch.TotalTransactions), batch.Status),
	}, nil
}

func (s *Service) ListBatches(ctx context.Context, req domain.ListBatchesRequest) (*domain.ListBatchesResponse, error) {
	filter := domain.BatchListFilter{}

	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := domain.BatchStatus(strings.ToLower(raw))
		if !status.Valid() {
			return nil, domain.ErrInvalidStatusFilter
		}
		filter.Status = &status
	}

	switch req.SortBy {
	case "", "createdAt":
		filter.SortBy = "created_at"
	case "updatedAt":
		filter.SortBy = "updated_at"
	default:
		return nil, domain.ErrInvalidSort
	}

	switch strings.ToLower(req.SortOrder) {
	case "", "desc":
		filter.SortOrder = "desc"
	case "asc":
		filter.SortOrder = "asc"
	default:
		return nil, domain.ErrInvalidSort
	}

	filter.Limit = req.Limit
	if filter.Limit <= 0 {
		filter.Limit = listDefaultLimit
	}
	if filter.Limit > listMaxLimit {
		filter.Limit = listMaxLimit
	}
	filter.Offset = req.Offset
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rows, total, err := s.repo.ListBatches(ctx, s.db, filter)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	if rows == nil {
		rows = []*domain.ReconciliationBatch{}
	}

	return &domain.ListBatchesResponse{
		Batches: rows,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Summary derives per-class rates and run timing from the stored counters.
func (s *Service) Summary(ctx context.Context, batchID string) (*domain.BatchSummary, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	summary := &domain.BatchSummary{
		BatchID:           batch.ID.String(),
		Filename:          batch.Filename,
		Status:            batch.Status,
		TotalTransactions: batch.TotalTransactions,
		Processed:         batch.Processed,
		AutoMatched:       batch.AutoMatched,
		NeedsReview:       batch.NeedsReview,
		Unmatched:         batch.Unmatched,
	}
	if batch.Processed > 0 {
		summary.AutoMatchedRate = batch.AutoMatched * 100 / batch.Processed
		summary.NeedsReviewRate = batch.NeedsReview * 100 / batch.Processed
		summary.UnmatchedRate = batch.Unmatched * 100 / batch.Processed
	}

	if batch.StartedAt != nil {
		summary.StartedAt = rfc3339(*batch.StartedAt)
	}
	if batch.CompletedAt != nil {
		summary.CompletedAt = rfc3339(*batch.CompletedAt)
	}

	if batch.Status.Terminal() && batch.StartedAt != nil && batch.CompletedAt != nil {
		ms := batch.CompletedAt.Sub(*batch.StartedAt).Milliseconds()
		human := humanDuration(ms)
		summary.DurationMS = &ms
		summary.Duration = &human
		if ms > 0 {
			rate := math.Round(float64(batch.Processed)/(float64(ms)/1000)*10) / 10
			summary.RowsPerSec = &rate
		}
	}

	return summary, nil
}

func (s *Service) GetBatch(ctx context.Context, batchID string) (*domain.ReconciliationBatch, error) {
	id, err := parseBatchID(batchID)
	if err != nil {
		return nil, err
	}
	batch, err := s.repo.GetBatch(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	return batch, nil
}

func parseBatchID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, domain.ErrInvalidBatchID
	}
	return id, nil
}

// progressPercent floors to a whole percent. An empty completed batch is
// 100, anything else without a total is 0.
func progressPercent(processed, total int64, status domain.BatchStatus) int {
	if total <= 0 {
		if status == domain.BatchStatusCompleted {
			return 100
		}
		return 0
	}
	pct := int(processed * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func humanDuration(ms int64) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	default:
		return fmt.Sprintf("%dm %ds", ms/60_000, ms%60_000/1000)
	}
}

func rfc3339(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// storedName keeps uploads unique on disk while staying recognizable.
func storedName(original string, batchID uuid.UUID) string {
	base := slug.Make(strings.TrimSuffix(filepath.Base(original), filepath.Ext(original)))
	if base == "" {
		base = "upload"
	}
	return fmt.Sprintf("%s-%s.csv", base, batchID.String()[:8])
}

func displayName(original string) string {
	name := filepath.Base(strings.TrimSpace(original))
	if name == "." || name == "/" {
		name = "upload.csv"
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
