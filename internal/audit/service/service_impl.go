package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/clock"
	obscontext "github.com/smallbiznis/tally/internal/observability/context"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, db *gorm.DB, req auditdomain.RecordRequest) (*auditdomain.MatchAuditEntry, error) {
	entry, err := s.buildEntry(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, s.handle(db), entry); err != nil {
		s.log.Warn("failed to write audit entry",
			zap.String("action", string(req.Action)),
			zap.String("transaction_id", req.TransactionID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return entry, nil
}

func (s *Service) RecordAll(ctx context.Context, db *gorm.DB, reqs []auditdomain.RecordRequest) error {
	if len(reqs) == 0 {
		return nil
	}

	entries := make([]*auditdomain.MatchAuditEntry, 0, len(reqs))
	for _, req := range reqs {
		entry, err := s.buildEntry(ctx, req)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	if err := s.repo.BulkInsert(ctx, s.handle(db), entries); err != nil {
		s.log.Warn("failed to write audit entries", zap.Int("count", len(entries)), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) ListByTransaction(ctx context.Context, req auditdomain.ListAuditRequest) (*auditdomain.ListAuditResponse, error) {
	txnID, err := uuid.Parse(strings.TrimSpace(req.TransactionID))
	if err != nil || txnID == uuid.Nil {
		return nil, auditdomain.ErrInvalidTransaction
	}

	var cursor *pagination.Cursor
	if strings.TrimSpace(req.Cursor) != "" {
		decoded, err := pagination.Decode(req.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = &decoded
	}

	limit := req.Clamp(defaultPageSize, maxPageSize)

	items, err := s.repo.ListByTransaction(ctx, s.db, auditdomain.ListFilter{
		TransactionID: txnID,
		Cursor:        cursor,
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}

	page := pagination.BuildPage(items, limit, func(item *auditdomain.MatchAuditEntry) string {
		return pagination.Encode(item.CreatedAt, item.ID)
	})

	return &auditdomain.ListAuditResponse{
		PageInfo: pagination.PageInfo{NextCursor: page.NextCursor, HasMore: page.HasMore},
		Entries:  page.Items,
	}, nil
}

// handle prefers the caller's transaction handle, falling back to the
// service's own connection for reads and standalone writes.
func (s *Service) handle(db *gorm.DB) *gorm.DB {
	if db != nil {
		return db
	}
	return s.db
}

func (s *Service) buildEntry(ctx context.Context, req auditdomain.RecordRequest) (*auditdomain.MatchAuditEntry, error) {
	if !req.Action.Valid() {
		return nil, auditdomain.ErrInvalidAction
	}
	if req.TransactionID == uuid.Nil {
		return nil, auditdomain.ErrInvalidTransaction
	}

	return &auditdomain.MatchAuditEntry{
		ID:                uuid.New(),
		TransactionID:     req.TransactionID,
		Action:            req.Action,
		PreviousInvoiceID: req.PreviousInvoiceID,
		NewInvoiceID:      req.NewInvoiceID,
		PerformedBy:       s.resolveActor(ctx, req.PerformedBy),
		Reason:            normalizeReason(req.Reason),
		CreatedAt:         s.clock.Now(),
	}, nil
}

func (s *Service) resolveActor(ctx context.Context, performedBy string) string {
	if actor := strings.TrimSpace(performedBy); actor != "" {
		return actor
	}
	if _, actorID := obscontext.ActorFromContext(ctx); strings.TrimSpace(actorID) != "" {
		return strings.TrimSpace(actorID)
	}
	return auditdomain.ActorAdmin
}

func normalizeReason(reason string) *string {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
