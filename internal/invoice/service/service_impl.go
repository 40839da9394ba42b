package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/pkg/db/option"
	"github.com/smallbiznis/tally/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	searchDefaultLimit     = 20
	searchMaxLimit         = 50
	candidatesDefaultLimit = 10
	candidatesMaxLimit     = 50
)

// amountTolerance absorbs rounding differences between bank exports and
// invoice records.
var amountTolerance = decimal.New(1, -2)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	invoices repository.Reader[invoicedomain.Invoice]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		invoices: repository.NewReader[invoicedomain.Invoice](p.DB),
	}
}

func (s *Service) Search(ctx context.Context, req invoicedomain.SearchRequest) (invoicedomain.SearchResponse, error) {
	limit := clampLimit(req.Limit, searchDefaultLimit, searchMaxLimit)

	options := []option.QueryOption{
		option.WithOrder("due_date asc, created_at desc"),
		option.WithLimit(limit),
	}
	if req.Amount != nil {
		options = append(options,
			option.ApplyOperator(option.Condition{Field: "amount", Operator: option.GTE, Value: req.Amount.Sub(amountTolerance)}),
			option.ApplyOperator(option.Condition{Field: "amount", Operator: option.LTE, Value: req.Amount.Add(amountTolerance)}),
		)
	}
	switch {
	case len(req.Statuses) > 0:
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "status",
			Operator: option.IN,
			Value:    statusValues(req.Statuses),
		}))
	case !req.IncludePaid:
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "status",
			Operator: option.NE,
			Value:    invoicedomain.InvoiceStatusPaid,
		}))
	}
	if q := strings.TrimSpace(req.Query); q != "" {
		options = append(options, option.WithWhere("LOWER(customer_name) LIKE ?", "%"+strings.ToLower(q)+"%"))
	}

	items, err := s.invoices.Find(ctx, &invoicedomain.Invoice{}, options...)
	if err != nil {
		return invoicedomain.SearchResponse{}, err
	}

	return invoicedomain.SearchResponse{Invoices: toViews(items)}, nil
}

func (s *Service) Candidates(ctx context.Context, req invoicedomain.CandidatesRequest) (invoicedomain.CandidatesResponse, error) {
	if !req.Amount.IsPositive() {
		return invoicedomain.CandidatesResponse{}, invoicedomain.ErrInvalidAmount
	}
	limit := clampLimit(req.Limit, candidatesDefaultLimit, candidatesMaxLimit)

	items, err := s.invoices.Find(ctx, &invoicedomain.Invoice{},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NE, Value: invoicedomain.InvoiceStatusPaid}),
		option.ApplyOperator(option.Condition{Field: "amount", Operator: option.GTE, Value: req.Amount.Sub(amountTolerance)}),
		option.ApplyOperator(option.Condition{Field: "amount", Operator: option.LTE, Value: req.Amount.Add(amountTolerance)}),
		option.WithOrder("due_date asc"),
		option.WithLimit(limit),
	)
	if err != nil {
		return invoicedomain.CandidatesResponse{}, err
	}

	return invoicedomain.CandidatesResponse{Invoices: toViews(items)}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	invoiceID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	item, err := s.invoices.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *item, nil
}

func (s *Service) GetByNumber(ctx context.Context, number string) (invoicedomain.Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	item, err := s.invoices.FindOne(ctx, &invoicedomain.Invoice{InvoiceNumber: number})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *item, nil
}

// FindCandidatesByAmounts loads every unpaid invoice whose amount matches one
// of the requested amounts, grouped by the two-decimal amount string. One
// query serves a whole processing chunk.
func (s *Service) FindCandidatesByAmounts(ctx context.Context, amounts []decimal.Decimal) (map[string][]invoicedomain.Invoice, error) {
	grouped := make(map[string][]invoicedomain.Invoice)
	if len(amounts) == 0 {
		return grouped, nil
	}

	seen := make(map[string]struct{}, len(amounts))
	distinct := make([]decimal.Decimal, 0, len(amounts))
	for _, amount := range amounts {
		key := amount.StringFixed(2)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, amount)
	}

	items, err := s.invoices.Find(ctx, &invoicedomain.Invoice{},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NE, Value: invoicedomain.InvoiceStatusPaid}),
		option.ApplyOperator(option.Condition{Field: "amount", Operator: option.IN, Value: decimalValues(distinct)}),
		option.WithOrder("due_date asc"),
	)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		key := item.Amount.StringFixed(2)
		grouped[key] = append(grouped[key], *item)
	}
	return grouped, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func statusValues(statuses []invoicedomain.InvoiceStatus) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return values
}

func decimalValues(amounts []decimal.Decimal) []string {
	values := make([]string, 0, len(amounts))
	for _, amount := range amounts {
		values = append(values, amount.StringFixed(2))
	}
	return values
}

func toViews(items []*invoicedomain.Invoice) []invoicedomain.InvoiceView {
	views := make([]invoicedomain.InvoiceView, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		views = append(views, invoicedomain.ViewOf(*item))
	}
	return views
}
