// Package pdf renders reconciliation artifacts as PDF documents.
package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

// BatchReportData carries everything a batch report renders. Fields arrive
// preformatted so the renderer does layout only.
type BatchReportData struct {
	BatchID  string
	Filename string
	Status   string

	TotalTransactions int
	Processed         int
	AutoMatched       int
	NeedsReview       int
	Unmatched         int
	AutoMatchedRate   int
	NeedsReviewRate   int
	UnmatchedRate     int

	Duration    string
	RowsPerSec  string
	StartedAt   string
	CompletedAt string
}

type Provider interface {
	BatchReport(ctx context.Context, data BatchReportData) (io.Reader, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
