package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type ReportProvider struct{}

func New() Provider {
	return &ReportProvider{}
}

func (p *ReportProvider) BatchReport(ctx context.Context, data BatchReportData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Reconciliation Report", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(26,
		col.New(6).Add(
			text.New("Batch: "+data.BatchID, props.Text{Size: 9}),
			text.New("File: "+data.Filename, props.Text{Size: 9, Top: 5}),
			text.New("Status: "+data.Status, props.Text{Size: 9, Top: 10}),
		),
		col.New(6).Add(
			text.New("Started: "+orDash(data.StartedAt), props.Text{Size: 9}),
			text.New("Completed: "+orDash(data.CompletedAt), props.Text{Size: 9, Top: 5}),
			text.New("Duration: "+orDash(data.Duration), props.Text{Size: 9, Top: 10}),
			text.New("Throughput: "+orDash(data.RowsPerSec), props.Text{Size: 9, Top: 15}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Classification", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Count", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Share", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	rows := []struct {
		label string
		count int
		rate  int
	}{
		{"Auto-matched", data.AutoMatched, data.AutoMatchedRate},
		{"Needs review", data.NeedsReview, data.NeedsReviewRate},
		{"Unmatched", data.Unmatched, data.UnmatchedRate},
	}
	for _, row := range rows {
		m.AddRow(8,
			text.NewCol(6, row.label, props.Text{Size: 9}),
			text.NewCol(3, strconv.Itoa(row.count), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, fmt.Sprintf("%d%%", row.rate), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(10,
		text.NewCol(6, "Processed", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(6, fmt.Sprintf("%d of %d", data.Processed, data.TotalTransactions), props.Text{
			Style: fontstyle.Bold,
			Size:  9,
			Align: align.Right,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render batch report: %w", err)
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
