package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/providers/pdf"
	recondomain "github.com/smallbiznis/tally/internal/reconciliation/domain"
	txndomain "github.com/smallbiznis/tally/internal/transaction/domain"
)

// UploadBankFile accepts a multipart CSV and opens a reconciliation batch.
// The response returns before any row is processed; clients poll the batch
// status for progress.
func (s *Server) UploadBankFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, recondomain.ErrMissingFile)
		return
	}

	resp, err := s.reconSvc.Upload(c.Request.Context(), recondomain.UploadRequest{File: file})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusAccepted, resp)
}

func (s *Server) ListBatches(c *gin.Context) {
	var req recondomain.ListBatchesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.reconSvc.ListBatches(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) GetBatchStatus(c *gin.Context) {
	resp, err := s.reconSvc.GetStatus(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) ListBatchTransactions(c *gin.Context) {
	var req txndomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.BatchID = c.Param("batchId")

	resp, err := s.txnSvc.ListByBatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) GetBatchSummary(c *gin.Context) {
	resp, err := s.reconSvc.Summary(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

// GetBatchReport renders the batch summary as a PDF. Counters only stop
// moving once the batch is terminal, so in-flight batches are refused.
func (s *Server) GetBatchReport(c *gin.Context) {
	ctx := c.Request.Context()
	batchID := c.Param("batchId")

	batch, err := s.reconSvc.GetBatch(ctx, batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !batch.Status.Terminal() {
		AbortWithError(c, recondomain.ErrBatchNotTerminal)
		return
	}

	summary, err := s.reconSvc.Summary(ctx, batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reader, err := s.pdf.BatchReport(ctx, reportData(summary))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "reconciliation-"+summary.BatchID+".pdf"))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func reportData(sum *recondomain.BatchSummary) pdf.BatchReportData {
	data := pdf.BatchReportData{
		BatchID:           sum.BatchID,
		Filename:          sum.Filename,
		Status:            string(sum.Status),
		TotalTransactions: sum.TotalTransactions,
		Processed:         sum.Processed,
		AutoMatched:       sum.AutoMatched,
		NeedsReview:       sum.NeedsReview,
		Unmatched:         sum.Unmatched,
		AutoMatchedRate:   sum.AutoMatchedRate,
		NeedsReviewRate:   sum.NeedsReviewRate,
		UnmatchedRate:     sum.UnmatchedRate,
	}
	if sum.Duration != nil {
		data.Duration = *sum.Duration
	}
	if sum.RowsPerSec != nil {
		data.RowsPerSec = fmt.Sprintf("%.1f rows/s", *sum.RowsPerSec)
	}
	if sum.StartedAt != nil {
		data.StartedAt = *sum.StartedAt
	}
	if sum.CompletedAt != nil {
		data.CompletedAt = *sum.CompletedAt
	}
	return data
}
