package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/providers/pdf"
	recondomain "github.com/smallbiznis/tally/internal/reconciliation/domain"
	txndomain "github.com/smallbiznis/tally/internal/transaction/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeReconService struct {
	uploadReq    *recondomain.UploadRequest
	uploadResp   *recondomain.UploadResponse
	uploadErr    error
	statusResp   *recondomain.BatchStatusView
	statusErr    error
	listReq      *recondomain.ListBatchesRequest
	listResp     *recondomain.ListBatchesResponse
	listErr      error
	summaryResp  *recondomain.BatchSummary
	summaryErr   error
	getBatchResp *recondomain.ReconciliationBatch
	getBatchErr  error
}

func (f *fakeReconService) Upload(ctx context.Context, req recondomain.UploadRequest) (*recondomain.UploadResponse, error) {
	f.uploadReq = &req
	return f.uploadResp, f.uploadErr
}

func (f *fakeReconService) GetStatus(ctx context.Context, batchID string) (*recondomain.BatchStatusView, error) {
	return f.statusResp, f.statusErr
}

func (f *fakeReconService) ListBatches(ctx context.Context, req recondomain.ListBatchesRequest) (*recondomain.ListBatchesResponse, error) {
	f.listReq = &req
	return f.listResp, f.listErr
}

func (f *fakeReconService) Summary(ctx context.Context, batchID string) (*recondomain.BatchSummary, error) {
	return f.summaryResp, f.summaryErr
}

func (f *fakeReconService) GetBatch(ctx context.Context, batchID string) (*recondomain.ReconciliationBatch, error) {
	return f.getBatchResp, f.getBatchErr
}

type fakeTxnService struct {
	actionReq  *txndomain.ActionRequest
	matchReq   *txndomain.ManualMatchRequest
	bulkReq    *txndomain.BulkConfirmRequest
	listReq    *txndomain.ListRequest
	actionResp *txndomain.ActionResponse
	actionErr  error
	bulkResp   *txndomain.BulkConfirmResponse
	bulkErr    error
	getResp    *txndomain.DetailResponse
	getErr     error
	listResp   *txndomain.ListResponse
	listErr    error
}

func (f *fakeTxnService) Confirm(ctx context.Context, req txndomain.ActionRequest) (*txndomain.ActionResponse, error) {
	f.actionReq = &req
	return f.actionResp, f.actionErr
}

func (f *fakeTxnService) Reject(ctx context.Context, req txndomain.ActionRequest) (*txndomain.ActionResponse, error) {
	f.actionReq = &req
	return f.actionResp, f.actionErr
}

func (f *fakeTxnService) ManualMatch(ctx context.Context, req txndomain.ManualMatchRequest) (*txndomain.ActionResponse, error) {
	f.matchReq = &req
	return f.actionResp, f.actionErr
}

func (f *fakeTxnService) MarkExternal(ctx context.Context, req txndomain.ActionRequest) (*txndomain.ActionResponse, error) {
	f.actionReq = &req
	return f.actionResp, f.actionErr
}

func (f *fakeTxnService) BulkConfirmAuto(ctx context.Context, req txndomain.BulkConfirmRequest) (*txndomain.BulkConfirmResponse, error) {
	f.bulkReq = &req
	return f.bulkResp, f.bulkErr
}

func (f *fakeTxnService) Get(ctx context.Context, id string) (*txndomain.DetailResponse, error) {
	return f.getResp, f.getErr
}

func (f *fakeTxnService) ListByBatch(ctx context.Context, req txndomain.ListRequest) (*txndomain.ListResponse, error) {
	f.listReq = &req
	return f.listResp, f.listErr
}

type fakeInvoiceService struct {
	searchReq     *invoicedomain.SearchRequest
	searchResp    invoicedomain.SearchResponse
	searchErr     error
	candidatesReq *invoicedomain.CandidatesRequest
	candidates    invoicedomain.CandidatesResponse
	candidatesErr error
	invoice       invoicedomain.Invoice
	invoiceErr    error
}

func (f *fakeInvoiceService) Search(ctx context.Context, req invoicedomain.SearchRequest) (invoicedomain.SearchResponse, error) {
	f.searchReq = &req
	return f.searchResp, f.searchErr
}

func (f *fakeInvoiceService) Candidates(ctx context.Context, req invoicedomain.CandidatesRequest) (invoicedomain.CandidatesResponse, error) {
	f.candidatesReq = &req
	return f.candidates, f.candidatesErr
}

func (f *fakeInvoiceService) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	return f.invoice, f.invoiceErr
}

func (f *fakeInvoiceService) GetByNumber(ctx context.Context, number string) (invoicedomain.Invoice, error) {
	return f.invoice, f.invoiceErr
}

func (f *fakeInvoiceService) FindCandidatesByAmounts(ctx context.Context, amounts []decimal.Decimal) (map[string][]invoicedomain.Invoice, error) {
	return nil, nil
}

type fakeAuditService struct {
	listReq  *auditdomain.ListAuditRequest
	listResp *auditdomain.ListAuditResponse
	listErr  error
}

func (f *fakeAuditService) Record(ctx context.Context, db *gorm.DB, req auditdomain.RecordRequest) (*auditdomain.MatchAuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditService) RecordAll(ctx context.Context, db *gorm.DB, reqs []auditdomain.RecordRequest) error {
	return nil
}

func (f *fakeAuditService) ListByTransaction(ctx context.Context, req auditdomain.ListAuditRequest) (*auditdomain.ListAuditResponse, error) {
	f.listReq = &req
	return f.listResp, f.listErr
}

type fakePDFProvider struct {
	data pdf.BatchReportData
	err  error
}

func (f *fakePDFProvider) BatchReport(ctx context.Context, data pdf.BatchReportData) (io.Reader, error) {
	f.data = data
	if f.err != nil {
		return nil, f.err
	}
	return bytes.NewReader([]byte("%PDF-1.7 test")), nil
}

// newTestServer wires a Server onto a bare engine with only the error
// middleware, the way handler tests exercise routes in isolation.
func newTestServer(t *testing.T, srv *Server) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	srv.engine = r
	srv.cfg.APIPrefix = "/api/v1"
	srv.registerAPIRoutes()
	return r
}

func performRequest(r *gin.Engine, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func performJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return performRequest(r, method, path, reader, map[string]string{"Content-Type": "application/json"})
}

// decodeData unmarshals the success envelope and returns its data object.
func decodeData(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	return data
}

// decodeError unmarshals the error envelope and returns its error code.
func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.False(t, envelope.Success)
	require.NotEmpty(t, envelope.Timestamp)
	return envelope.Error
}
