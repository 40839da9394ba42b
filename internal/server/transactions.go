package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	txndomain "github.com/smallbiznis/tally/internal/transaction/domain"
)

type transactionActionBody struct {
	Reason      string `json:"reason"`
	PerformedBy string `json:"performedBy"`
}

// bindActionBody reads the optional JSON body of an admin action. No body
// is a valid empty action.
func bindActionBody(c *gin.Context) (transactionActionBody, bool) {
	var body transactionActionBody
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return body, true
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return body, false
	}
	return body, true
}

func (s *Server) ConfirmTransaction(c *gin.Context) {
	body, ok := bindActionBody(c)
	if !ok {
		return
	}

	resp, err := s.txnSvc.Confirm(c.Request.Context(), txndomain.ActionRequest{
		ID:          c.Param("id"),
		Reason:      body.Reason,
		PerformedBy: body.PerformedBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) RejectTransaction(c *gin.Context) {
	body, ok := bindActionBody(c)
	if !ok {
		return
	}

	resp, err := s.txnSvc.Reject(c.Request.Context(), txndomain.ActionRequest{
		ID:          c.Param("id"),
		Reason:      body.Reason,
		PerformedBy: body.PerformedBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) MatchTransaction(c *gin.Context) {
	var req txndomain.ManualMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ID = c.Param("id")

	resp, err := s.txnSvc.ManualMatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) MarkTransactionExternal(c *gin.Context) {
	body, ok := bindActionBody(c)
	if !ok {
		return
	}

	resp, err := s.txnSvc.MarkExternal(c.Request.Context(), txndomain.ActionRequest{
		ID:          c.Param("id"),
		Reason:      body.Reason,
		PerformedBy: body.PerformedBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) BulkConfirmTransactions(c *gin.Context) {
	var req txndomain.BulkConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.txnSvc.BulkConfirmAuto(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) GetTransaction(c *gin.Context) {
	resp, err := s.txnSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) ListTransactionAudit(c *gin.Context) {
	var req auditdomain.ListAuditRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.TransactionID = c.Param("id")

	resp, err := s.auditSvc.ListByTransaction(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}
