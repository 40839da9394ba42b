package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
)

type searchInvoicesQuery struct {
	Query       string `form:"q"`
	Amount      string `form:"amount"`
	Status      string `form:"status"`
	IncludePaid bool   `form:"includePaid"`
	Limit       int    `form:"limit"`
}

func (s *Server) SearchInvoices(c *gin.Context) {
	var q searchInvoicesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := invoicedomain.SearchRequest{
		Query:       q.Query,
		IncludePaid: q.IncludePaid,
		Limit:       q.Limit,
	}

	if raw := strings.TrimSpace(q.Amount); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			AbortWithError(c, invoicedomain.ErrInvalidAmount)
			return
		}
		req.Amount = &amount
	}

	statuses, err := invoicedomain.ParseStatusList(q.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.Statuses = statuses

	resp, err := s.invoiceSvc.Search(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

type invoiceCandidatesQuery struct {
	Amount string `form:"amount"`
	Limit  int    `form:"limit"`
}

func (s *Server) ListInvoiceCandidates(c *gin.Context) {
	var q invoiceCandidatesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(q.Amount))
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvalidAmount)
		return
	}

	resp, err := s.invoiceSvc.Candidates(c.Request.Context(), invoicedomain.CandidatesRequest{
		Amount: amount,
		Limit:  q.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	inv, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, invoicedomain.ViewOf(inv))
}

func (s *Server) GetInvoiceByNumber(c *gin.Context) {
	inv, err := s.invoiceSvc.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, invoicedomain.ViewOf(inv))
}
