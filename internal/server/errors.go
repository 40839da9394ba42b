package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	recondomain "github.com/smallbiznis/tally/internal/reconciliation/domain"
	txndomain "github.com/smallbiznis/tally/internal/transaction/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"github.com/smallbiznis/tally/pkg/log"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// successEnvelope wraps every 2xx JSON body. Handlers never write raw
// payloads; they go through respond so the shape stays uniform.
type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrNotFound           = errors.New("not_found")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrInternal           = errors.New("internal_error")
)

// badRequestErrors are the sentinels that map to 400. The wire message is
// the sentinel text itself, so domain packages own their error vocabulary.
var badRequestErrors = []error{
	ErrInvalidRequest,
	pagination.ErrBadCursor,
	recondomain.ErrInvalidBatchID,
	recondomain.ErrMissingFile,
	recondomain.ErrFileTooLarge,
	recondomain.ErrInvalidFileType,
	recondomain.ErrInvalidStatusFilter,
	recondomain.ErrInvalidSort,
	recondomain.ErrBatchNotTerminal,
	txndomain.ErrInvalidTransactionID,
	txndomain.ErrInvalidState,
	txndomain.ErrInvalidStatusFilter,
	txndomain.ErrInvalidBatchID,
	invoicedomain.ErrInvalidInvoiceID,
	invoicedomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidAmount,
	auditdomain.ErrInvalidTransaction,
	auditdomain.ErrInvalidAction,
}

var notFoundErrors = []error{
	ErrNotFound,
	recondomain.ErrBatchNotFound,
	txndomain.ErrTransactionNotFound,
	txndomain.ErrBatchNotFound,
	invoicedomain.ErrInvoiceNotFound,
	gorm.ErrRecordNotFound,
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, successEnvelope{Success: true, Data: data})
}

// ErrorHandlingMiddleware turns the last error attached to the context into
// the error envelope. Handlers that already wrote a body are left alone.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, message := mapError(lastErr.Err)
		if status >= http.StatusInternalServerError {
			// The envelope hides the cause from the client, so it has to
			// land in the log.
			log.L(c.Request.Context()).Error("request failed", zap.Error(lastErr.Err))
		}
		c.AbortWithStatusJSON(status, errorEnvelope{
			Success:   false,
			Error:     message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, ErrInternal.Error()
	}
	if code, ok := matchSentinel(err, badRequestErrors); ok {
		return http.StatusBadRequest, code
	}
	if code, ok := matchSentinel(err, notFoundErrors); ok {
		return http.StatusNotFound, code
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, ErrRateLimited.Error()
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, ErrServiceUnavailable.Error()
	default:
		return http.StatusInternalServerError, ErrInternal.Error()
	}
}

// matchSentinel returns the first matching sentinel's text. gorm's record
// miss has no wire vocabulary of its own and reports as plain not_found.
func matchSentinel(err error, sentinels []error) (string, bool) {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			if errors.Is(sentinel, gorm.ErrRecordNotFound) {
				return ErrNotFound.Error(), true
			}
			return sentinel.Error(), true
		}
	}
	return "", false
}

// classifyErrorForLog feeds the request logger's error_type/error_code
// fields. Validation failures class together so upload noise can be
// downgraded below Info.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if code, ok := matchSentinel(err, badRequestErrors); ok {
		return "validation_error", code
	}
	if code, ok := matchSentinel(err, notFoundErrors); ok {
		return "not_found", code
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", ErrRateLimited.Error()
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable", ErrServiceUnavailable.Error()
	default:
		return "internal_error", ErrInternal.Error()
	}
}
