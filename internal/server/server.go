package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tally/internal/audit"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/cloudmetrics"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/invoice"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/observability"
	obsmiddleware "github.com/smallbiznis/tally/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tally/internal/observability/tracing"
	"github.com/smallbiznis/tally/internal/progress"
	"github.com/smallbiznis/tally/internal/providers/pdf"
	"github.com/smallbiznis/tally/internal/queue"
	"github.com/smallbiznis/tally/internal/ratelimit"
	"github.com/smallbiznis/tally/internal/reconciliation"
	recondomain "github.com/smallbiznis/tally/internal/reconciliation/domain"
	"github.com/smallbiznis/tally/internal/transaction"
	txndomain "github.com/smallbiznis/tally/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	cloudmetrics.Module,
	fx.Provide(registerGin),
	audit.Module,
	invoice.Module,
	pdf.Module,
	progress.Module,
	queue.Module,
	ratelimit.Module,
	reconciliation.Module,
	transaction.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg))
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	reconSvc      recondomain.Service
	txnSvc        txndomain.Service
	invoiceSvc    invoicedomain.Service
	auditSvc      auditdomain.Service
	pdf           pdf.Provider
	uploadLimiter *ratelimit.UploadLimiter
	queue         *queue.RedisQueue
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	ReconSvc      recondomain.Service
	TxnSvc        txndomain.Service
	InvoiceSvc    invoicedomain.Service
	AuditSvc      auditdomain.Service
	PDF           pdf.Provider
	UploadLimiter *ratelimit.UploadLimiter `optional:"true"`
	Queue         *queue.RedisQueue        `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		reconSvc:      p.ReconSvc,
		txnSvc:        p.TxnSvc,
		invoiceSvc:    p.InvoiceSvc,
		auditSvc:      p.AuditSvc,
		pdf:           p.PDF,
		uploadLimiter: p.UploadLimiter,
		queue:         p.Queue,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerHealthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	health := s.engine.Group("/health")

	health.GET("/live", s.Liveness)
	health.GET("/ready", s.Readiness)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group(s.cfg.APIPrefix)

	// -------- Reconciliation batches --------
	recon := api.Group("/reconciliation")
	recon.POST("/upload", s.UploadRateLimit(), s.UploadBankFile)
	recon.GET("", s.ListBatches)
	recon.GET("/:batchId", s.GetBatchStatus)
	recon.GET("/:batchId/transactions", s.ListBatchTransactions)
	recon.GET("/:batchId/summary", s.GetBatchSummary)
	recon.GET("/:batchId/report", s.GetBatchReport)

	// -------- Transactions --------
	txn := api.Group("/transactions")
	txn.POST("/bulk-confirm", s.BulkConfirmTransactions)
	txn.POST("/:id/confirm", s.ConfirmTransaction)
	txn.POST("/:id/reject", s.RejectTransaction)
	txn.POST("/:id/match", s.MatchTransaction)
	txn.POST("/:id/external", s.MarkTransactionExternal)
	txn.GET("/:id", s.GetTransaction)
	txn.GET("/:id/audit", s.ListTransactionAudit)

	// -------- Invoices --------
	inv := api.Group("/invoices")
	inv.GET("/search", s.SearchInvoices)
	inv.GET("/candidates", s.ListInvoiceCandidates)
	inv.GET("/by-number/:number", s.GetInvoiceByNumber)
	inv.GET("/:id", s.GetInvoiceByID)
}
