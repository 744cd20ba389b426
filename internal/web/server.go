package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/usecase"
	"go.uber.org/zap"
)

type Portfolio interface {
	Summary(ctx context.Context) (*domain.PortfolioSummary, error)
	TransactionHistory(ctx context.Context, limit int) ([]*domain.Transaction, error)
	FailedTransactions(ctx context.Context, limit int) ([]*domain.FailedTransaction, error)
	TotalRealizedProfit(ctx context.Context) (decimal.Decimal, error)
}

type Sweeper interface {
	RunSweepOnce(ctx context.Context) (*usecase.SweepReport, error)
}

// Deps are the services the HTTP API reads from and drives.
type Deps struct {
	Store     domain.Store
	Portfolio Portfolio
	Screener  usecase.TokenScreener
	Exits     Sweeper
	Metrics   http.Handler
	Wallet    common.Address
	Mode      string
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	deps      Deps
	logger    *zap.Logger
	startedAt time.Time
}

func NewServer(port int, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Positions
	s.router.HandleFunc("GET /positions", s.handlePositions)
	s.router.HandleFunc("GET /portfolio", s.handlePortfolio)

	// Transactions
	s.router.HandleFunc("GET /transactions", s.handleTransactions)

	// Blacklist
	s.router.HandleFunc("GET /blacklist", s.handleBlacklist)
	s.router.HandleFunc("DELETE /blacklist/{address}", s.handleRemoveBlacklist)

	// Gradual sells
	s.router.HandleFunc("GET /sell-queue", s.handleSellQueue)

	// Actions
	s.router.HandleFunc("POST /screen", s.handleScreen)
	s.router.HandleFunc("POST /sweep", s.handleSweep)

	if s.deps.Metrics != nil {
		s.router.Handle("GET /metrics", s.deps.Metrics)
	}
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
