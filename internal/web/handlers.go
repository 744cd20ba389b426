package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"
	"github.com/vitos/token_sniper/internal/domain"
	"github.com/vitos/token_sniper/internal/usecase"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
	maxBodyBytes = 1 << 16
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]any{
		"status":  "ok",
		"mode":    s.deps.Mode,
		"wallet":  s.deps.Wallet.Hex(),
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"started": s.startedAt.UTC(),
	}

	if positions, err := s.deps.Store.ListActivePositions(ctx); err == nil {
		resp["active_positions"] = len(positions)
	} else {
		s.logger.Warn("Status: failed to count positions", zap.Error(err))
	}
	if queue, err := s.deps.Store.ListSellEntries(ctx); err == nil {
		resp["queued_sells"] = len(queue)
	}
	if s.deps.Portfolio != nil {
		if realized, err := s.deps.Portfolio.TotalRealizedProfit(ctx); err == nil {
			resp["realized_pnl"] = realized
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.deps.Store.ListActivePositions(r.Context())
	if err != nil {
		s.fail(w, "Failed to list positions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(positions))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Portfolio.Summary(r.Context())
	if err != nil {
		s.fail(w, "Failed to build portfolio", err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("failed") == "true" {
		failed, err := s.deps.Portfolio.FailedTransactions(r.Context(), limit)
		if err != nil {
			s.fail(w, "Failed to list failed transactions", err)
			return
		}
		s.writeJSON(w, http.StatusOK, nonNil(failed))
		return
	}

	txs, err := s.deps.Portfolio.TransactionHistory(r.Context(), limit)
	if err != nil {
		s.fail(w, "Failed to list transactions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(txs))
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Store.ListBlacklist(r.Context())
	if err != nil {
		s.fail(w, "Failed to list blacklist", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(entries))
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	token := common.HexToAddress(raw)

	err := s.deps.Store.RemoveBlacklist(r.Context(), token)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "token is not blacklisted")
		return
	case err != nil:
		s.fail(w, "Failed to remove blacklist entry", err)
		return
	}
	s.logger.Info("Token removed from blacklist", zap.String("token", token.Hex()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSellQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Store.ListSellEntries(r.Context())
	if err != nil {
		s.fail(w, "Failed to list sell queue", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(entries))
}

type screenRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var req screenRequest
	if err := sonnet.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !common.IsHexAddress(req.Address) {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	// The round-trip probe trades; a dropped client must not abandon it.
	verdict := s.deps.Screener.Screen(context.WithoutCancel(r.Context()), common.HexToAddress(req.Address))
	s.writeJSON(w, http.StatusOK, verdict)
}

type sweepResultView struct {
	PositionID   int64                `json:"position_id"`
	Symbol       string               `json:"symbol"`
	CurrentValue decimal.Decimal      `json:"current_value"`
	Rule         usecase.ExitRule     `json:"rule,omitempty"`
	Outcome      *domain.TradeOutcome `json:"outcome,omitempty"`
	Queued       bool                 `json:"queued,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Exits.RunSweepOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		s.fail(w, "Exit sweep failed", err)
		return
	}

	views := make([]sweepResultView, 0, len(report.Results))
	for _, res := range report.Results {
		v := sweepResultView{
			PositionID:   res.PositionID,
			Symbol:       res.Symbol,
			CurrentValue: res.CurrentValue,
			Rule:         res.Rule,
			Outcome:      res.Outcome,
			Queued:       res.Queued,
		}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"duration":  report.Duration.String(),
		"triggered": report.Triggered(),
		"failed":    report.Failed(),
		"results":   views,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, msg)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
