package usecase

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

// tradeLogLine is the subset of a JSON trade log entry the analyzer reads.
type tradeLogLine struct {
	Time       string   `json:"ts"`
	Msg        string   `json:"msg"`
	Token      string   `json:"token"`
	Symbol     string   `json:"symbol"`
	Direction  string   `json:"direction"`
	Probe      bool     `json:"probe"`
	Reasons    []string `json:"reasons"`
	Spent      string   `json:"spent"`
	Received   string   `json:"received"`
	ProfitLoss string   `json:"profit_loss"`
}

type TokenTradeStats struct {
	Token          string
	Symbol         string
	Buys           int
	Probes         int
	Sells          int
	FailedCalls    int
	FailedAttempts int
	Skipped        int
	Spent          decimal.Decimal
	Received       decimal.Decimal
	RealizedPnL    decimal.Decimal
	LastSeen       time.Time
}

type TradeLogReport struct {
	Tokens    []*TokenTradeStats
	Reasons   map[string]int
	Lines     int
	Malformed int
}

// logTimeLayouts are tried in order.
var logTimeLayouts = []string{"2006-01-02T15:04:05.000Z0700", time.RFC3339Nano}

// LogAnalyzerService summarises the JSON trade log written by the executor.
type LogAnalyzerService struct {
	logger *zap.Logger
}

func NewLogAnalyzerService(logger *zap.Logger) *LogAnalyzerService {
	return &LogAnalyzerService{
		logger: logger,
	}
}

func (s *LogAnalyzerService) AnalyzeFile(path string) (*TradeLogReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening trade log: %w", err)
	}
	defer f.Close()
	return s.Analyze(f)
}

// Analyze reads one JSON object per line. Lines that are not JSON are
// counted and skipped.
func (s *LogAnalyzerService) Analyze(r io.Reader) (*TradeLogReport, error) {
	report := &TradeLogReport{Reasons: make(map[string]int)}
	byToken := make(map[string]*TokenTradeStats)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		report.Lines++

		var line tradeLogLine
		if err := sonnet.Unmarshal(raw, &line); err != nil {
			report.Malformed++
			continue
		}
		if line.Token == "" {
			continue
		}

		st, ok := byToken[line.Token]
		if !ok {
			st = &TokenTradeStats{Token: line.Token}
			byToken[line.Token] = st
		}
		if line.Symbol != "" {
			st.Symbol = line.Symbol
		}
		if ts, ok := parseLogTime(line.Time); ok && ts.After(st.LastSeen) {
			st.LastSeen = ts
		}

		switch line.Msg {
		case "Buy executed":
			if line.Probe {
				st.Probes++
				continue
			}
			st.Buys++
			st.Spent = st.Spent.Add(parseDecimal(line.Spent))
		case "Sell executed":
			st.Sells++
			st.Received = st.Received.Add(parseDecimal(line.Received))
			st.RealizedPnL = st.RealizedPnL.Add(parseDecimal(line.ProfitLoss))
		case "Trade failed":
			st.FailedCalls++
			for _, reason := range line.Reasons {
				report.Reasons[reason]++
			}
		case "Trade attempt failed":
			st.FailedAttempts++
		case "Trade skipped":
			st.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading trade log: %w", err)
	}
	if report.Malformed > 0 {
		s.logger.Warn("Skipped malformed trade log lines", zap.Int("count", report.Malformed))
	}

	for _, st := range byToken {
		report.Tokens = append(report.Tokens, st)
	}
	// Biggest realised result first, either sign.
	sort.Slice(report.Tokens, func(i, j int) bool {
		a, b := report.Tokens[i].RealizedPnL.Abs(), report.Tokens[j].RealizedPnL.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return report.Tokens[i].Token < report.Tokens[j].Token
	})

	return report, nil
}

func parseLogTime(s string) (time.Time, bool) {
	for _, layout := range logTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
