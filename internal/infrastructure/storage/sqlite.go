package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/vitos/token_sniper/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ domain.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// single writer; also keeps ":memory:" on one shared database
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_address TEXT NOT NULL,
			symbol TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			amount_tokens TEXT NOT NULL,
			purchase_price TEXT NOT NULL,
			investment TEXT NOT NULL,
			purchase_time DATETIME NOT NULL,
			take_profit_pct REAL NOT NULL,
			stop_loss_pct REAL NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_address TEXT NOT NULL,
			symbol TEXT NOT NULL,
			type TEXT NOT NULL,
			amount_base TEXT NOT NULL,
			amount_tokens TEXT NOT NULL,
			price_per_token TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			gas_used INTEGER NOT NULL DEFAULT 0,
			profit_loss TEXT NOT NULL DEFAULT '0',
			position_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS failed_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_address TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			reason TEXT NOT NULL,
			tx_hash TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS blacklisted_tokens (
			token_address TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sell_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_address TEXT NOT NULL,
			symbol TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			amount TEXT NOT NULL,
			scheduled_time DATETIME NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			position_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sell_queue_time ON sell_queue(scheduled_time);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: position_id on transactions was added after the first release.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE transactions ADD COLUMN position_id INTEGER NOT NULL DEFAULT 0`)
	_, _ = s.db.Exec(`ALTER TABLE sell_queue ADD COLUMN position_id INTEGER NOT NULL DEFAULT 0`)

	return nil
}

// BlacklistRepository Implementation

func (s *SQLiteStore) IsBlacklisted(ctx context.Context, token common.Address) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blacklisted_tokens WHERE token_address = ?`, token.Hex()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpsertBlacklist(ctx context.Context, entry *domain.BlacklistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO blacklisted_tokens (token_address, symbol, reason, created_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(token_address) DO UPDATE SET
			  symbol=excluded.symbol,
			  reason=excluded.reason,
			  created_at=excluded.created_at`
	_, err := s.db.ExecContext(ctx, query, entry.TokenAddress.Hex(), entry.Symbol, entry.Reason, entry.CreatedAt)
	return err
}

func (s *SQLiteStore) ListBlacklist(ctx context.Context) ([]*domain.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_address, symbol, reason, created_at FROM blacklisted_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.BlacklistEntry
	for rows.Next() {
		var (
			e    domain.BlacklistEntry
			addr string
		)
		if err := rows.Scan(&addr, &e.Symbol, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TokenAddress = common.HexToAddress(addr)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) RemoveBlacklist(ctx context.Context, token common.Address) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blacklisted_tokens WHERE token_address = ?`, token.Hex())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PositionRepository Implementation

const positionColumns = `id, token_address, symbol, decimals, amount_tokens, purchase_price, investment, purchase_time, take_profit_pct, stop_loss_pct, status, updated_at`

func (s *SQLiteStore) InsertPosition(ctx context.Context, p *domain.PositionEntry) (int64, error) {
	now := time.Now().UTC()
	if p.PurchaseTime.IsZero() {
		p.PurchaseTime = now
	}
	if p.Status == "" {
		p.Status = domain.PositionActive
	}
	p.UpdatedAt = now

	query := `INSERT INTO positions (token_address, symbol, decimals, amount_tokens, purchase_price, investment, purchase_time, take_profit_pct, stop_loss_pct, status, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		p.TokenAddress.Hex(), p.Symbol, p.Decimals, bigString(p.AmountTokens), p.PurchasePrice.String(), p.Investment.String(),
		p.PurchaseTime, p.TakeProfitPct, p.StopLossPct, string(p.Status), p.UpdatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id int64) (*domain.PositionEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) UpdatePositionStatus(ctx context.Context, id int64, status domain.PositionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, updated_at = ? WHERE id = ? AND status = 'active'`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return s.checkActiveUpdate(ctx, res, id)
}

func (s *SQLiteStore) UpdatePositionAmount(ctx context.Context, id int64, amount *big.Int, investment decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET amount_tokens = ?, investment = ?, updated_at = ? WHERE id = ? AND status = 'active'`,
		bigString(amount), investment.String(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return s.checkActiveUpdate(ctx, res, id)
}

func (s *SQLiteStore) checkActiveUpdate(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetPosition(ctx, id); err != nil {
		return err
	}
	return domain.ErrPositionNotActive
}

func (s *SQLiteStore) ListActivePositions(ctx context.Context) ([]*domain.PositionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.PositionEntry
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (*domain.PositionEntry, error) {
	var (
		p                           domain.PositionEntry
		addr, amount, price, invest string
		status                      string
	)
	if err := row.Scan(&p.ID, &addr, &p.Symbol, &p.Decimals, &amount, &price, &invest,
		&p.PurchaseTime, &p.TakeProfitPct, &p.StopLossPct, &status, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.TokenAddress = common.HexToAddress(addr)
	p.Status = domain.PositionStatus(status)

	var err error
	if p.AmountTokens, err = parseBig(amount); err != nil {
		return nil, fmt.Errorf("position %d amount: %w", p.ID, err)
	}
	if p.PurchasePrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("position %d price: %w", p.ID, err)
	}
	if p.Investment, err = decimal.NewFromString(invest); err != nil {
		return nil, fmt.Errorf("position %d investment: %w", p.ID, err)
	}
	return &p, nil
}

// TransactionRepository Implementation

func (s *SQLiteStore) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO transactions (token_address, symbol, type, amount_base, amount_tokens, price_per_token, tx_hash, gas_used, profit_loss, position_id, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		tx.TokenAddress.Hex(), tx.Symbol, string(tx.Type), tx.AmountBase.String(), tx.AmountTokens.String(),
		tx.PricePerToken.String(), tx.TxHash, tx.GasUsed, tx.ProfitLoss.String(), tx.PositionID, tx.CreatedAt)
	if err != nil {
		return err
	}
	tx.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	query := `SELECT id, token_address, symbol, type, amount_base, amount_tokens, price_per_token, tx_hash, gas_used, profit_loss, position_id, created_at
			  FROM transactions ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var (
			t                              domain.Transaction
			addr, typ, base, tokens, price string
			pnl                            string
		)
		if err := rows.Scan(&t.ID, &addr, &t.Symbol, &typ, &base, &tokens, &price, &t.TxHash, &t.GasUsed, &pnl, &t.PositionID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.TokenAddress = common.HexToAddress(addr)
		t.Type = domain.TxType(typ)
		t.AmountBase = decimal.RequireFromString(base)
		t.AmountTokens = decimal.RequireFromString(tokens)
		t.PricePerToken = decimal.RequireFromString(price)
		t.ProfitLoss = decimal.RequireFromString(pnl)
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

func (s *SQLiteStore) TotalRealizedProfit(ctx context.Context) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT profit_loss FROM transactions WHERE type = ?`, string(domain.TxTypeSell))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var pnl string
		if err := rows.Scan(&pnl); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(pnl)
		if err != nil {
			return decimal.Zero, fmt.Errorf("profit_loss %q: %w", pnl, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

func (s *SQLiteStore) InsertFailedTransaction(ctx context.Context, tx *domain.FailedTransaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO failed_transactions (token_address, symbol, direction, attempt, reason, tx_hash, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		tx.TokenAddress.Hex(), tx.Symbol, string(tx.Direction), tx.Attempt, tx.Reason, tx.TxHash, tx.CreatedAt)
	if err != nil {
		return err
	}
	tx.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListFailedTransactions(ctx context.Context, limit int) ([]*domain.FailedTransaction, error) {
	query := `SELECT id, token_address, symbol, direction, attempt, reason, COALESCE(tx_hash, ''), created_at
			  FROM failed_transactions ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.FailedTransaction
	for rows.Next() {
		var (
			t         domain.FailedTransaction
			addr, dir string
		)
		if err := rows.Scan(&t.ID, &addr, &t.Symbol, &dir, &t.Attempt, &t.Reason, &t.TxHash, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.TokenAddress = common.HexToAddress(addr)
		t.Direction = domain.Direction(dir)
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

// SellQueueRepository Implementation

const sellColumns = `id, token_address, symbol, decimals, amount, scheduled_time, attempts, position_id, created_at`

func (s *SQLiteStore) InsertSellScheduleEntry(ctx context.Context, e *domain.SellScheduleEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO sell_queue (token_address, symbol, decimals, amount, scheduled_time, attempts, position_id, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		e.TokenAddress.Hex(), e.Symbol, e.Decimals, bigString(e.Amount), e.ScheduledTime.UTC(), e.Attempts, e.PositionID, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

func (s *SQLiteStore) ListDueSellEntries(ctx context.Context, now time.Time) ([]*domain.SellScheduleEntry, error) {
	return s.listSellEntries(ctx, `SELECT `+sellColumns+` FROM sell_queue WHERE scheduled_time <= ? ORDER BY scheduled_time, id`, now.UTC())
}

func (s *SQLiteStore) ListSellEntries(ctx context.Context) ([]*domain.SellScheduleEntry, error) {
	return s.listSellEntries(ctx, `SELECT `+sellColumns+` FROM sell_queue ORDER BY scheduled_time, id`)
}

// HasQueuedSell reports whether any schedule entry for token is pending.
func (s *SQLiteStore) HasQueuedSell(ctx context.Context, token common.Address) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sell_queue WHERE token_address = ?`, token.Hex()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) listSellEntries(ctx context.Context, query string, args ...any) ([]*domain.SellScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.SellScheduleEntry
	for rows.Next() {
		var (
			e            domain.SellScheduleEntry
			addr, amount string
		)
		if err := rows.Scan(&e.ID, &addr, &e.Symbol, &e.Decimals, &amount, &e.ScheduledTime, &e.Attempts, &e.PositionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TokenAddress = common.HexToAddress(addr)
		if e.Amount, err = parseBig(amount); err != nil {
			return nil, fmt.Errorf("sell entry %d amount: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) RescheduleSellEntry(ctx context.Context, id int64, at time.Time, attempts int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sell_queue SET scheduled_time = ?, attempts = ? WHERE id = ?`, at.UTC(), attempts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSellEntry(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sell_queue WHERE id = ?", id)
	return err
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
