// Package store persists portfolios, positions and audit snapshots in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id                         TEXT PRIMARY KEY,
	name                       TEXT NOT NULL,
	strategy                   TEXT NOT NULL,
	allocation_usd             TEXT NOT NULL,
	cash_usd                   TEXT NOT NULL,
	holdings_value_usd         TEXT NOT NULL,
	total_value_usd            TEXT NOT NULL,
	pnl                        TEXT NOT NULL,
	max_pnl                    TEXT NOT NULL,
	min_pnl                    TEXT NOT NULL,
	rebalance_interval_seconds INTEGER NOT NULL,
	paper                      INTEGER NOT NULL,
	last_rebalance_at          INTEGER NOT NULL DEFAULT 0,
	created_at                 INTEGER NOT NULL,
	updated_at                 INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
	asset_id     TEXT NOT NULL,
	event_id     TEXT NOT NULL DEFAULT '',
	condition_id TEXT NOT NULL DEFAULT '',
	slug         TEXT NOT NULL DEFAULT '',
	end_date     TEXT NOT NULL DEFAULT '',
	quantity     TEXT NOT NULL,
	avg_price    TEXT NOT NULL,
	cur_price    TEXT NOT NULL DEFAULT '0',
	PRIMARY KEY (portfolio_id, asset_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id       TEXT NOT NULL REFERENCES portfolios(id),
	cash_usd           TEXT NOT NULL,
	holdings_value_usd TEXT NOT NULL,
	total_value_usd    TEXT NOT NULL,
	pnl                TEXT NOT NULL,
	created_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_portfolio ON snapshots(portfolio_id, created_at);
`

// SQLiteStore implements core.IPortfolioStore. Decimals are stored as TEXT so
// no precision is lost through the float path.
type SQLiteStore struct {
	db *sql.DB
}

var _ core.IPortfolioStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates, if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreatePortfolio inserts a new portfolio row and returns its generated id.
func (s *SQLiteStore) CreatePortfolio(ctx context.Context, state *core.RunState) (string, error) {
	id := "pf_" + uuid.NewString()
	now := time.Now().UnixNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolios (
			id, name, strategy, allocation_usd, cash_usd, holdings_value_usd,
			total_value_usd, pnl, max_pnl, min_pnl, rebalance_interval_seconds,
			paper, last_rebalance_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, state.Name, state.Strategy,
		state.AllocationUSD.String(), state.CashUSD.String(),
		state.HoldingsValueUSD.String(), state.TotalValueUSD.String(),
		state.PnL.String(), state.MaxPnL.String(), state.MinPnL.String(),
		int64(state.RebalanceInterval.Seconds()), boolToInt(state.Paper),
		state.LastRebalanceAt.UnixNano(), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create portfolio: %v", apperrors.ErrPersistence, err)
	}
	return id, nil
}

// LoadPortfolio reads one portfolio and its positions.
func (s *SQLiteStore) LoadPortfolio(ctx context.Context, portfolioID string) (*core.RunState, map[string]*core.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, strategy, allocation_usd, cash_usd, holdings_value_usd,
		       total_value_usd, pnl, max_pnl, min_pnl,
		       rebalance_interval_seconds, paper, last_rebalance_at
		FROM portfolios WHERE id = ?`, portfolioID)

	var state core.RunState
	var allocation, cash, holdings, total, pnl, maxPnL, minPnL string
	var intervalSec, lastRebalanceNs int64
	var paper int
	err := row.Scan(&state.Name, &state.Strategy, &allocation, &cash, &holdings,
		&total, &pnl, &maxPnL, &minPnL, &intervalSec, &paper, &lastRebalanceNs)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: portfolio %s not found", apperrors.ErrPersistence, portfolioID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to load portfolio: %v", apperrors.ErrPersistence, err)
	}

	state.PortfolioID = portfolioID
	state.RebalanceInterval = time.Duration(intervalSec) * time.Second
	state.Paper = paper != 0
	if lastRebalanceNs > 0 {
		state.LastRebalanceAt = time.Unix(0, lastRebalanceNs).UTC()
	}
	if err := scanDecimals(map[*decimal.Decimal]string{
		&state.AllocationUSD:    allocation,
		&state.CashUSD:          cash,
		&state.HoldingsValueUSD: holdings,
		&state.TotalValueUSD:    total,
		&state.PnL:              pnl,
		&state.MaxPnL:           maxPnL,
		&state.MinPnL:           minPnL,
	}); err != nil {
		return nil, nil, fmt.Errorf("%w: corrupt portfolio row: %v", apperrors.ErrPersistence, err)
	}

	positions, err := s.loadPositions(ctx, portfolioID)
	if err != nil {
		return nil, nil, err
	}
	return &state, positions, nil
}

func (s *SQLiteStore) loadPositions(ctx context.Context, portfolioID string) (map[string]*core.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, event_id, condition_id, slug, end_date,
		       quantity, avg_price, cur_price
		FROM positions WHERE portfolio_id = ?`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load positions: %v", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	positions := make(map[string]*core.Position)
	for rows.Next() {
		var p core.Position
		var quantity, avgPx, curPx string
		if err := rows.Scan(&p.AssetID, &p.EventID, &p.ConditionID, &p.Slug,
			&p.EndDate, &quantity, &avgPx, &curPx); err != nil {
			return nil, fmt.Errorf("%w: failed to scan position: %v", apperrors.ErrPersistence, err)
		}
		if err := scanDecimals(map[*decimal.Decimal]string{
			&p.Quantity: quantity,
			&p.AvgPrice: avgPx,
			&p.CurPrice: curPx,
		}); err != nil {
			return nil, fmt.Errorf("%w: corrupt position row: %v", apperrors.ErrPersistence, err)
		}
		positions[p.AssetID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: position iteration failed: %v", apperrors.ErrPersistence, err)
	}
	return positions, nil
}

// Persist writes the run state, replaces the position set and appends the
// audit snapshot in a single serializable transaction, so a crash can never
// leave the three out of step.
func (s *SQLiteStore) Persist(ctx context.Context, state *core.RunState, positions map[string]*core.Position, snap *core.AuditSnapshot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE portfolios SET
			cash_usd = ?, holdings_value_usd = ?, total_value_usd = ?,
			pnl = ?, max_pnl = ?, min_pnl = ?, last_rebalance_at = ?,
			updated_at = ?
		WHERE id = ?`,
		state.CashUSD.String(), state.HoldingsValueUSD.String(),
		state.TotalValueUSD.String(), state.PnL.String(),
		state.MaxPnL.String(), state.MinPnL.String(),
		state.LastRebalanceAt.UnixNano(), time.Now().UnixNano(),
		state.PortfolioID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update portfolio: %v", apperrors.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: portfolio %s not found", apperrors.ErrPersistence, state.PortfolioID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM positions WHERE portfolio_id = ?`, state.PortfolioID); err != nil {
		return fmt.Errorf("%w: failed to clear positions: %v", apperrors.ErrPersistence, err)
	}
	for _, p := range positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (
				portfolio_id, asset_id, event_id, condition_id, slug, end_date,
				quantity, avg_price, cur_price
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			state.PortfolioID, p.AssetID, p.EventID, p.ConditionID, p.Slug,
			p.EndDate, p.Quantity.String(), p.AvgPrice.String(), p.CurPrice.String(),
		); err != nil {
			return fmt.Errorf("%w: failed to insert position %s: %v", apperrors.ErrPersistence, p.AssetID, err)
		}
	}

	if snap != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (
				portfolio_id, cash_usd, holdings_value_usd, total_value_usd,
				pnl, created_at
			) VALUES (?, ?, ?, ?, ?, ?)`,
			snap.PortfolioID, snap.CashUSD.String(),
			snap.HoldingsValueUSD.String(), snap.TotalValueUSD.String(),
			snap.PnL.String(), snap.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("%w: failed to append snapshot: %v", apperrors.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// Snapshots returns the most recent snapshots, oldest first. limit <= 0
// returns the full history.
func (s *SQLiteStore) Snapshots(ctx context.Context, portfolioID string, limit int) ([]*core.AuditSnapshot, error) {
	query := `
		SELECT cash_usd, holdings_value_usd, total_value_usd, pnl, created_at
		FROM snapshots WHERE portfolio_id = ?
		ORDER BY created_at DESC`
	args := []interface{}{portfolioID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query snapshots: %v", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	var snaps []*core.AuditSnapshot
	for rows.Next() {
		var snap core.AuditSnapshot
		var cash, holdings, total, pnl string
		var createdNs int64
		if err := rows.Scan(&cash, &holdings, &total, &pnl, &createdNs); err != nil {
			return nil, fmt.Errorf("%w: failed to scan snapshot: %v", apperrors.ErrPersistence, err)
		}
		snap.PortfolioID = portfolioID
		snap.Timestamp = time.Unix(0, createdNs).UTC()
		if err := scanDecimals(map[*decimal.Decimal]string{
			&snap.CashUSD:          cash,
			&snap.HoldingsValueUSD: holdings,
			&snap.TotalValueUSD:    total,
			&snap.PnL:              pnl,
		}); err != nil {
			return nil, fmt.Errorf("%w: corrupt snapshot row: %v", apperrors.ErrPersistence, err)
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: snapshot iteration failed: %v", apperrors.ErrPersistence, err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanDecimals(fields map[*decimal.Decimal]string) error {
	for dst, raw := range fields {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
