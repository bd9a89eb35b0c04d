package database

import (
	"context"
	"time"

	"weex-trading-bot/internal/lifecycle"
	"weex-trading-bot/internal/weex"
)

// TradeRepository implements the lifecycle manager's Recorder against the
// trades and tier_events tables. Persistence failures are logged and
// swallowed: history never blocks trading.
type TradeRepository struct {
	db *Database
}

func NewTradeRepository(db *Database) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) RecordOpen(ctx context.Context, t *lifecycle.Trade) {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO trades (id, symbol, direction, entry_price, size, stop_loss, take_profit,
			risk_pct, trade_class, confidence, regime, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Symbol, string(t.Direction), t.EntryPrice, t.Size, t.StopLoss, t.TakeProfit,
		t.RiskPct, string(t.Class), t.Confidence, t.Regime, t.EntryTime)
	if err != nil {
		r.db.logger.Error("Failed to record trade open", "trade_id", t.ID, "error", err)
	}
}

func (r *TradeRepository) RecordClose(ctx context.Context, t *lifecycle.Trade, reason string) {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE trades SET closed_at = $2, close_reason = $3, stop_loss = $4 WHERE id = $1`,
		t.ID, time.Now().UTC(), reason, t.StopLoss)
	if err != nil {
		r.db.logger.Error("Failed to record trade close", "trade_id", t.ID, "error", err)
	}
}

func (r *TradeRepository) RecordTierUpgrade(ctx context.Context, t *lifecycle.Trade, price float64) {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tier_events (trade_id, tier, stop_loss, price) VALUES ($1,$2,$3,$4)`,
		t.ID, t.ProfitLockTier, t.StopLoss, price)
	if err != nil {
		r.db.logger.Error("Failed to record tier upgrade", "trade_id", t.ID, "error", err)
	}
}

// ArchiveAuditRecord mirrors a compliance submission record into audit_log.
// Same failure policy as the trade tables.
func (r *TradeRepository) ArchiveAuditRecord(ctx context.Context, recordedAt time.Time, entry weex.AILogEntry, submitted bool, submitError string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO audit_log (recorded_at, stage, model, input, output, explanation, submitted, submit_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		recordedAt, entry.Stage, entry.Model, entry.Input, entry.Output, entry.Explanation, submitted, submitError)
	if err != nil {
		r.db.logger.Error("Failed to archive audit record", "stage", entry.Stage, "error", err)
	}
	return err
}

// TradeHistoryRow is one row of the ops API trade history listing.
type TradeHistoryRow struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Direction   string     `json:"direction"`
	EntryPrice  float64    `json:"entry_price"`
	Size        float64    `json:"size"`
	RiskPct     float64    `json:"risk_pct"`
	TradeClass  string     `json:"trade_class"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason *string    `json:"close_reason,omitempty"`
}

// RecentTrades returns the newest trades first.
func (r *TradeRepository) RecentTrades(ctx context.Context, limit int) ([]TradeHistoryRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, symbol, direction, entry_price, size, risk_pct, trade_class,
			opened_at, closed_at, close_reason
		FROM trades ORDER BY opened_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeHistoryRow
	for rows.Next() {
		var row TradeHistoryRow
		if err := rows.Scan(&row.ID, &row.Symbol, &row.Direction, &row.EntryPrice, &row.Size,
			&row.RiskPct, &row.TradeClass, &row.OpenedAt, &row.ClosedAt, &row.CloseReason); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
