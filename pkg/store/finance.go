package store

import (
	"context"
	"database/sql"
	"time"
)

// GoldPrice is one price snapshot; natural key (price_date, carat, currency).
type GoldPrice struct {
	PriceDate    time.Time
	Carat        int
	PricePerGram float64
	Currency     string
	LastSyncedAt time.Time
}

// Reciter is recitation audio metadata; natural key reciter_id.
type Reciter struct {
	ReciterID    int
	Name         string
	Style        string
	RelativePath string
	LastSyncedAt time.Time
}

// ZakatParams is the derived zakat input set for a day; natural key
// param_date. Nisab threshold is derived from the latest gold price.
type ZakatParams struct {
	ParamDate        time.Time
	NisabGoldGrams   float64
	NisabSilverGrams float64
	NisabThreshold   float64
	Currency         string
	LastSyncedAt     time.Time
}

// FinanceRepo persists gold prices, reciters, and zakat parameters.
type FinanceRepo struct {
	s *Store
}

// UpsertGoldPrice is idempotent on (price_date, carat, currency).
func (r *FinanceRepo) UpsertGoldPrice(ctx context.Context, g *GoldPrice) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO gold_prices (price_date, carat, price_per_gram, currency, last_synced_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (price_date, carat, currency) DO UPDATE SET
			price_per_gram = EXCLUDED.price_per_gram,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		g.PriceDate, g.Carat, g.PricePerGram, g.Currency)
	return scanUpsertOutcome(row, "upsert_gold_price", "gold_price")
}

// LatestGoldPrice returns the newest price for a carat/currency, or nil.
func (r *FinanceRepo) LatestGoldPrice(ctx context.Context, carat int, currency string) (*GoldPrice, error) {
	row := r.s.db.QueryRowContext(ctx, `
		SELECT price_date, carat, price_per_gram, currency, last_synced_at
		FROM gold_prices WHERE carat = $1 AND currency = $2
		ORDER BY price_date DESC LIMIT 1`, carat, currency)
	var g GoldPrice
	err := row.Scan(&g.PriceDate, &g.Carat, &g.PricePerGram, &g.Currency, &g.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("latest_gold_price", "gold_price", err)
	}
	return &g, nil
}

// UpsertReciter is idempotent on reciter_id.
func (r *FinanceRepo) UpsertReciter(ctx context.Context, rec *Reciter) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO reciters (reciter_id, name, style, relative_path, last_synced_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (reciter_id) DO UPDATE SET
			name = EXCLUDED.name,
			style = EXCLUDED.style,
			relative_path = EXCLUDED.relative_path,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		rec.ReciterID, rec.Name, nullStr(rec.Style), nullStr(rec.RelativePath))
	return scanUpsertOutcome(row, "upsert_reciter", "reciter")
}

// UpsertZakatParams is idempotent on param_date.
func (r *FinanceRepo) UpsertZakatParams(ctx context.Context, z *ZakatParams) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO zakat_params (param_date, nisab_gold_grams, nisab_silver_grams, nisab_threshold, currency, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (param_date) DO UPDATE SET
			nisab_gold_grams = EXCLUDED.nisab_gold_grams,
			nisab_silver_grams = EXCLUDED.nisab_silver_grams,
			nisab_threshold = EXCLUDED.nisab_threshold,
			currency = EXCLUDED.currency,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		z.ParamDate, z.NisabGoldGrams, z.NisabSilverGrams, z.NisabThreshold, z.Currency)
	return scanUpsertOutcome(row, "upsert_zakat_params", "zakat_params")
}

// CountReciters returns the number of stored reciters.
func (r *FinanceRepo) CountReciters(ctx context.Context) (int, error) {
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reciters`).Scan(&n); err != nil {
		return 0, storageErr("count", "reciter", err)
	}
	return n, nil
}
