package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

// gramsPerTroyOunce converts upstream per-ounce quotes to per-gram prices.
const gramsPerTroyOunce = 31.1035

// caratPurity scales the 24k spot price to the carats stored locally.
var caratPurity = map[int]float64{
	24: 1.0,
	22: 22.0 / 24.0,
	21: 21.0 / 24.0,
	18: 18.0 / 24.0,
}

// FinanceSyncer pulls the daily gold price snapshot.
type FinanceSyncer struct {
	engine   *Engine
	client   *upstream.Client
	baseURL  string
	currency string
	now      func() time.Time
}

// NewFinanceSyncer wires the finance domain syncer. Prices are quoted in
// currency (default USD).
func NewFinanceSyncer(engine *Engine, client *upstream.Client, baseURL, currency string) *FinanceSyncer {
	if currency == "" {
		currency = "USD"
	}
	return &FinanceSyncer{
		engine:   engine,
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: strings.ToUpper(currency),
		now:      time.Now,
	}
}

type goldRatesResponse struct {
	Success bool               `json:"success"`
	Base    string             `json:"base"`
	Rates   map[string]float64 `json:"rates"`
}

// goldPricePerGram derives the 24k per-gram price from an XAU rate quoted
// as ounces of gold per unit of base currency.
func goldPricePerGram(resp goldRatesResponse) (float64, error) {
	rate, ok := resp.Rates["XAU"]
	if !ok || rate <= 0 {
		return 0, errs.New(errs.KindValidation, "gold rate missing or non-positive in upstream payload")
	}
	return 1 / rate / gramsPerTroyOunce, nil
}

// Sync records one price row per carat for today.
func (s *FinanceSyncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	return s.engine.Execute(ctx, store.JobTypeFinance, "gold-price", opts, func(ctx context.Context, run *Run) error {
		var resp goldRatesResponse
		url := s.baseURL + "/latest?base=" + s.currency + "&currencies=XAU"
		if err := s.client.GetJSON(ctx, url, &resp); err != nil {
			return err
		}

		perGram24k, err := goldPricePerGram(resp)
		if err != nil {
			return err
		}

		day := s.priceDate(run)
		for carat, purity := range caratPurity {
			if run.Cancelled(ctx) {
				return nil
			}
			price := &store.GoldPrice{
				PriceDate:    day,
				Carat:        carat,
				PricePerGram: perGram24k * purity,
				Currency:     s.currency,
			}
			if run.DryRun() {
				run.Processed(1)
				continue
			}
			outcome, err := s.engine.st.Finance.UpsertGoldPrice(ctx, price)
			if err != nil {
				run.Fail(err)
				continue
			}
			run.Record(outcome)
		}
		return nil
	})
}

// priceDate is today, or the range start when a backfill range is given.
func (s *FinanceSyncer) priceDate(run *Run) time.Time {
	if dr := run.Range(); dr != nil && !dr.Start.IsZero() {
		return dr.Start.UTC().Truncate(24 * time.Hour)
	}
	return s.now().UTC().Truncate(24 * time.Hour)
}
