package syncer

import (
	"context"
	"time"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

// Classical nisab thresholds.
const (
	NisabGoldGrams   = 85.0
	NisabSilverGrams = 595.0
)

// ZakatSyncer refreshes the zakat parameter row from the latest gold price.
// It has no upstream of its own; the finance sync feeds it.
type ZakatSyncer struct {
	engine   *Engine
	currency string
	now      func() time.Time
}

// NewZakatSyncer wires the zakat domain syncer.
func NewZakatSyncer(engine *Engine, currency string) *ZakatSyncer {
	if currency == "" {
		currency = "USD"
	}
	return &ZakatSyncer{engine: engine, currency: currency, now: time.Now}
}

// Sync derives today's nisab threshold from the most recent 24k gold price.
func (s *ZakatSyncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	return s.engine.Execute(ctx, store.JobTypeZakat, "zakat-params", opts, func(ctx context.Context, run *Run) error {
		gold, err := s.engine.st.Finance.LatestGoldPrice(ctx, 24, s.currency)
		if err != nil {
			return err
		}
		if gold == nil {
			return errs.New(errs.KindConflict, "no gold price available; run the finance sync first")
		}

		params := &store.ZakatParams{
			ParamDate:        s.now().UTC().Truncate(24 * time.Hour),
			NisabGoldGrams:   NisabGoldGrams,
			NisabSilverGrams: NisabSilverGrams,
			NisabThreshold:   NisabGoldGrams * gold.PricePerGram,
			Currency:         gold.Currency,
		}

		if run.DryRun() {
			run.Processed(1)
			return nil
		}
		outcome, err := s.engine.st.Finance.UpsertZakatParams(ctx, params)
		if err != nil {
			run.Fail(err)
			return nil
		}
		run.Record(outcome)
		return nil
	})
}
