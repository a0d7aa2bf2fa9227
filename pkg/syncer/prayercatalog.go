package syncer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

// PrayerCatalogSyncer refreshes the calculation method catalog. The computed
// prayer times themselves go through the fan-out planner, not this syncer.
type PrayerCatalogSyncer struct {
	engine  *Engine
	client  *upstream.Client
	baseURL string
}

// NewPrayerCatalogSyncer wires the prayer catalog syncer.
func NewPrayerCatalogSyncer(engine *Engine, client *upstream.Client, baseURL string) *PrayerCatalogSyncer {
	return &PrayerCatalogSyncer{engine: engine, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// methodDTO params mix numeric angles with strings like "90 min"; only the
// numeric angles are kept.
type methodDTO struct {
	ID     int                        `json:"id"`
	Name   string                     `json:"name"`
	Params map[string]json.RawMessage `json:"params"`
}

type methodsResponse struct {
	Code int                  `json:"code"`
	Data map[string]methodDTO `json:"data"`
}

func mapMethod(code string, dto methodDTO) (*store.PrayerMethod, error) {
	if code == "" || dto.Name == "" {
		return nil, errs.Newf(errs.KindValidation, "method %q has no code or name", code)
	}
	return &store.PrayerMethod{
		Code:      strings.ToUpper(code),
		MethodID:  dto.ID,
		Name:      dto.Name,
		FajrAngle: numericParam(dto.Params, "Fajr"),
		IshaAngle: numericParam(dto.Params, "Isha"),
	}, nil
}

func numericParam(params map[string]json.RawMessage, key string) float64 {
	raw, ok := params[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}

// Sync refreshes the method catalog.
func (s *PrayerCatalogSyncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	return s.engine.Execute(ctx, store.JobTypePrayer, "methods", opts, func(ctx context.Context, run *Run) error {
		var resp methodsResponse
		if err := s.client.GetJSON(ctx, s.baseURL+"/methods", &resp); err != nil {
			return err
		}

		for code, dto := range resp.Data {
			if run.Cancelled(ctx) {
				return nil
			}
			m, err := mapMethod(code, dto)
			if err != nil {
				run.Fail(err)
				continue
			}
			if run.DryRun() {
				run.Processed(1)
				continue
			}
			outcome, err := s.engine.st.Prayer.UpsertMethod(ctx, m)
			if err != nil {
				run.Fail(err)
				continue
			}
			run.Record(outcome)
		}
		return nil
	})
}
