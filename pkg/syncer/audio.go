package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

// AudioSyncer pulls the reciter catalog.
type AudioSyncer struct {
	engine  *Engine
	client  *upstream.Client
	baseURL string
}

// NewAudioSyncer wires the audio domain syncer.
func NewAudioSyncer(engine *Engine, client *upstream.Client, baseURL string) *AudioSyncer {
	return &AudioSyncer{engine: engine, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type reciterDTO struct {
	ID           int    `json:"id"`
	ReciterName  string `json:"reciter_name"`
	Style        string `json:"style"`
	RelativePath string `json:"relative_path"`
}

type recitersResponse struct {
	Recitations []reciterDTO `json:"recitations"`
}

func mapReciter(dto reciterDTO) (*store.Reciter, error) {
	if dto.ID <= 0 {
		return nil, errs.Newf(errs.KindValidation, "reciter id %d invalid", dto.ID)
	}
	if dto.ReciterName == "" {
		return nil, errs.Newf(errs.KindValidation, "reciter %d has no name", dto.ID)
	}
	path := dto.RelativePath
	if path == "" {
		path = fmt.Sprintf("reciters/%d/", dto.ID)
	}
	return &store.Reciter{
		ReciterID:    dto.ID,
		Name:         dto.ReciterName,
		Style:        dto.Style,
		RelativePath: path,
	}, nil
}

// Sync refreshes the reciter catalog.
func (s *AudioSyncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	return s.engine.Execute(ctx, store.JobTypeAudio, "reciters", opts, func(ctx context.Context, run *Run) error {
		var resp recitersResponse
		if err := s.client.GetJSON(ctx, s.baseURL+"/resources/recitations", &resp); err != nil {
			return err
		}

		for i, dto := range resp.Recitations {
			if run.Cancelled(ctx) {
				return nil
			}
			rec, err := mapReciter(dto)
			if err != nil {
				run.Fail(err)
				continue
			}
			if run.DryRun() {
				run.Processed(1)
				continue
			}
			outcome, err := s.engine.st.Finance.UpsertReciter(ctx, rec)
			if err != nil {
				run.Fail(err)
				continue
			}
			run.Record(outcome)
			run.ReportProgress(ctx, (i+1)*100/len(resp.Recitations))
		}
		return nil
	})
}
