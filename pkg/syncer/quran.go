package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

const versesPerPage = 50

// QuranSyncer pulls chapters, verses, and translation resources.
type QuranSyncer struct {
	engine    *Engine
	client    *upstream.Client
	baseURL   string
	fallbacks []TranslationFallback
}

// NewQuranSyncer wires the Quran domain syncer.
func NewQuranSyncer(engine *Engine, client *upstream.Client, baseURL string, fallbacks []TranslationFallback) *QuranSyncer {
	return &QuranSyncer{
		engine:    engine,
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		fallbacks: fallbacks,
	}
}

// Upstream payload shapes.

type chapterDTO struct {
	ID              int    `json:"id"`
	RevelationPlace string `json:"revelation_place"`
	NameSimple      string `json:"name_simple"`
	NameArabic      string `json:"name_arabic"`
	VersesCount     int    `json:"verses_count"`
	TranslatedName  struct {
		Name string `json:"name"`
	} `json:"translated_name"`
}

type chaptersResponse struct {
	Chapters []chapterDTO `json:"chapters"`
}

type verseDTO struct {
	VerseKey    string `json:"verse_key"`
	VerseNumber int    `json:"verse_number"`
	TextUthmani string `json:"text_uthmani"`
	JuzNumber   int    `json:"juz_number"`
	PageNumber  int    `json:"page_number"`
}

type versesResponse struct {
	Verses     []verseDTO `json:"verses"`
	Pagination struct {
		TotalPages int  `json:"total_pages"`
		NextPage   *int `json:"next_page"`
	} `json:"pagination"`
}

type translationDTO struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	AuthorName   string `json:"author_name"`
	Slug         string `json:"slug"`
	LanguageName string `json:"language_name"`
}

type translationsResponse struct {
	Translations []translationDTO `json:"translations"`
}

// mapChapter projects an upstream chapter; pure.
func mapChapter(dto chapterDTO) (*store.QuranChapter, error) {
	if dto.ID < 1 || dto.ID > 114 {
		return nil, errs.Newf(errs.KindValidation, "chapter id %d out of range", dto.ID)
	}
	if dto.NameSimple == "" {
		return nil, errs.Newf(errs.KindValidation, "chapter %d has no name", dto.ID)
	}
	return &store.QuranChapter{
		ChapterNumber:   dto.ID,
		NameArabic:      dto.NameArabic,
		NameSimple:      dto.NameSimple,
		TranslatedName:  dto.TranslatedName.Name,
		RevelationPlace: dto.RevelationPlace,
		VersesCount:     dto.VersesCount,
	}, nil
}

// mapVerse projects an upstream verse; pure. The verse key's chapter half
// must agree with the chapter being fetched.
func mapVerse(dto verseDTO, chapter int) (*store.QuranVerse, error) {
	parts := strings.SplitN(dto.VerseKey, ":", 2)
	if len(parts) != 2 {
		return nil, errs.Newf(errs.KindValidation, "malformed verse key %q", dto.VerseKey)
	}
	keyChapter, err := strconv.Atoi(parts[0])
	if err != nil || keyChapter != chapter {
		return nil, errs.Newf(errs.KindValidation, "verse key %q does not belong to chapter %d", dto.VerseKey, chapter)
	}
	if dto.TextUthmani == "" {
		return nil, errs.Newf(errs.KindValidation, "verse %s has empty text", dto.VerseKey)
	}
	return &store.QuranVerse{
		VerseKey:      dto.VerseKey,
		ChapterNumber: chapter,
		VerseNumber:   dto.VerseNumber,
		TextUthmani:   dto.TextUthmani,
		JuzNumber:     dto.JuzNumber,
		PageNumber:    dto.PageNumber,
	}, nil
}

func mapTranslation(dto translationDTO) (*store.TranslationResource, error) {
	if dto.ID <= 0 {
		return nil, errs.Newf(errs.KindValidation, "translation resource id %d invalid", dto.ID)
	}
	if dto.LanguageName == "" {
		return nil, errs.Newf(errs.KindValidation, "translation %d has no language", dto.ID)
	}
	return &store.TranslationResource{
		ResourceID:   dto.ID,
		LanguageCode: strings.ToLower(dto.LanguageName),
		Name:         dto.Name,
		AuthorName:   dto.AuthorName,
		Slug:         dto.Slug,
	}, nil
}

// Sync pulls all chapters, their verses, and the translation resource
// catalog.
func (s *QuranSyncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	return s.engine.Execute(ctx, store.JobTypeQuran, "quran", opts, func(ctx context.Context, run *Run) error {
		st := s.engine.st

		// Bulk verse writes cannot report inserted-vs-updated per row; the
		// table-count delta attributes inserts and the remainder of the
		// written rows counts as updates. Job control serializes quran
		// syncs, so no concurrent writer skews the delta.
		before := 0
		if !run.DryRun() {
			var err error
			before, err = st.Quran.CountVerses(ctx)
			if err != nil {
				return err
			}
		}

		chapters, err := s.syncChapters(ctx, run)
		if err != nil {
			return err
		}

		written := 0
		for i, ch := range chapters {
			if run.Cancelled(ctx) {
				return nil
			}
			n, err := s.syncChapterVerses(ctx, run, ch.ChapterNumber)
			if err != nil {
				return err
			}
			written += n
			run.ReportProgress(ctx, (i+1)*90/len(chapters))
		}

		if !run.DryRun() {
			after, err := st.Quran.CountVerses(ctx)
			if err != nil {
				return err
			}
			inserted := after - before
			run.AddInserted(inserted)
			run.AddUpdated(written - inserted)
		}

		if run.Cancelled(ctx) {
			return nil
		}
		if err := s.syncTranslations(ctx, run); err != nil {
			return err
		}
		run.ReportProgress(ctx, 100)
		return nil
	})
}

func (s *QuranSyncer) syncChapters(ctx context.Context, run *Run) ([]*store.QuranChapter, error) {
	var resp chaptersResponse
	if err := s.client.GetJSON(ctx, s.baseURL+"/chapters?language=en", &resp); err != nil {
		return nil, err
	}

	mapped := make([]*store.QuranChapter, 0, len(resp.Chapters))
	for _, dto := range resp.Chapters {
		ch, err := mapChapter(dto)
		if err != nil {
			run.Fail(err)
			continue
		}
		mapped = append(mapped, ch)
		if run.DryRun() {
			run.Processed(1)
			continue
		}
		outcome, err := s.engine.st.Quran.UpsertChapter(ctx, ch)
		if err != nil {
			run.Fail(err)
			continue
		}
		run.Record(outcome)
	}
	return mapped, nil
}

// syncChapterVerses pulls one chapter's verses page by page and returns the
// number of rows written.
func (s *QuranSyncer) syncChapterVerses(ctx context.Context, run *Run, chapter int) (int, error) {
	written := 0
	page := 1
	for {
		if run.Cancelled(ctx) {
			return written, nil
		}
		url := fmt.Sprintf("%s/verses/by_chapter/%d?fields=text_uthmani&per_page=%d&page=%d",
			s.baseURL, chapter, versesPerPage, page)
		var resp versesResponse
		if err := s.client.GetJSON(ctx, url, &resp); err != nil {
			return written, err
		}

		verses := make([]*store.QuranVerse, 0, len(resp.Verses))
		for _, dto := range resp.Verses {
			v, err := mapVerse(dto, chapter)
			if err != nil {
				run.Fail(err)
				continue
			}
			verses = append(verses, v)
		}

		if run.DryRun() {
			run.Processed(len(verses))
		} else if len(verses) > 0 {
			failed := 0
			for _, cerr := range s.engine.st.Quran.BulkUpsertVerses(ctx, verses) {
				failed += cerr.Size
				run.FailN(cerr.Size, cerr.Err)
			}
			ok := len(verses) - failed
			run.Processed(ok)
			written += ok
		}

		if resp.Pagination.NextPage == nil || len(resp.Verses) == 0 {
			return written, nil
		}
		page = *resp.Pagination.NextPage
	}
}

// syncTranslations pulls the translation resource catalog. A 5xx from the
// upstream falls back to placeholder rows from the configured set so
// downstream readers keep working; the run is marked partial.
func (s *QuranSyncer) syncTranslations(ctx context.Context, run *Run) error {
	var resp translationsResponse
	err := s.client.GetJSON(ctx, s.baseURL+"/resources/translations", &resp)
	if err != nil {
		if isUpstream5xx(err) && len(s.fallbacks) > 0 {
			return s.applyTranslationFallbacks(ctx, run, err)
		}
		return err
	}

	for _, dto := range resp.Translations {
		tr, err := mapTranslation(dto)
		if err != nil {
			run.Fail(err)
			continue
		}
		if run.DryRun() {
			run.Processed(1)
			continue
		}
		outcome, err := s.engine.st.Quran.UpsertTranslationResource(ctx, tr)
		if err != nil {
			run.Fail(err)
			continue
		}
		run.Record(outcome)
	}
	return nil
}

func (s *QuranSyncer) applyTranslationFallbacks(ctx context.Context, run *Run, cause error) error {
	s.engine.logger.Warn("translation upstream unavailable, applying fallback set",
		"fallbacks", len(s.fallbacks), "error", cause)
	run.MarkPartial()

	for _, fb := range s.fallbacks {
		placeholder := &store.TranslationResource{
			ResourceID:   fb.ResourceID,
			LanguageCode: fb.LanguageCode,
			Name:         fmt.Sprintf("translation %d (%s)", fb.ResourceID, fb.LanguageCode),
			Placeholder:  true,
		}
		if run.DryRun() {
			run.Processed(1)
			continue
		}
		outcome, err := s.engine.st.Quran.UpsertTranslationResource(ctx, placeholder)
		if err != nil {
			run.Fail(err)
			continue
		}
		run.Record(outcome)
	}
	return nil
}

// isUpstream5xx reports whether err is an upstream error with a 5xx status.
func isUpstream5xx(err error) bool {
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindUpstream || e.Details == nil {
		return false
	}
	status, ok := e.Details["status"].(int)
	return ok && status >= 500
}
