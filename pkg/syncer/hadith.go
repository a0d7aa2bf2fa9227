package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

// HadithSyncer pulls collections, their books, and the hadiths inside them.
type HadithSyncer struct {
	engine  *Engine
	client  *upstream.Client
	baseURL string
}

// NewHadithSyncer wires the Hadith domain syncer.
func NewHadithSyncer(engine *Engine, client *upstream.Client, baseURL string) *HadithSyncer {
	return &HadithSyncer{engine: engine, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type collectionDTO struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	HadithCount int    `json:"hadith_count"`
}

type collectionsResponse struct {
	Data []collectionDTO `json:"data"`
}

type bookDTO struct {
	BookNumber  int    `json:"book_number"`
	Name        string `json:"name"`
	HadithCount int    `json:"hadith_count"`
}

type booksResponse struct {
	Data []bookDTO `json:"data"`
}

type hadithDTO struct {
	HadithNumber string `json:"hadith_number"`
	TextArabic   string `json:"text_arabic"`
	TextEnglish  string `json:"text_english"`
	Grade        string `json:"grade"`
}

type hadithsResponse struct {
	Data       []hadithDTO `json:"data"`
	Pagination struct {
		NextPage *int `json:"next_page"`
	} `json:"pagination"`
}

func mapCollection(dto collectionDTO) (*store.HadithCollection, error) {
	if dto.Slug == "" {
		return nil, errs.New(errs.KindValidation, "collection has no slug")
	}
	return &store.HadithCollection{
		Slug:        strings.ToLower(dto.Slug),
		Name:        dto.Name,
		HadithCount: dto.HadithCount,
	}, nil
}

func mapBook(dto bookDTO, collection string) (*store.HadithBook, error) {
	if dto.BookNumber < 1 {
		return nil, errs.Newf(errs.KindValidation, "book number %d invalid in %s", dto.BookNumber, collection)
	}
	return &store.HadithBook{
		CollectionSlug: collection,
		BookNumber:     dto.BookNumber,
		Name:           dto.Name,
		HadithCount:    dto.HadithCount,
	}, nil
}

// mapHadith keeps the upstream hadith number verbatim; numbers like "233b"
// are legitimate.
func mapHadith(dto hadithDTO, collection string, book int) (*store.Hadith, error) {
	if dto.HadithNumber == "" {
		return nil, errs.Newf(errs.KindValidation, "hadith in %s book %d has no number", collection, book)
	}
	if dto.TextArabic == "" && dto.TextEnglish == "" {
		return nil, errs.Newf(errs.KindValidation, "hadith %s in %s book %d has no text",
			dto.HadithNumber, collection, book)
	}
	return &store.Hadith{
		CollectionSlug: collection,
		BookNumber:     book,
		HadithNumber:   dto.HadithNumber,
		TextArabic:     dto.TextArabic,
		TextEnglish:    dto.TextEnglish,
		Grade:          dto.Grade,
	}, nil
}

// Sync walks collections, then books, then paginated hadiths.
func (s *HadithSyncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	return s.engine.Execute(ctx, store.JobTypeHadith, "hadith", opts, func(ctx context.Context, run *Run) error {
		st := s.engine.st

		// Bulk hadith writes cannot report inserted-vs-updated per row; the
		// table-count delta attributes inserts and the remainder of the
		// written rows counts as updates.
		before := 0
		if !run.DryRun() {
			var err error
			before, err = st.Hadith.CountHadiths(ctx)
			if err != nil {
				return err
			}
		}

		var resp collectionsResponse
		if err := s.client.GetJSON(ctx, s.baseURL+"/collections", &resp); err != nil {
			return err
		}

		written := 0
		for i, dto := range resp.Data {
			if run.Cancelled(ctx) {
				return nil
			}
			coll, err := mapCollection(dto)
			if err != nil {
				run.Fail(err)
				continue
			}
			if run.DryRun() {
				run.Processed(1)
			} else {
				outcome, err := st.Hadith.UpsertCollection(ctx, coll)
				if err != nil {
					run.Fail(err)
					continue
				}
				run.Record(outcome)
			}
			n, err := s.syncBooks(ctx, run, coll.Slug)
			if err != nil {
				return err
			}
			written += n
			run.ReportProgress(ctx, (i+1)*100/len(resp.Data))
		}

		if !run.DryRun() {
			after, err := st.Hadith.CountHadiths(ctx)
			if err != nil {
				return err
			}
			inserted := after - before
			run.AddInserted(inserted)
			run.AddUpdated(written - inserted)
		}
		return nil
	})
}

// syncBooks pulls one collection's books and their hadiths, returning the
// number of hadith rows written.
func (s *HadithSyncer) syncBooks(ctx context.Context, run *Run, collection string) (int, error) {
	var resp booksResponse
	url := fmt.Sprintf("%s/collections/%s/books", s.baseURL, collection)
	if err := s.client.GetJSON(ctx, url, &resp); err != nil {
		return 0, err
	}

	written := 0
	for _, dto := range resp.Data {
		if run.Cancelled(ctx) {
			return written, nil
		}
		book, err := mapBook(dto, collection)
		if err != nil {
			run.Fail(err)
			continue
		}
		if run.DryRun() {
			run.Processed(1)
		} else {
			outcome, err := s.engine.st.Hadith.UpsertBook(ctx, book)
			if err != nil {
				run.Fail(err)
				continue
			}
			run.Record(outcome)
		}
		n, err := s.syncHadiths(ctx, run, collection, book.BookNumber)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (s *HadithSyncer) syncHadiths(ctx context.Context, run *Run, collection string, book int) (int, error) {
	written := 0
	page := 1
	for {
		if run.Cancelled(ctx) {
			return written, nil
		}
		url := fmt.Sprintf("%s/collections/%s/books/%d/hadiths?page=%d",
			s.baseURL, collection, book, page)
		var resp hadithsResponse
		if err := s.client.GetJSON(ctx, url, &resp); err != nil {
			return written, err
		}

		hadiths := make([]*store.Hadith, 0, len(resp.Data))
		for _, dto := range resp.Data {
			h, err := mapHadith(dto, collection, book)
			if err != nil {
				run.Fail(err)
				continue
			}
			hadiths = append(hadiths, h)
		}

		if run.DryRun() {
			run.Processed(len(hadiths))
		} else if len(hadiths) > 0 {
			failed := 0
			for _, cerr := range s.engine.st.Hadith.BulkUpsertHadiths(ctx, hadiths) {
				failed += cerr.Size
				run.FailN(cerr.Size, cerr.Err)
			}
			ok := len(hadiths) - failed
			run.Processed(ok)
			written += ok
		}

		if resp.Pagination.NextPage == nil || len(resp.Data) == 0 {
			return written, nil
		}
		page = *resp.Pagination.NextPage
	}
}
