package store

import (
	"context"
	"database/sql"
	"time"
)

// HadithCollection is a canonical collection (bukhari, muslim, ...); natural
// key slug.
type HadithCollection struct {
	Slug         string
	Name         string
	HadithCount  int
	LastSyncedAt time.Time
}

// HadithBook is a book within a collection; natural key
// (collection_slug, book_number).
type HadithBook struct {
	CollectionSlug string
	BookNumber     int
	Name           string
	HadithCount    int
	LastSyncedAt   time.Time
}

// Hadith is one narration; natural key
// (collection_slug, book_number, hadith_number). Hadith numbers are strings
// upstream ("1a", "233b").
type Hadith struct {
	CollectionSlug string
	BookNumber     int
	HadithNumber   string
	TextArabic     string
	TextEnglish    string
	Grade          string
	LastSyncedAt   time.Time
}

// HadithRepo persists Hadith content.
type HadithRepo struct {
	s *Store
}

// UpsertCollection is idempotent on slug.
func (r *HadithRepo) UpsertCollection(ctx context.Context, c *HadithCollection) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO hadith_collections (slug, name, hadith_count, last_synced_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			hadith_count = EXCLUDED.hadith_count,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		c.Slug, c.Name, c.HadithCount)
	return scanUpsertOutcome(row, "upsert_collection", "hadith_collection")
}

// UpsertBook is idempotent on (collection_slug, book_number).
func (r *HadithRepo) UpsertBook(ctx context.Context, b *HadithBook) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO hadith_books (collection_slug, book_number, name, hadith_count, last_synced_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (collection_slug, book_number) DO UPDATE SET
			name = EXCLUDED.name,
			hadith_count = EXCLUDED.hadith_count,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		b.CollectionSlug, b.BookNumber, b.Name, b.HadithCount)
	return scanUpsertOutcome(row, "upsert_book", "hadith_book")
}

// UpsertHadith is idempotent on (collection_slug, book_number, hadith_number).
func (r *HadithRepo) UpsertHadith(ctx context.Context, h *Hadith) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO hadiths (collection_slug, book_number, hadith_number, text_arabic, text_english, grade, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (collection_slug, book_number, hadith_number) DO UPDATE SET
			text_arabic = EXCLUDED.text_arabic,
			text_english = EXCLUDED.text_english,
			grade = EXCLUDED.grade,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		h.CollectionSlug, h.BookNumber, h.HadithNumber,
		nullStr(h.TextArabic), nullStr(h.TextEnglish), nullStr(h.Grade))
	return scanUpsertOutcome(row, "upsert_hadith", "hadith")
}

// BulkUpsertHadiths chunk-commits hadiths.
func (r *HadithRepo) BulkUpsertHadiths(ctx context.Context, hadiths []*Hadith) []ChunkError {
	return r.s.inChunks(ctx, len(hadiths), func(tx *sql.Tx, lo, hi int) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO hadiths (collection_slug, book_number, hadith_number, text_arabic, text_english, grade, last_synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (collection_slug, book_number, hadith_number) DO UPDATE SET
				text_arabic = EXCLUDED.text_arabic,
				text_english = EXCLUDED.text_english,
				grade = EXCLUDED.grade,
				last_synced_at = NOW()`)
		if err != nil {
			return storageErr("bulk_upsert", "hadith", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, h := range hadiths[lo:hi] {
			if _, err := stmt.ExecContext(ctx, h.CollectionSlug, h.BookNumber, h.HadithNumber,
				nullStr(h.TextArabic), nullStr(h.TextEnglish), nullStr(h.Grade)); err != nil {
				return storageErr("bulk_upsert", "hadith", err)
			}
		}
		return nil
	})
}

// Collections lists stored collections.
func (r *HadithRepo) Collections(ctx context.Context) ([]*HadithCollection, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT slug, name, hadith_count, last_synced_at FROM hadith_collections ORDER BY slug`)
	if err != nil {
		return nil, storageErr("collections", "hadith_collection", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*HadithCollection
	for rows.Next() {
		var c HadithCollection
		if err := rows.Scan(&c.Slug, &c.Name, &c.HadithCount, &c.LastSyncedAt); err != nil {
			return nil, storageErr("collections", "hadith_collection", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CountHadiths returns the number of stored narrations.
func (r *HadithRepo) CountHadiths(ctx context.Context) (int, error) {
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hadiths`).Scan(&n); err != nil {
		return 0, storageErr("count", "hadith", err)
	}
	return n, nil
}
