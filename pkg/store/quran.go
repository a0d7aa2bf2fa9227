package store

import (
	"context"
	"database/sql"
	"time"
)

// QuranChapter is one of the 114 surahs; natural key chapter_number.
type QuranChapter struct {
	ChapterNumber   int
	NameArabic      string
	NameSimple      string
	TranslatedName  string
	RevelationPlace string
	VersesCount     int
	LastSyncedAt    time.Time
}

// QuranVerse is a single ayah; natural key verse_key ("2:255").
type QuranVerse struct {
	VerseKey      string
	ChapterNumber int
	VerseNumber   int
	TextUthmani   string
	JuzNumber     int
	PageNumber    int
	LastSyncedAt  time.Time
}

// TranslationResource is an upstream translation edition; natural key
// (resource_id, language_code). Placeholder rows come from the 5xx fallback.
type TranslationResource struct {
	ResourceID   int
	LanguageCode string
	Name         string
	AuthorName   string
	Slug         string
	Placeholder  bool
	LastSyncedAt time.Time
}

// QuranRepo persists Quran content.
type QuranRepo struct {
	s *Store
}

// UpsertChapter is idempotent on chapter_number.
func (r *QuranRepo) UpsertChapter(ctx context.Context, c *QuranChapter) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO quran_chapters (chapter_number, name_arabic, name_simple, translated_name, revelation_place, verses_count, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (chapter_number) DO UPDATE SET
			name_arabic = EXCLUDED.name_arabic,
			name_simple = EXCLUDED.name_simple,
			translated_name = EXCLUDED.translated_name,
			revelation_place = EXCLUDED.revelation_place,
			verses_count = EXCLUDED.verses_count,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		c.ChapterNumber, c.NameArabic, c.NameSimple, nullStr(c.TranslatedName),
		nullStr(c.RevelationPlace), c.VersesCount)
	return scanUpsertOutcome(row, "upsert_chapter", "quran_chapter")
}

// UpsertVerse is idempotent on verse_key.
func (r *QuranRepo) UpsertVerse(ctx context.Context, v *QuranVerse) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO quran_verses (verse_key, chapter_number, verse_number, text_uthmani, juz_number, page_number, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (verse_key) DO UPDATE SET
			text_uthmani = EXCLUDED.text_uthmani,
			juz_number = EXCLUDED.juz_number,
			page_number = EXCLUDED.page_number,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		v.VerseKey, v.ChapterNumber, v.VerseNumber, v.TextUthmani, v.JuzNumber, v.PageNumber)
	return scanUpsertOutcome(row, "upsert_verse", "quran_verse")
}

// BulkUpsertVerses chunk-commits verses; each chunk is atomic, failures are
// reported per chunk.
func (r *QuranRepo) BulkUpsertVerses(ctx context.Context, verses []*QuranVerse) []ChunkError {
	return r.s.inChunks(ctx, len(verses), func(tx *sql.Tx, lo, hi int) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO quran_verses (verse_key, chapter_number, verse_number, text_uthmani, juz_number, page_number, last_synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (verse_key) DO UPDATE SET
				text_uthmani = EXCLUDED.text_uthmani,
				juz_number = EXCLUDED.juz_number,
				page_number = EXCLUDED.page_number,
				last_synced_at = NOW()`)
		if err != nil {
			return storageErr("bulk_upsert", "quran_verse", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, v := range verses[lo:hi] {
			if _, err := stmt.ExecContext(ctx, v.VerseKey, v.ChapterNumber, v.VerseNumber,
				v.TextUthmani, v.JuzNumber, v.PageNumber); err != nil {
				return storageErr("bulk_upsert", "quran_verse", err)
			}
		}
		return nil
	})
}

// UpsertTranslationResource is idempotent on (resource_id, language_code).
// A real upstream row always overwrites a placeholder; a placeholder never
// downgrades a real row.
func (r *QuranRepo) UpsertTranslationResource(ctx context.Context, t *TranslationResource) (UpsertOutcome, error) {
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO translation_resources (resource_id, language_code, name, author_name, slug, placeholder, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (resource_id, language_code) DO UPDATE SET
			name = CASE WHEN EXCLUDED.placeholder AND NOT translation_resources.placeholder THEN translation_resources.name ELSE EXCLUDED.name END,
			author_name = CASE WHEN EXCLUDED.placeholder AND NOT translation_resources.placeholder THEN translation_resources.author_name ELSE EXCLUDED.author_name END,
			slug = CASE WHEN EXCLUDED.placeholder AND NOT translation_resources.placeholder THEN translation_resources.slug ELSE EXCLUDED.slug END,
			placeholder = translation_resources.placeholder AND EXCLUDED.placeholder,
			last_synced_at = NOW()
		RETURNING (xmax = 0)`,
		t.ResourceID, t.LanguageCode, t.Name, nullStr(t.AuthorName), nullStr(t.Slug), t.Placeholder)
	return scanUpsertOutcome(row, "upsert_translation", "translation_resource")
}

// CountChapters returns the number of stored chapters.
func (r *QuranRepo) CountChapters(ctx context.Context) (int, error) {
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quran_chapters`).Scan(&n); err != nil {
		return 0, storageErr("count", "quran_chapter", err)
	}
	return n, nil
}

// CountVerses returns the number of stored verses.
func (r *QuranRepo) CountVerses(ctx context.Context) (int, error) {
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quran_verses`).Scan(&n); err != nil {
		return 0, storageErr("count", "quran_verse", err)
	}
	return n, nil
}

// Chapters lists stored chapters in canonical order.
func (r *QuranRepo) Chapters(ctx context.Context) ([]*QuranChapter, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT chapter_number, name_arabic, name_simple, COALESCE(translated_name,''),
		       COALESCE(revelation_place,''), verses_count, last_synced_at
		FROM quran_chapters ORDER BY chapter_number`)
	if err != nil {
		return nil, storageErr("chapters", "quran_chapter", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*QuranChapter
	for rows.Next() {
		var c QuranChapter
		if err := rows.Scan(&c.ChapterNumber, &c.NameArabic, &c.NameSimple,
			&c.TranslatedName, &c.RevelationPlace, &c.VersesCount, &c.LastSyncedAt); err != nil {
			return nil, storageErr("chapters", "quran_chapter", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
