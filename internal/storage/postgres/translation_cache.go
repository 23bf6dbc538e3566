package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ftmlabs/bknmu-notifier/internal/translate"
)

// TranslationCache persists successful translations across process runs, so
// a restart does not re-spend API quota on titles already rendered.
type TranslationCache struct {
	pool dbPool
}

// NewTranslationCacheWithPool constructs a cache over an existing pool
// (primarily for testing with pgxmock).
func NewTranslationCacheWithPool(pool dbPool) (*TranslationCache, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TranslationCache{pool: pool}, nil
}

// Lookup returns the cached rendering of the keyed source text.
func (c *TranslationCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT translated_text FROM translation_cache WHERE source_hash = $1`
	var text string
	err := c.pool.QueryRow(ctx, query, key).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup translation: %w", err)
	}
	return text, true, nil
}

// Store upserts one entry; re-translating a title refreshes the cached value.
func (c *TranslationCache) Store(ctx context.Context, e translate.Entry) error {
	if e.Key == "" {
		return fmt.Errorf("cache key is required")
	}
	const query = `
INSERT INTO translation_cache (source_hash, source_text, translated_text, backend)
VALUES ($1,$2,$3,$4)
ON CONFLICT (source_hash) DO UPDATE
SET translated_text = EXCLUDED.translated_text,
    backend = EXCLUDED.backend`

	if _, err := c.pool.Exec(ctx, query, e.Key, e.SourceText, e.TranslatedText, e.Backend); err != nil {
		return fmt.Errorf("store translation: %w", err)
	}
	return nil
}

// Size returns the number of cached translations.
func (c *TranslationCache) Size(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM translation_cache`
	var count int64
	if err := c.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count translations: %w", err)
	}
	return count, nil
}
