// Package translate renders Gujarati notice titles into English. A primary
// API-backed backend and a free web fallback sit behind a shared cache; when
// every layer fails the caller still gets the original text back, because a
// missed translation must never cost a delivery.
package translate

import (
	"context"

	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/hash/sha256"
	"github.com/ftmlabs/bknmu-notifier/internal/metrics"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

// Backend labels reported in Translation.Backend.
const (
	BackendCache       = "cache"
	BackendPassthrough = "passthrough"
	BackendNone        = "none"
)

// Backend is one translation provider. Translate returns the English text or
// an error; empty results are errors, not translations.
type Backend interface {
	Name() string
	Translate(ctx context.Context, text string) (string, error)
}

// Entry is one cached translation.
type Entry struct {
	Key            string
	SourceText     string
	TranslatedText string
	Backend        string
}

// TranslationCache memoizes successful translations keyed by the hex SHA-256
// of the normalized source text. Implementations own their eviction policy
// and their connection lifecycle.
type TranslationCache interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Store(ctx context.Context, e Entry) error
	Size(ctx context.Context) (int64, error)
}

// Disabled is a Translator that returns its input untouched. It stands in
// for the service when translation is switched off, so messages carry the
// original title only.
type Disabled struct{}

// Translate returns the raw text unmodified.
func (Disabled) Translate(_ context.Context, text string) notices.Translation {
	return notices.Translation{Text: text, Backend: BackendNone}
}

// Service implements notices.Translator over an ordered backend chain.
type Service struct {
	backends []Backend
	cache    TranslationCache
	backoff  *notices.Backoff
	log      *zap.Logger
}

// NewService builds the translation service. backends are tried in order;
// cache may be nil (no memoization); a nil backoff falls back to defaults.
func NewService(backends []Backend, cache TranslationCache, backoff *notices.Backoff, logger *zap.Logger) *Service {
	if backoff == nil {
		backoff = notices.NewBackoff(2, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backends: backends,
		cache:    cache,
		backoff:  backoff,
		log:      logger,
	}
}

// CacheKey derives the cache key for a piece of source text. Exposed so the
// stores and their tests agree on the keying scheme.
func CacheKey(normalized string) string {
	return sha256.SumHex([]byte(normalized))
}

// Translate resolves text through normalize, cache, and the backend chain.
// It never fails outward: the zero-value worst case is the input returned
// unchanged with Translated=false.
func (s *Service) Translate(ctx context.Context, text string) notices.Translation {
	normalized := NormalizeText(text)
	if normalized == "" {
		return notices.Translation{Text: text, Backend: BackendNone}
	}
	if !ContainsGujarati(normalized) {
		return notices.Translation{Text: normalized, Translated: true, Backend: BackendPassthrough}
	}

	key := CacheKey(normalized)
	if s.cache != nil {
		cached, ok, err := s.cache.Lookup(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("translation cache lookup failed", zap.Error(err))
		case ok:
			metrics.ObserveCacheLookup(true)
			return notices.Translation{Text: cached, Translated: true, Backend: BackendCache}
		default:
			metrics.ObserveCacheLookup(false)
		}
	}

	for _, backend := range s.backends {
		out, err := s.translateWith(ctx, backend, normalized)
		if err != nil {
			metrics.ObserveTranslation(backend.Name(), "error")
			s.log.Warn("translation backend failed",
				zap.String("backend", backend.Name()),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveTranslation(backend.Name(), "ok")
		if s.cache != nil {
			if err := s.cache.Store(ctx, Entry{
				Key:            key,
				SourceText:     normalized,
				TranslatedText: out,
				Backend:        backend.Name(),
			}); err != nil {
				s.log.Warn("translation cache store failed", zap.Error(err))
			}
		}
		return notices.Translation{Text: out, Translated: true, Backend: backend.Name()}
	}

	s.log.Warn("all translation backends failed, delivering original text")
	return notices.Translation{Text: text, Backend: BackendNone}
}

func (s *Service) translateWith(ctx context.Context, backend Backend, text string) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := backend.Translate(ctx, text)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !s.backoff.ShouldRetry(err, attempt) {
			break
		}
		if err := s.backoff.Sleep(ctx, s.backoff.Delay(attempt)); err != nil {
			return "", err
		}
	}
	return "", lastErr
}
