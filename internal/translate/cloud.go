package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cloudtranslate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// CloudBackend is the primary provider, speaking the Cloud Translation v2
// API with an API key. Construction fails without a key, so a keyless
// deployment simply never builds this backend and runs fallback-only.
type CloudBackend struct {
	client *cloudtranslate.Client
}

// NewCloudBackend dials the Translation API. The caller owns Close.
func NewCloudBackend(ctx context.Context, apiKey string) (*CloudBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("translate: api key required")
	}
	client, err := cloudtranslate.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(apiKey)))
	if err != nil {
		return nil, fmt.Errorf("dial translation api: %w", err)
	}
	return &CloudBackend{client: client}, nil
}

// Name identifies the backend in logs, metrics, and cache entries.
func (b *CloudBackend) Name() string { return "cloud" }

// Translate renders one Gujarati string into English.
func (b *CloudBackend) Translate(ctx context.Context, text string) (string, error) {
	res, err := b.client.Translate(ctx, []string{text}, language.English, &cloudtranslate.Options{
		Source: language.Gujarati,
		Format: cloudtranslate.Text,
	})
	if err != nil {
		return "", fmt.Errorf("cloud translate: %w", err)
	}
	if len(res) == 0 || strings.TrimSpace(res[0].Text) == "" {
		return "", errors.New("cloud translate: empty result")
	}
	return strings.TrimSpace(res[0].Text), nil
}

// Close releases the underlying API client.
func (b *CloudBackend) Close() error {
	return b.client.Close()
}
