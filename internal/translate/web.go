package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultWebEndpoint is the unauthenticated endpoint browser clients use.
const DefaultWebEndpoint = "https://translate.googleapis.com/translate_a/single"

const defaultWebTimeout = 15 * time.Second

// WebBackend is the free fallback provider. No credentials, no quota
// guarantees, which is why it sits behind the cloud backend in the chain.
type WebBackend struct {
	endpoint string
	client   *http.Client
}

// NewWebBackend builds the fallback. An empty endpoint selects the public
// one; tests point it at a local server.
func NewWebBackend(endpoint string, timeout time.Duration) *WebBackend {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultWebEndpoint
	}
	if timeout <= 0 {
		timeout = defaultWebTimeout
	}
	return &WebBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name identifies the backend in logs, metrics, and cache entries.
func (b *WebBackend) Name() string { return "web" }

// Translate asks for a gu→en rendering of text.
func (b *WebBackend) Translate(ctx context.Context, text string) (string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "gu")
	q.Set("tl", "en")
	q.Set("dt", "t")
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("web translate: build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web translate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("web translate: unexpected status %d", resp.StatusCode)
	}

	var payload []any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("web translate: decode response: %w", err)
	}
	return joinSegments(payload)
}

// joinSegments flattens the endpoint's nested-array answer: the first element
// is a list of [translated, source, ...] segment pairs covering the input in
// order.
func joinSegments(payload []any) (string, error) {
	if len(payload) == 0 {
		return "", errors.New("web translate: empty payload")
	}
	segments, ok := payload[0].([]any)
	if !ok {
		return "", errors.New("web translate: unexpected payload shape")
	}
	var sb strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			sb.WriteString(s)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", errors.New("web translate: empty translation")
	}
	return out, nil
}
