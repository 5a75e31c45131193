// Package aggregator implements the adapter for OpenAI-compatible aggregator
// services (OpenRouter and the like). Chat traffic rides the OpenAI SDK
// pointed at the aggregator's base URL; the catalog endpoint is fetched raw
// because aggregators attach pricing and context metadata the SDK's model
// type drops.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/adapters/openai"
	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/openai/openai-go/v3/option"
)

// Options configure the adapter.
type Options struct {
	APIKey           string
	BaseURL          string
	ProviderName     string
	ExtraHeaders     map[string]string
	DefaultMaxTokens int32
	RequestTimeout   time.Duration
}

// Adapter proxies chat traffic to an aggregator and normalizes its catalog.
type Adapter struct {
	*openai.Adapter

	client   *http.Client
	baseURL  string
	apiKey   string
	provider string
	headers  map[string]string
}

// New builds an aggregator adapter. BaseURL is required; unlike the direct
// OpenAI adapter there is no sensible default endpoint.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("aggregator: base url required")
	}
	if opts.ProviderName == "" {
		opts.ProviderName = "aggregator"
	}

	extra := make([]option.RequestOption, 0, len(opts.ExtraHeaders))
	for k, v := range opts.ExtraHeaders {
		extra = append(extra, option.WithHeader(k, v))
	}

	inner, err := openai.New(openai.Options{
		APIKey:           opts.APIKey,
		BaseURL:          opts.BaseURL,
		ProviderName:     opts.ProviderName,
		DefaultMaxTokens: opts.DefaultMaxTokens,
		RequestTimeout:   opts.RequestTimeout,
		Extra:            extra,
	})
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Adapter: inner,
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
		},
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		provider: opts.ProviderName,
		headers:  opts.ExtraHeaders,
	}, nil
}

// ListModels fetches /models raw so aggregator pricing survives. Prices are
// normalized to per-token decimals as published; callers rescale to the
// source's price unit.
func (a *Adapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &gwerr.TimeoutError{Provider: a.provider, Phase: "connect"}
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, gwerr.NewProviderError(a.provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("aggregator decode models: %w", err)
	}

	out := make([]models.RemoteModel, 0, len(payload.Data))
	for _, entry := range payload.Data {
		m := models.RemoteModel{
			ID:            entry.ID,
			DisplayName:   entry.Name,
			OwnedBy:       entry.OwnedBy,
			ContextWindow: entry.ContextLength,
		}
		if entry.TopProvider != nil && entry.TopProvider.MaxCompletionTokens > 0 {
			m.MaxOutput = entry.TopProvider.MaxCompletionTokens
		}
		if entry.Pricing != nil {
			if p, ok := parsePrice(entry.Pricing.Prompt); ok {
				m.InputPrice = p
				m.PriceUnit = models.PriceUnitPer1M
			}
			if p, ok := parsePrice(entry.Pricing.Completion); ok {
				m.OutputPrice = p
				m.PriceUnit = models.PriceUnitPer1M
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// parsePrice converts an aggregator per-token price string into a per-million
// decimal. Negative prices (OpenRouter uses -1 for "variable") are dropped.
func parsePrice(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	perToken, err := decimal.NewFromString(raw)
	if err != nil || perToken.IsNegative() {
		return decimal.Zero, false
	}
	return perToken.Mul(decimal.NewFromInt(1_000_000)), true
}

type catalogResponse struct {
	Data []catalogModel `json:"data"`
}

type catalogModel struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	OwnedBy       string           `json:"owned_by"`
	ContextLength int32            `json:"context_length"`
	Pricing       *catalogPricing  `json:"pricing"`
	TopProvider   *catalogProvider `json:"top_provider"`
}

type catalogPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

type catalogProvider struct {
	MaxCompletionTokens int32 `json:"max_completion_tokens"`
}
