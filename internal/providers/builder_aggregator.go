package providers

import (
	"context"

	adapter "github.com/modelrelay/modelrelay/internal/adapters/aggregator"
	"github.com/modelrelay/modelrelay/internal/models"
)

func init() {
	Register(models.StandardCustom, buildAggregator)
}

func buildAggregator(ctx context.Context, source models.ModelSource, secret string, opts BuildOptions) (Adapter, error) {
	return adapter.New(adapter.Options{
		APIKey:           secret,
		BaseURL:          source.Endpoint,
		ProviderName:     source.Name,
		ExtraHeaders:     source.ExtraHeaders,
		DefaultMaxTokens: opts.DefaultMaxTokens,
		RequestTimeout:   opts.ConnectTimeout,
	})
}
