package providers

import (
	"context"

	adapter "github.com/modelrelay/modelrelay/internal/adapters/anthropic"
	"github.com/modelrelay/modelrelay/internal/models"
)

func init() {
	Register(models.StandardAnthropic, buildAnthropic)
}

func buildAnthropic(ctx context.Context, source models.ModelSource, secret string, opts BuildOptions) (Adapter, error) {
	return adapter.New(adapter.Options{
		APIKey:           secret,
		BaseURL:          source.Endpoint,
		ProviderName:     source.Name,
		DefaultMaxTokens: opts.DefaultMaxTokens,
	})
}
