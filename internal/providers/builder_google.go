package providers

import (
	"context"

	adapter "github.com/modelrelay/modelrelay/internal/adapters/google"
	"github.com/modelrelay/modelrelay/internal/models"
)

func init() {
	Register(models.StandardGoogle, buildGoogle)
}

func buildGoogle(ctx context.Context, source models.ModelSource, secret string, opts BuildOptions) (Adapter, error) {
	return adapter.New(adapter.Options{
		APIKey:           secret,
		BaseURL:          source.Endpoint,
		ProviderName:     source.Name,
		DefaultMaxTokens: opts.DefaultMaxTokens,
	})
}
