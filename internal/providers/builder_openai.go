package providers

import (
	"context"

	adapter "github.com/modelrelay/modelrelay/internal/adapters/openai"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/openai/openai-go/v3/option"
)

func init() {
	Register(models.StandardOpenAI, buildOpenAI)
}

func buildOpenAI(ctx context.Context, source models.ModelSource, secret string, opts BuildOptions) (Adapter, error) {
	extra := make([]option.RequestOption, 0, len(source.ExtraHeaders))
	for k, v := range source.ExtraHeaders {
		extra = append(extra, option.WithHeader(k, v))
	}
	return adapter.New(adapter.Options{
		APIKey:           secret,
		BaseURL:          source.Endpoint,
		ProviderName:     source.Name,
		DefaultMaxTokens: opts.DefaultMaxTokens,
		RequestTimeout:   opts.ConnectTimeout,
		Extra:            extra,
	})
}
