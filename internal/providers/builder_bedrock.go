package providers

import (
	"context"
	"fmt"
	"strings"

	adapter "github.com/modelrelay/modelrelay/internal/adapters/bedrock"
	"github.com/modelrelay/modelrelay/internal/models"
)

func init() {
	Register(models.StandardBedrock, buildBedrock)
}

// Bedrock credentials are stored as "ACCESS_KEY_ID:SECRET_ACCESS_KEY" with an
// optional ":SESSION_TOKEN" third segment. An empty secret falls back to the
// ambient AWS credential chain (instance profile, env vars).
func buildBedrock(ctx context.Context, source models.ModelSource, secret string, opts BuildOptions) (Adapter, error) {
	bopts := adapter.Options{
		Region:           source.Region,
		ProviderName:     source.Name,
		DefaultMaxTokens: opts.DefaultMaxTokens,
	}
	if secret = strings.TrimSpace(secret); secret != "" {
		parts := strings.SplitN(secret, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("source %q: bedrock secret must be ACCESS_KEY_ID:SECRET_ACCESS_KEY[:SESSION_TOKEN]", source.Name)
		}
		bopts.AccessKeyID = parts[0]
		bopts.SecretAccessKey = parts[1]
		if len(parts) == 3 {
			bopts.SessionToken = parts[2]
		}
	}
	return adapter.New(ctx, bopts)
}
