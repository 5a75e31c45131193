package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/modelrelay/modelrelay/internal/models"
)

// BuildOptions carry cross-cutting knobs every adapter honors.
type BuildOptions struct {
	ConnectTimeout   time.Duration
	DefaultMaxTokens int32
}

// Builder constructs an adapter for one (source, credential secret) pair.
// The secret is passed separately so a fresh credential from the key pool can
// be bound per attempt without re-reading source configuration.
type Builder func(ctx context.Context, source models.ModelSource, secret string, opts BuildOptions) (Adapter, error)

var builders = map[string]Builder{}

// Register stores a builder for a wire-protocol standard. Adapters register
// themselves from init; duplicate registration is a programming error.
func Register(standard string, builder Builder) {
	if standard == "" {
		panic("providers: standard required")
	}
	if builder == nil {
		panic("providers: builder required")
	}
	if _, dup := builders[standard]; dup {
		panic(fmt.Sprintf("providers: duplicate builder for %q", standard))
	}
	builders[standard] = builder
}

// Standards lists registered wire-protocol standards, sorted.
func Standards() []string {
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Factory resolves builders by a source's declared standard.
type Factory struct {
	opts      BuildOptions
	overrides map[string]Builder
}

func NewFactory(opts BuildOptions) *Factory {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = 4096
	}
	return &Factory{opts: opts}
}

// Override replaces a builder, for tests.
func (f *Factory) Override(standard string, builder Builder) {
	if f.overrides == nil {
		f.overrides = make(map[string]Builder)
	}
	f.overrides[standard] = builder
}

// Build instantiates the adapter for a source using the given credential
// secret.
func (f *Factory) Build(ctx context.Context, source models.ModelSource, secret string) (Adapter, error) {
	builder := f.overrides[source.Standard]
	if builder == nil {
		builder = builders[source.Standard]
	}
	if builder == nil {
		return nil, fmt.Errorf("source %q: standard %q unsupported", source.Name, source.Standard)
	}
	adapter, err := builder(ctx, source, secret, f.opts)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", source.Name, err)
	}
	return adapter, nil
}
