package adapters

import (
	"io"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/internal/util"
)

// DecoratedProvider wraps every backend of a provider with metrics and,
// when a TTL is set, an entry cache
type DecoratedProvider struct {
	inner    wikifs.BackendProvider
	name     string
	cacheTTL time.Duration
}

var _ wikifs.BackendProvider = (*DecoratedProvider)(nil)

// NewProvider builds the provider selected by cfg.Backend from the default
// registry and decorates it
func NewProvider(cfg *config.Config) (*DecoratedProvider, error) {
	logger := util.GetLogger("NewProvider")

	raw, err := cfg.Backend.Raw(cfg.PageLimit)
	if err != nil {
		return nil, err
	}
	inner, err := GetProvider(raw)
	if err != nil {
		logger.Error().Err(err).Str("type", cfg.Backend.Type).Msg("Failed to create backend provider")
		return nil, err
	}
	logger.Info().Str("type", cfg.Backend.Type).Dur("cacheTTL", cfg.CacheTTL).Msg("Backend provider ready")
	return Decorate(inner, cfg.Backend.Type, cfg.CacheTTL), nil
}

// Decorate wraps inner. name labels the backend metrics.
func Decorate(inner wikifs.BackendProvider, name string, cacheTTL time.Duration) *DecoratedProvider {
	return &DecoratedProvider{inner: inner, name: name, cacheTTL: cacheTTL}
}

func (p *DecoratedProvider) NewBackend() (wikifs.Backend, error) {
	b, err := p.inner.NewBackend()
	if err != nil {
		return nil, err
	}
	b = NewMeteredBackend(b, p.name)
	if p.cacheTTL > 0 {
		b = NewCachedBackend(b, p.cacheTTL)
	}
	return b, nil
}

// Close releases the shared resources of the wrapped provider, if it holds any
func (p *DecoratedProvider) Close() error {
	if c, ok := p.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
