package provider

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/config"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/cardnet"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/mpesa"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/mtnmomo"
	"github.com/lipalink/payment-service/internal/infrastructure/provider/oauth"
)

// Registry maps provider names to adapter instances. It is built once at
// startup from configuration and immutable afterwards; nothing outside the
// adapters ever branches on provider identity.
type Registry struct {
	adapters map[string]provider.PaymentProvider
	logger   *zap.Logger
}

// NewRegistry builds adapters for every enabled provider in the
// configuration. The OAuth token cache is shared so concurrent initiations
// across rails reuse one fetch per provider.
func NewRegistry(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	tokens := oauth.NewTokenCache(oauth.DefaultExpiryMargin)
	adapters := make(map[string]provider.PaymentProvider)

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		switch name {
		case "cardnet":
			if pc.APIKey == "" {
				return nil, fmt.Errorf("cardnet API key not configured")
			}
			adapters[name] = cardnet.NewCardnetProvider(
				pc.BaseURL, pc.APIKey, pc.WebhookSecret, pc.RequestTimeout, logger)
		case "mpesa":
			if pc.ClientID == "" || pc.ClientSecret == "" {
				return nil, fmt.Errorf("mpesa client credentials not configured")
			}
			adapters[name] = mpesa.NewMpesaProvider(
				pc.BaseURL, pc.ClientID, pc.ClientSecret, pc.WebhookSecret, pc.RequestTimeout, tokens, logger)
		case "mtnmomo":
			if pc.ClientID == "" || pc.ClientSecret == "" {
				return nil, fmt.Errorf("mtnmomo client credentials not configured")
			}
			adapters[name] = mtnmomo.NewMomoProvider(
				pc.BaseURL, pc.APIKey, pc.ClientID, pc.ClientSecret, pc.WebhookSecret, pc.RequestTimeout, tokens, logger)
		default:
			return nil, fmt.Errorf("unsupported provider type: %s", name)
		}

		logger.Info("Provider adapter registered", zap.String("provider", name))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no payment providers enabled")
	}

	return &Registry{adapters: adapters, logger: logger}, nil
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (provider.PaymentProvider, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", name)
	}
	return adapter, nil
}

// Has reports whether a provider is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
