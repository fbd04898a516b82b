package appconfig

import (
	"fmt"

	"github.com/pulsetrack/scraper-go/pkg/config"
	"github.com/pulsetrack/scraper-go/pkg/orchestrator"
	"github.com/pulsetrack/scraper-go/pkg/providers"
	"github.com/pulsetrack/scraper-go/pkg/providers/apify"
	"github.com/pulsetrack/scraper-go/pkg/providers/scrapecreators"
)

// ConfigureProviders builds the orchestrator with every provider named in
// the configured priority order. Priority follows list position: the first
// name is tried first.
func ConfigureProviders(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	orch := orchestrator.New(orchestrator.Config{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		RateLimit:        cfg.ProviderRateLimit,
		Logger:           cfg.Logger,
	})

	for priority, name := range cfg.ProviderPriority {
		adapter, err := buildAdapter(name, cfg)
		if err != nil {
			return nil, err
		}
		orch.Register(adapter, priority)
	}

	return orch, nil
}

func buildAdapter(name string, cfg *config.Config) (providers.Adapter, error) {
	switch name {
	case apify.Name:
		return apify.New(&apify.Config{
			Token:          cfg.ApifyToken,
			BaseURL:        cfg.ApifyBaseURL,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         cfg.Logger,
		}), nil
	case scrapecreators.Name:
		return scrapecreators.New(&scrapecreators.Config{
			APIKey:         cfg.ScrapeCreatorsAPIKey,
			BaseURL:        cfg.ScrapeCreatorsURL,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         cfg.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider in priority list: %s", name)
	}
}
