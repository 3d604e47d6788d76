package app

import (
	"stockpulse/internal/config"
	"stockpulse/internal/domain"
	"stockpulse/internal/fetcher"
	"stockpulse/internal/provider"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// BuildChains resolves the provider ids of the chain file into
// capabilities. history may be nil, in which case "history" entries are
// skipped.
func BuildChains(p *config.Providers, tracer trace.Tracer, history fetcher.PriceCapability, log zerolog.Logger) fetcher.Chains {
	eastmoney := provider.NewEastmoney(tracer)
	yahoo := provider.NewYahoo(tracer)

	prices := map[string]fetcher.PriceCapability{
		config.ProviderEastmoney: eastmoney,
		config.ProviderYahoo:     yahoo,
	}
	if history != nil {
		prices[config.ProviderHistory] = history
	}
	fundamentals := map[string]fetcher.FundamentalCapability{
		config.ProviderEastmoney: eastmoney,
		config.ProviderYahoo:     yahoo,
	}
	news := map[string]fetcher.NewsCapability{
		config.ProviderRSS:  provider.NewRSSNews(tracer, p.RSS),
		config.ProviderHTML: provider.NewHTMLNews(tracer, p.HTML),
	}

	chains := fetcher.Chains{
		Price:       make(map[domain.Market][]fetcher.PriceCapability),
		Fundamental: make(map[domain.Market][]fetcher.FundamentalCapability),
		News:        make(map[domain.Market][]fetcher.NewsCapability),
	}
	for market, mc := range p.Markets {
		chains.Price[market] = resolve(prices, mc.Price, market, log)
		chains.Fundamental[market] = resolve(fundamentals, mc.Fundamental, market, log)
		chains.News[market] = resolve(news, mc.News, market, log)
	}
	return chains
}

func resolve[C any](known map[string]C, ids []string, market domain.Market, log zerolog.Logger) []C {
	out := make([]C, 0, len(ids))
	for _, id := range ids {
		c, ok := known[id]
		if !ok {
			log.Debug().Str("market", string(market)).Str("provider", id).Msg("provider not available, skipped")
			continue
		}
		out = append(out, c)
	}
	return out
}
