package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"stockpulse/internal/domain"
	"stockpulse/internal/provider"

	"gopkg.in/yaml.v3"
)

// Provider ids understood by the chain builder.
const (
	ProviderEastmoney = "eastmoney"
	ProviderYahoo     = "yahoo"
	ProviderHistory   = "history"
	ProviderRSS       = "rss"
	ProviderHTML      = "html"
)

var knownProviders = map[domain.DataKind]map[string]bool{
	domain.KindPrice:       {ProviderEastmoney: true, ProviderYahoo: true, ProviderHistory: true},
	domain.KindFundamental: {ProviderEastmoney: true, ProviderYahoo: true},
	domain.KindNews:        {ProviderRSS: true, ProviderHTML: true},
}

// MarketChains lists provider ids per data kind, highest priority first.
type MarketChains struct {
	Price       []string `yaml:"price"`
	Fundamental []string `yaml:"fundamental"`
	News        []string `yaml:"news"`
}

func (m MarketChains) forKind(kind domain.DataKind) []string {
	switch kind {
	case domain.KindPrice:
		return m.Price
	case domain.KindFundamental:
		return m.Fundamental
	default:
		return m.News
	}
}

// LexiconWords overrides the built-in sentiment keyword lists.
type LexiconWords struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// Providers is the provider chain file.
type Providers struct {
	Markets map[domain.Market]MarketChains          `yaml:"markets"`
	RSS     map[domain.Market][]string              `yaml:"rss"`
	HTML    map[domain.Market][]provider.HTMLSource `yaml:"html"`
	Lexicon LexiconWords                            `yaml:"lexicon"`
}

// DefaultProviders prefers Eastmoney for the Chinese markets and Yahoo for
// US listings. Stored history is the last price fallback everywhere.
func DefaultProviders() *Providers {
	return &Providers{
		Markets: map[domain.Market]MarketChains{
			domain.MarketAShare: {
				Price:       []string{ProviderEastmoney, ProviderYahoo, ProviderHistory},
				Fundamental: []string{ProviderEastmoney, ProviderYahoo},
				News:        []string{ProviderRSS, ProviderHTML},
			},
			domain.MarketHK: {
				Price:       []string{ProviderEastmoney, ProviderYahoo, ProviderHistory},
				Fundamental: []string{ProviderYahoo, ProviderEastmoney},
				News:        []string{ProviderRSS, ProviderHTML},
			},
			domain.MarketUS: {
				Price:       []string{ProviderYahoo, ProviderEastmoney, ProviderHistory},
				Fundamental: []string{ProviderYahoo, ProviderEastmoney},
				News:        []string{ProviderRSS, ProviderHTML},
			},
		},
		RSS: provider.DefaultRSSTemplates,
	}
}

// LoadProviders reads the chain file at path. An empty path or a missing
// file yields the defaults.
func LoadProviders(path string) (*Providers, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProviders(), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultProviders(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(raw)
}

// ParseProviders decodes a chain file. Markets absent from the file keep
// their default chains.
func ParseProviders(raw []byte) (*Providers, error) {
	var parsed Providers
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	p := DefaultProviders()
	for market, chains := range parsed.Markets {
		p.Markets[market] = chains
	}
	if len(parsed.RSS) > 0 {
		p.RSS = parsed.RSS
	}
	p.HTML = parsed.HTML
	p.Lexicon = parsed.Lexicon

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate rejects unknown markets and provider ids, empty chains and
// providers listed twice in one chain.
func (p *Providers) Validate() error {
	var errs []error
	for market, chains := range p.Markets {
		if !supportedMarket(market) {
			errs = append(errs, fmt.Errorf("unknown market %q", market))
			continue
		}
		for _, kind := range []domain.DataKind{domain.KindPrice, domain.KindFundamental, domain.KindNews} {
			ids := chains.forKind(kind)
			if len(ids) == 0 {
				errs = append(errs, fmt.Errorf("%s %s chain is empty", market, kind))
				continue
			}
			seen := make(map[string]bool, len(ids))
			for _, id := range ids {
				if !knownProviders[kind][id] {
					errs = append(errs, fmt.Errorf("%s %s chain: unknown provider %q", market, kind, id))
				}
				if seen[id] {
					errs = append(errs, fmt.Errorf("%s %s chain: duplicate provider %q", market, kind, id))
				}
				seen[id] = true
			}
		}
	}
	for market, sources := range p.HTML {
		for _, src := range sources {
			if src.URL == "" || src.Item == "" || src.Title == "" {
				errs = append(errs, fmt.Errorf("%s html source %q needs url, item and title", market, src.Name))
			}
		}
	}
	return errors.Join(errs...)
}

func supportedMarket(m domain.Market) bool {
	for _, s := range domain.SupportedMarkets {
		if s == m {
			return true
		}
	}
	return false
}
