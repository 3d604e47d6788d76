package provider

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/fetcher"
	"stockpulse/internal/normalizer"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRSSTemplates are the feeds queried per market. {code}, {symbol}
// and {market} are substituted before the request.
var DefaultRSSTemplates = map[domain.Market][]string{
	domain.MarketAShare: {"https://news.google.com/rss/search?q={code}+%E8%82%A1%E7%A5%A8&hl=zh-CN&gl=CN&ceid=CN:zh-Hans"},
	domain.MarketHK:     {"https://news.google.com/rss/search?q={code}.HK+%E8%82%A1%E7%A5%A8&hl=zh-HK&gl=HK&ceid=HK:zh-Hant"},
	domain.MarketUS:     {"https://feeds.finance.yahoo.com/rss/2.0/headline?s={symbol}&region=US&lang=en-US"},
}

// RSSNews reads news from RSS feeds keyed by market.
type RSSNews struct {
	client    *http.Client
	tracer    trace.Tracer
	limiter   *RateLimiter
	templates map[domain.Market][]string
	maxItems  int
}

func NewRSSNews(tracer trace.Tracer, templates map[domain.Market][]string) *RSSNews {
	if len(templates) == 0 {
		templates = DefaultRSSTemplates
	}
	return &RSSNews{
		client:    &http.Client{Timeout: 20 * time.Second},
		tracer:    tracer,
		limiter:   NewRateLimiter(10, time.Second),
		templates: templates,
		maxItems:  40,
	}
}

func (p *RSSNews) Name() string { return "rss" }

// FetchNews merges every feed configured for the instrument's market. It
// fails only when all feeds fail.
func (p *RSSNews) FetchNews(ctx context.Context, inst domain.Instrument, lookbackDays int) ([]fetcher.RawNewsItem, error) {
	ctx, span := p.tracer.Start(ctx, "rss.fetch-news")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	templates := p.templates[inst.Market]
	if len(templates) == 0 {
		return nil, fmt.Errorf("no rss feeds configured for %s", inst.Market)
	}

	var (
		items []fetcher.RawNewsItem
		errs  []error
	)
	for _, tmpl := range templates {
		feedURL := expandTemplate(tmpl, inst)
		feed, err := p.FetchFeed(ctx, feedURL, p.maxItems)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, feed...)
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

// FetchFeed downloads one RSS document.
func (p *RSSNews) FetchFeed(ctx context.Context, feedURL string, maxItems int) ([]fetcher.RawNewsItem, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	if maxItems <= 0 {
		maxItems = 40
	}

	body, err := doGet(ctx, p.client, p.limiter, "rss", feedURL, "application/rss+xml, application/xml, text/xml")
	if err != nil {
		return nil, err
	}

	var rss struct {
		Channel struct {
			Title string `xml:"title"`
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				PubDate     string `xml:"pubDate"`
				Source      string `xml:"source"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, fmt.Errorf("decode rss payload: %w", err)
	}

	channel := sanitizeText(rss.Channel.Title, 120)
	items := make([]fetcher.RawNewsItem, 0, min(maxItems, len(rss.Channel.Items)))
	for _, row := range rss.Channel.Items {
		if len(items) >= maxItems {
			break
		}
		title := sanitizeText(row.Title, 300)
		if title == "" {
			continue
		}
		source := sanitizeText(row.Source, 120)
		if source == "" {
			source = channel
		}
		items = append(items, fetcher.RawNewsItem{
			Title:     title,
			Summary:   sanitizeText(htmlStrip(row.Description), 420),
			URL:       sanitizeText(row.Link, 500),
			Source:    source,
			Published: strings.TrimSpace(row.PubDate),
		})
	}
	return items, nil
}

// expandTemplate fills the instrument placeholders of a feed or page URL.
func expandTemplate(tmpl string, inst domain.Instrument) string {
	return strings.NewReplacer(
		"{code}", url.QueryEscape(inst.CanonicalCode),
		"{symbol}", url.QueryEscape(normalizer.YahooSymbol(inst)),
		"{market}", string(inst.Market),
	).Replace(tmpl)
}

func htmlStrip(in string) string {
	if strings.TrimSpace(in) == "" {
		return ""
	}
	var b strings.Builder
	inside := false
	for _, r := range in {
		switch r {
		case '<':
			inside = true
			continue
		case '>':
			inside = false
			continue
		}
		if !inside {
			b.WriteRune(r)
		}
	}
	return b.String()
}
