package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/fetcher"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTMLSource describes how to scrape headlines from a listing page. URL
// accepts the same placeholders as the RSS templates. Selectors other than
// Item are relative to each item; an empty Link selector reads href from
// the title element.
type HTMLSource struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Item    string `yaml:"item"`
	Title   string `yaml:"title"`
	Link    string `yaml:"link"`
	Summary string `yaml:"summary"`
	Time    string `yaml:"time"`
}

// HTMLNews scrapes headlines from configured listing pages.
type HTMLNews struct {
	client   *http.Client
	tracer   trace.Tracer
	limiter  *RateLimiter
	sources  map[domain.Market][]HTMLSource
	maxItems int
}

func NewHTMLNews(tracer trace.Tracer, sources map[domain.Market][]HTMLSource) *HTMLNews {
	return &HTMLNews{
		client:   &http.Client{Timeout: 20 * time.Second},
		tracer:   tracer,
		limiter:  NewRateLimiter(2, time.Second),
		sources:  sources,
		maxItems: 40,
	}
}

func (p *HTMLNews) Name() string { return "html" }

func (p *HTMLNews) FetchNews(ctx context.Context, inst domain.Instrument, lookbackDays int) ([]fetcher.RawNewsItem, error) {
	ctx, span := p.tracer.Start(ctx, "html.fetch-news")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	sources := p.sources[inst.Market]
	if len(sources) == 0 {
		return nil, fmt.Errorf("no html news sources configured for %s", inst.Market)
	}

	var (
		items []fetcher.RawNewsItem
		errs  []error
	)
	for _, src := range sources {
		scraped, err := p.scrape(ctx, src, inst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		items = append(items, scraped...)
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

func (p *HTMLNews) scrape(ctx context.Context, src HTMLSource, inst domain.Instrument) ([]fetcher.RawNewsItem, error) {
	pageURL := expandTemplate(src.URL, inst)
	body, err := doGet(ctx, p.client, p.limiter, "html", pageURL, "text/html")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var items []fetcher.RawNewsItem
	doc.Find(src.Item).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		titleSel := s
		if src.Title != "" {
			titleSel = s.Find(src.Title).First()
		}
		title := sanitizeText(titleSel.Text(), 300)
		if title == "" {
			return true
		}

		linkSel := titleSel
		if src.Link != "" {
			linkSel = s.Find(src.Link).First()
		}
		href, _ := linkSel.Attr("href")

		item := fetcher.RawNewsItem{
			Title:  title,
			URL:    resolveLink(base, href),
			Source: src.Name,
		}
		if src.Summary != "" {
			item.Summary = sanitizeText(s.Find(src.Summary).First().Text(), 420)
		}
		if src.Time != "" {
			ts := s.Find(src.Time).First()
			if dt, ok := ts.Attr("datetime"); ok {
				item.Published = strings.TrimSpace(dt)
			} else {
				item.Published = sanitizeText(ts.Text(), 64)
			}
		}
		items = append(items, item)
		return len(items) < p.maxItems
	})
	return items, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
