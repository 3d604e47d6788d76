package provider

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"stockpulse/internal/domain"
)

const sampleFeed = `<?xml version="1.0"?><rss version="2.0"><channel><title>Example Feed</title>
<item><title>Tencent beats estimates</title><link>https://news.example/tencent</link><description><![CDATA[<p>Revenue growth continues</p>]]></description><pubDate>Fri, 13 Feb 2026 10:00:00 +0000</pubDate><source>Reuters</source></item>
<item><title>  </title><link>https://news.example/blank</link></item>
<item><title>Second headline</title><link>https://news.example/second</link><pubDate>Thu, 12 Feb 2026 08:00:00 +0000</pubDate></item>
</channel></rss>`

func TestRSSFetchFeed(t *testing.T) {
	p := NewRSSNews(testTracer, nil)
	p.client = stubClient(http.StatusOK, sampleFeed, nil)

	items, err := p.FetchFeed(context.Background(), "https://news.example/rss", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	item := items[0]
	if item.Source != "Reuters" || item.Published != "Fri, 13 Feb 2026 10:00:00 +0000" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Summary != "Revenue growth continues" {
		t.Fatalf("expected html stripped summary, got %q", item.Summary)
	}
	if items[1].Source != "Example Feed" {
		t.Fatalf("expected channel title as fallback source, got %q", items[1].Source)
	}
}

func TestRSSFetchNewsExpandsTemplates(t *testing.T) {
	var seen []string
	p := NewRSSNews(testTracer, map[domain.Market][]string{
		domain.MarketHK: {"https://feeds.example/{market}/{code}?s={symbol}"},
	})
	p.client = stubClient(http.StatusOK, sampleFeed, &seen)

	items, err := p.FetchNews(context.Background(), tencent, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if seen[0] != "https://feeds.example/HK/00700?s=0700.HK" {
		t.Fatalf("unexpected feed url %s", seen[0])
	}
}

func TestRSSFetchNewsWithoutFeeds(t *testing.T) {
	p := NewRSSNews(testTracer, map[domain.Market][]string{domain.MarketUS: {"https://x"}})

	if _, err := p.FetchNews(context.Background(), moutai, 7); err == nil {
		t.Fatal("expected error for market without feeds")
	}
}

func TestRSSFetchNewsAllFeedsFail(t *testing.T) {
	p := NewRSSNews(testTracer, nil)
	p.client = stubClient(http.StatusServiceUnavailable, "down", nil)

	_, err := p.FetchNews(context.Background(), apple, 7)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected joined feed error, got %v", err)
	}
}
