package provider

import (
	"context"
	"net/http"
	"testing"

	"stockpulse/internal/domain"
)

const samplePage = `<html><body><ul class="news">
<li class="row"><a class="title" href="/article/1">Moutai raises prices</a><p class="desc"> Margins expand </p><time datetime="2026-02-13T09:00:00+08:00">Feb 13</time></li>
<li class="row"><a class="title" href="https://other.example/2">Liquor sector slips</a><span class="when">2026-02-12 15:30</span></li>
<li class="row"><a class="title" href="/empty"></a></li>
</ul></body></html>`

func TestHTMLNewsScrapesItems(t *testing.T) {
	var seen []string
	p := NewHTMLNews(testTracer, map[domain.Market][]HTMLSource{
		domain.MarketAShare: {{
			Name:    "example",
			URL:     "https://site.example/search?q={code}",
			Item:    "li.row",
			Title:   "a.title",
			Summary: "p.desc",
			Time:    "time, span.when",
		}},
	})
	p.client = stubClient(http.StatusOK, samplePage, &seen)

	items, err := p.FetchNews(context.Background(), moutai, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if seen[0] != "https://site.example/search?q=600519" {
		t.Fatalf("unexpected page url %s", seen[0])
	}
	first := items[0]
	if first.URL != "https://site.example/article/1" || first.Summary != "Margins expand" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if first.Published != "2026-02-13T09:00:00+08:00" || first.Source != "example" {
		t.Fatalf("unexpected first item metadata: %+v", first)
	}
	if items[1].URL != "https://other.example/2" || items[1].Published != "2026-02-12 15:30" {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestHTMLNewsRequiresSources(t *testing.T) {
	p := NewHTMLNews(testTracer, nil)
	if _, err := p.FetchNews(context.Background(), apple, 7); err == nil {
		t.Fatal("expected error without sources")
	}
}
