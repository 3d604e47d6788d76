package provider

import (
	"bytes"
	"io"
	"net/http"

	"stockpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func stubClient(status int, body string, seen *[]string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if seen != nil {
			*seen = append(*seen, req.URL.String())
		}
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
			Header:     make(http.Header),
		}, nil
	})}
}

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

var (
	moutai  = domain.Instrument{CanonicalCode: "600519", Market: domain.MarketAShare, Exchange: domain.ExchangeShanghai}
	tencent = domain.Instrument{CanonicalCode: "00700", Market: domain.MarketHK, Exchange: domain.ExchangeHKEX}
	apple   = domain.Instrument{CanonicalCode: "AAPL", Market: domain.MarketUS, Exchange: domain.ExchangeUS}
)
