package domain

import "time"

// PricePoint is a single daily OHLCV bar.
type PricePoint struct {
	Date   time.Time `json:"date" msgpack:"date"`
	Open   float64   `json:"open" msgpack:"open"`
	High   float64   `json:"high" msgpack:"high"`
	Low    float64   `json:"low" msgpack:"low"`
	Close  float64   `json:"close" msgpack:"close"`
	Volume float64   `json:"volume" msgpack:"volume"`
}

// PriceSeries is an ascending, date-keyed sequence of bars.
type PriceSeries struct {
	Instrument Instrument   `json:"instrument" msgpack:"instrument"`
	Points     []PricePoint `json:"points" msgpack:"points"`
	Provider   string       `json:"provider" msgpack:"provider"`
	FetchedAt  time.Time    `json:"fetched_at" msgpack:"fetched_at"`
}

// Closes returns the close column.
func (s *PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

// Volumes returns the volume column.
func (s *PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Volume
	}
	return out
}

// Last returns the most recent bar.
func (s *PriceSeries) Last() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Fundamentals maps canonical indicator names to values.
type Fundamentals struct {
	Instrument  Instrument         `json:"instrument" msgpack:"instrument"`
	Indicators  map[string]float64 `json:"indicators" msgpack:"indicators"`
	Provider    string             `json:"provider" msgpack:"provider"`
	FetchedAt   time.Time          `json:"fetched_at" msgpack:"fetched_at"`
	Unavailable bool               `json:"unavailable" msgpack:"unavailable"`
	Reason      string             `json:"reason,omitempty" msgpack:"reason"`
}

// NewsItem is a scored headline.
type NewsItem struct {
	Headline    string    `json:"headline" msgpack:"headline"`
	Summary     string    `json:"summary,omitempty" msgpack:"summary"`
	URL         string    `json:"url,omitempty" msgpack:"url"`
	Source      string    `json:"source,omitempty" msgpack:"source"`
	PublishedAt time.Time `json:"published_at" msgpack:"published_at"`
	Sentiment   float64   `json:"sentiment" msgpack:"sentiment"`
}

// NewsRecord is the newest-first news list for an instrument.
type NewsRecord struct {
	Instrument  Instrument `json:"instrument" msgpack:"instrument"`
	Items       []NewsItem `json:"items" msgpack:"items"`
	Provider    string     `json:"provider" msgpack:"provider"`
	FetchedAt   time.Time  `json:"fetched_at" msgpack:"fetched_at"`
	Unavailable bool       `json:"unavailable" msgpack:"unavailable"`
	Reason      string     `json:"reason,omitempty" msgpack:"reason"`
}
