// Package publisher forwards changed quotes from the market data store to
// external sinks. It only reads the store.
package publisher

import (
	"context"
	"time"

	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/logger"
	"cryptofeeds/models"
)

// Quote is one stored quote addressed by exchange and canonical symbol.
type Quote struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	models.MarketData
}

// Key is exchange:canonical.
func (q Quote) Key() string {
	return q.Exchange + ":" + q.Symbol
}

// Sink receives batches of changed quotes.
type Sink interface {
	Name() string
	Publish(ctx context.Context, quotes []Quote) error
	Close() error
}

type slot struct {
	exchange string
	id       symbols.SymbolID
}

type Publisher struct {
	store    *marketdata.AllMarketData
	registry *symbols.Registry
	sinks    []Sink
	interval time.Duration
	last     map[slot]models.MarketData
	log      *logger.Log
}

func New(store *marketdata.AllMarketData, registry *symbols.Registry, interval time.Duration, sinks ...Sink) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{
		store:    store,
		registry: registry,
		sinks:    sinks,
		interval: interval,
		last:     make(map[slot]models.MarketData),
		log:      logger.GetLogger(),
	}
}

// Changed returns quotes that differ from the previous call.
func (p *Publisher) Changed() []Quote {
	var out []Quote
	for _, exchange := range p.store.Exchanges() {
		coll, err := p.store.Collection(exchange)
		if err != nil {
			continue
		}
		for _, e := range coll.Snapshot() {
			k := slot{exchange: exchange, id: e.ID}
			if prev, ok := p.last[k]; ok && prev == e.Data {
				continue
			}
			p.last[k] = e.Data
			name, ok := p.registry.Symbol(e.ID)
			if !ok {
				continue
			}
			out = append(out, Quote{Exchange: exchange, Symbol: name, MarketData: e.Data})
		}
	}
	return out
}

// Flush publishes the current changes to every sink. Sink errors are logged.
func (p *Publisher) Flush(ctx context.Context) int {
	quotes := p.Changed()
	if len(quotes) == 0 {
		return 0
	}
	for _, s := range p.sinks {
		if err := s.Publish(ctx, quotes); err != nil {
			p.log.WithComponent("publisher").WithError(err).WithFields(logger.Fields{
				"sink":   s.Name(),
				"quotes": len(quotes),
			}).Warn("failed to publish quotes")
		}
	}
	return len(quotes)
}

// Run flushes every interval until ctx is cancelled, then closes the sinks.
func (p *Publisher) Run(ctx context.Context) error {
	log := p.log.WithComponent("publisher")
	defer func() {
		for _, s := range p.sinks {
			if err := s.Close(); err != nil {
				log.WithError(err).WithField("sink", s.Name()).Warn("failed to close sink")
			}
		}
	}()
	if len(p.sinks) == 0 {
		<-ctx.Done()
		return nil
	}

	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.Name()
	}
	log.WithFields(logger.Fields{"sinks": names, "interval": p.interval.String()}).Info("publisher started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.Flush(ctx); n > 0 {
				log.WithField("quotes", n).Debug("published quotes")
			}
		}
	}
}
