// Package feeds builds venue adapters from configuration.
package feeds

import (
	"fmt"
	"sort"
	"strings"

	"cryptofeeds/config"
	"cryptofeeds/models"
	"cryptofeeds/reader"
	"cryptofeeds/reader/binance"
	"cryptofeeds/reader/bybit"
	"cryptofeeds/reader/coinbase"
	"cryptofeeds/reader/kraken"
	"cryptofeeds/reader/lighter"
	"cryptofeeds/reader/mexc"
	"cryptofeeds/reader/okx"
)

type constructor func(models.InstrumentType, reader.FeedOptions) (reader.Feed, error)

var constructors = map[string]constructor{
	"binance":  func(it models.InstrumentType, o reader.FeedOptions) (reader.Feed, error) { return binance.New(it, o) },
	"bybit":    func(it models.InstrumentType, o reader.FeedOptions) (reader.Feed, error) { return bybit.New(it, o) },
	"coinbase": func(it models.InstrumentType, o reader.FeedOptions) (reader.Feed, error) { return coinbase.New(it, o) },
	"kraken":   func(it models.InstrumentType, o reader.FeedOptions) (reader.Feed, error) { return kraken.New(it, o) },
	"lighter":  func(it models.InstrumentType, o reader.FeedOptions) (reader.Feed, error) { return lighter.New(it, o) },
	"mexc":     func(it models.InstrumentType, o reader.FeedOptions) (reader.Feed, error) { return mexc.New(it, o) },
	"okx":      func(it models.InstrumentType, o reader.FeedOptions) (reader.Feed, error) { return okx.New(it, o) },
}

// Exchanges lists the supported venue names.
func Exchanges() []string {
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New returns the adapter for exchange serving it.
func New(exchange string, it models.InstrumentType, opts reader.FeedOptions) (reader.Feed, error) {
	ctor, ok := constructors[strings.ToLower(exchange)]
	if !ok {
		return nil, reader.ConfigError("unsupported exchange %q", exchange)
	}
	return ctor(it, opts)
}

// Options maps exchange overrides to adapter options. perp_url wins over url
// for perp feeds.
func Options(ex config.ExchangeConfig, it models.InstrumentType) reader.FeedOptions {
	url := ex.URL
	if it == models.Perp && ex.PerpURL != "" {
		url = ex.PerpURL
	}
	return reader.FeedOptions{
		URL:             url,
		RESTURL:         ex.RESTURL,
		ValidateSymbols: ex.ValidateSymbols,
		HTTPTimeout:     ex.HTTPTimeout,
	}
}

// Build turns the spot and perp sections into connection targets named
// <exchange>_<type>.
func Build(cfg *config.Config) ([]reader.Target, error) {
	subs := cfg.Subscriptions()
	targets := make([]reader.Target, 0, len(subs))
	for _, sub := range subs {
		feed, err := New(sub.Exchange, sub.Type, Options(cfg.Exchange(sub.Exchange), sub.Type))
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", sub.Exchange, sub.Type, err)
		}
		// Surface symbol spelling problems at startup rather than on the
		// first dial.
		if _, err := feed.BuildURL(sub.Symbols); err != nil {
			return nil, fmt.Errorf("%s %s: %w", sub.Exchange, sub.Type, err)
		}
		targets = append(targets, reader.Target{
			Name:     fmt.Sprintf("%s_%s", sub.Exchange, strings.ToLower(sub.Type.String())),
			Exchange: sub.Exchange,
			Feed:     feed,
			Symbols:  sub.Symbols,
		})
	}
	return targets, nil
}

// ConnectionConfig converts the connection section.
func ConnectionConfig(c config.ConnectionConfig) reader.ConnectionConfig {
	return reader.ConnectionConfig{
		InitialBackoff:    c.InitialBackoff,
		MaxBackoff:        c.MaxBackoff,
		HeartbeatInterval: c.HeartbeatInterval,
		MessageTimeout:    c.MessageTimeout,
		ConnectTimeout:    c.ConnectTimeout,
		WriteTimeout:      c.WriteTimeout,
		RetryResetAfter:   c.RetryResetAfter,
	}
}
