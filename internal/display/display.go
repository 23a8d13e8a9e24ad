// Package display prints a periodic console table of the stored quotes.
package display

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/symbols"
)

const tsLayout = "15:04:05.000"

type Display struct {
	store    *marketdata.AllMarketData
	registry *symbols.Registry
	out      io.Writer
	interval time.Duration
	now      func() time.Time
}

func New(store *marketdata.AllMarketData, registry *symbols.Registry, out io.Writer, interval time.Duration) *Display {
	if interval <= 0 {
		interval = time.Second
	}
	return &Display{store: store, registry: registry, out: out, interval: interval, now: time.Now}
}

// Run prints a snapshot every interval until ctx is cancelled.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Print()
		}
	}
}

// Print writes one snapshot. Exchanges without quotes are skipped.
func (d *Display) Print() {
	now := d.now()
	fmt.Fprintf(d.out, "\n========== Market Data %s ==========\n", now.Format(tsLayout))
	for _, exchange := range d.store.Exchanges() {
		coll, err := d.store.Collection(exchange)
		if err != nil {
			continue
		}
		entries := coll.Snapshot()
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(d.out, "\n--- %s ---\n", exchange)
		tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SYMBOL\tMID\tBID\tBID QTY\tASK\tASK QTY\tSPREAD BPS\tEXCH\tRECV\tEXCH LAT\tRECV LAT")
		for _, e := range entries {
			mid, ok := e.Data.Midquote()
			if !ok {
				continue
			}
			name, ok := d.registry.Symbol(e.ID)
			if !ok {
				continue
			}
			spread, _ := e.Data.SpreadBps()
			fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%.2f\t%.6f\t%.2f\t%.2f\t%s\t%s\t%s\t%s\n",
				name, mid, e.Data.Bid, e.Data.BidQty, e.Data.Ask, e.Data.AskQty, spread,
				stamp(e.Data.ExchangeTime), stamp(e.Data.ReceivedTime),
				latency(now, e.Data.ExchangeTime), latency(now, e.Data.ReceivedTime))
		}
		tw.Flush()
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(tsLayout)
}

func latency(now, t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return strconv.FormatInt(now.Sub(t).Milliseconds(), 10) + "ms"
}
