package orderbook

import (
	"strconv"

	"cryptofeeds/models"
)

// FromPairs converts [price, size, ...] string arrays as sent by most venues.
// Entries with fewer than two fields or an unparsable size are skipped.
func FromPairs(pairs [][]string) []Update {
	out := make([]Update, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		size, err := strconv.ParseFloat(p[1], 64)
		if err != nil {
			continue
		}
		out = append(out, Update{Price: p[0], Size: size})
	}
	return out
}

// Quote builds a top-of-book quote from the best levels. Missing sides are
// left unset.
func (b *Book) Quote() models.MarketData {
	var md models.MarketData
	if bid, ok := b.BestBid(); ok {
		md.Bid, md.BidQty, md.HasBid = bid.Price, bid.Size, true
	}
	if ask, ok := b.BestAsk(); ok {
		md.Ask, md.AskQty, md.HasAsk = ask.Price, ask.Size, true
	}
	return md
}
