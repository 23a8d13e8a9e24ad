// Package orderbook reduces incremental depth updates to a best bid and offer.
package orderbook

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/btree"
)

const degree = 16

// Level is a resting price level.
type Level struct {
	Price float64
	Size  float64
}

// Update is one (price, size) pair as published by a venue. A zero size
// removes the level.
type Update struct {
	Price string
	Size  float64
}

// Side holds the levels of one side of a book keyed by price.
type Side struct {
	levels *btree.BTreeG[Level]
	bid    bool
	best   Level
	has    bool
}

func newSide(bid bool) *Side {
	return &Side{
		levels: btree.NewG[Level](degree, func(a, b Level) bool { return a.Price < b.Price }),
		bid:    bid,
	}
}

// Apply upserts or removes each level. Prices that do not parse to a finite
// number are skipped.
func (s *Side) Apply(updates []Update) {
	changed := false
	for _, u := range updates {
		price, err := strconv.ParseFloat(strings.TrimSpace(u.Price), 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		if u.Size == 0 {
			if _, ok := s.levels.Delete(Level{Price: price}); ok {
				changed = true
			}
			continue
		}
		s.levels.ReplaceOrInsert(Level{Price: price, Size: u.Size})
		changed = true
	}
	if changed {
		s.refresh()
	}
}

func (s *Side) refresh() {
	if s.bid {
		s.best, s.has = s.levels.Max()
	} else {
		s.best, s.has = s.levels.Min()
	}
}

// Best returns the top level of this side.
func (s *Side) Best() (Level, bool) {
	return s.best, s.has
}

// Len returns the number of resting levels.
func (s *Side) Len() int {
	return s.levels.Len()
}

// Levels returns up to n levels from the top of the side, best first.
func (s *Side) Levels(n int) []Level {
	out := make([]Level, 0, n)
	visit := func(l Level) bool {
		out = append(out, l)
		return len(out) < n
	}
	if n <= 0 {
		return out
	}
	if s.bid {
		s.levels.Descend(visit)
	} else {
		s.levels.Ascend(visit)
	}
	return out
}

func (s *Side) clear() {
	s.levels.Clear(false)
	s.best, s.has = Level{}, false
}

// Book is a two-sided price level book for a single instrument. It is not safe
// for concurrent use; each book belongs to the connection that feeds it.
type Book struct {
	bids *Side
	asks *Side
}

func New() *Book {
	return &Book{bids: newSide(true), asks: newSide(false)}
}

func (b *Book) UpdateBids(updates []Update) { b.bids.Apply(updates) }

func (b *Book) UpdateAsks(updates []Update) { b.asks.Apply(updates) }

// BestBid returns the highest priced bid.
func (b *Book) BestBid() (Level, bool) { return b.bids.Best() }

// BestAsk returns the lowest priced ask.
func (b *Book) BestAsk() (Level, bool) { return b.asks.Best() }

func (b *Book) Bids() *Side { return b.bids }

func (b *Book) Asks() *Side { return b.asks }

// Reset drops every level, used when a venue sends a fresh snapshot.
func (b *Book) Reset() {
	b.bids.clear()
	b.asks.clear()
}

// Books keys books by native symbol.
type Books map[string]*Book

// Get returns the book for symbol, creating it on first use.
func (m Books) Get(symbol string) *Book {
	b, ok := m[symbol]
	if !ok {
		b = New()
		m[symbol] = b
	}
	return b
}
