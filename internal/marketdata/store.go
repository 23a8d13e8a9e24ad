// Package marketdata holds the latest quote per instrument for every venue.
package marketdata

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
)

var ErrUnknownExchange = errors.New("unknown exchange")

// Collection is a fixed-size table of quotes indexed by symbol id. One
// connection writes to it; any number of readers may query it.
type Collection struct {
	mu   sync.Mutex
	data [symbols.MaxSymbols]models.MarketData
	set  [symbols.MaxSymbols]bool
}

func NewCollection() *Collection {
	return &Collection{}
}

// Insert overwrites the slot for id.
func (c *Collection) Insert(id symbols.SymbolID, md models.MarketData) {
	if !inRange(id) {
		return
	}
	c.mu.Lock()
	c.data[id] = md
	c.set[id] = true
	c.mu.Unlock()
}

// Get returns a copy of the quote for id.
func (c *Collection) Get(id symbols.SymbolID) (models.MarketData, bool) {
	if !inRange(id) {
		return models.MarketData{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[id], c.set[id]
}

// GetMidquote returns the mid of the quote for id.
func (c *Collection) GetMidquote(id symbols.SymbolID) (float64, bool) {
	md, ok := c.Get(id)
	if !ok {
		return 0, false
	}
	return md.Midquote()
}

// Midquote is a mid price with the timestamps of the quote it came from.
type Midquote struct {
	Price        float64   `json:"mid"`
	ExchangeTime time.Time `json:"exchange_time"`
	ReceivedTime time.Time `json:"received_time"`
}

func (c *Collection) GetMidquoteWithTimestamps(id symbols.SymbolID) (Midquote, bool) {
	md, ok := c.Get(id)
	if !ok {
		return Midquote{}, false
	}
	mid, ok := md.Midquote()
	if !ok {
		return Midquote{}, false
	}
	return Midquote{Price: mid, ExchangeTime: md.ExchangeTime, ReceivedTime: md.ReceivedTime}, true
}

// Entry is a populated slot.
type Entry struct {
	ID   symbols.SymbolID
	Data models.MarketData
}

// Snapshot copies every populated slot in id order.
func (c *Collection) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for i := range c.data {
		if c.set[i] {
			out = append(out, Entry{ID: symbols.SymbolID(i), Data: c.data[i]})
		}
	}
	return out
}

// Len counts populated slots.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ok := range c.set {
		if ok {
			n++
		}
	}
	return n
}

func inRange(id symbols.SymbolID) bool {
	return id >= 0 && id < symbols.MaxSymbols
}

// AllMarketData owns one collection per configured exchange. The set of
// exchanges is fixed at construction.
type AllMarketData struct {
	collections map[string]*Collection
}

func NewAllMarketData(exchanges ...string) *AllMarketData {
	m := &AllMarketData{collections: make(map[string]*Collection, len(exchanges))}
	for _, name := range exchanges {
		if _, ok := m.collections[name]; !ok {
			m.collections[name] = NewCollection()
		}
	}
	return m
}

// Collection returns the table for exchange.
func (m *AllMarketData) Collection(exchange string) (*Collection, error) {
	c, ok := m.collections[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	return c, nil
}

// Exchanges lists configured exchange names, sorted.
func (m *AllMarketData) Exchanges() []string {
	out := make([]string, 0, len(m.collections))
	for name := range m.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *AllMarketData) Get(exchange string, id symbols.SymbolID) (models.MarketData, bool) {
	c, err := m.Collection(exchange)
	if err != nil {
		return models.MarketData{}, false
	}
	return c.Get(id)
}

func (m *AllMarketData) GetMidquote(exchange string, id symbols.SymbolID) (float64, bool) {
	c, err := m.Collection(exchange)
	if err != nil {
		return 0, false
	}
	return c.GetMidquote(id)
}

func (m *AllMarketData) GetMidquoteWithTimestamps(exchange string, id symbols.SymbolID) (Midquote, bool) {
	c, err := m.Collection(exchange)
	if err != nil {
		return Midquote{}, false
	}
	return c.GetMidquoteWithTimestamps(id)
}

// Resolve maps a native or canonical symbol to an id through the registry.
func Resolve(reg *symbols.Registry, symbol string, it models.InstrumentType) (symbols.SymbolID, bool) {
	if id, ok := reg.Lookup(symbol, it); ok {
		return id, true
	}
	return reg.ID(symbol)
}

// LookupBySymbol is Get keyed by a native symbol.
func (m *AllMarketData) LookupBySymbol(reg *symbols.Registry, exchange, symbol string, it models.InstrumentType) (models.MarketData, bool) {
	id, ok := Resolve(reg, symbol, it)
	if !ok {
		return models.MarketData{}, false
	}
	return m.Get(exchange, id)
}

// LookupMidquote is GetMidquoteWithTimestamps keyed by a native symbol.
func (m *AllMarketData) LookupMidquote(reg *symbols.Registry, exchange, symbol string, it models.InstrumentType) (Midquote, bool) {
	id, ok := Resolve(reg, symbol, it)
	if !ok {
		return Midquote{}, false
	}
	return m.GetMidquoteWithTimestamps(exchange, id)
}
