// Package reader drives venue feeds over long-lived websocket connections and
// writes the quotes they produce into the market data store.
package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"cryptofeeds/models"
)

// ErrInvalidConfig marks failures that retrying cannot fix. A connection that
// sees one shuts down instead of backing off.
var ErrInvalidConfig = errors.New("invalid feed configuration")

// ConfigError wraps err as a configuration failure.
func ConfigError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Message is one websocket data frame.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

func TextMessage(data string) Message {
	return Message{Type: websocket.TextMessage, Data: []byte(data)}
}

// JSONMessage encodes v as a text frame.
func JSONMessage(v interface{}) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: websocket.TextMessage, Data: data}, nil
}

func (m Message) IsText() bool { return m.Type == websocket.TextMessage }

// Conn is the write side of a socket as seen by a feed.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// Send writes msg to conn.
func Send(conn Conn, msg Message) error {
	return conn.WriteMessage(msg.Type, msg.Data)
}

// SendJSON encodes v and writes it as a text frame.
func SendJSON(conn Conn, v interface{}) error {
	msg, err := JSONMessage(v)
	if err != nil {
		return err
	}
	return Send(conn, msg)
}

// Update is a quote for a venue-native symbol.
type Update struct {
	Symbol string
	Data   models.MarketData
}

// Feed is everything venue specific about a market data stream.
type Feed interface {
	// InstrumentType is the asset class served by this feed.
	InstrumentType() models.InstrumentType
	// BuildURL returns the endpoint to dial. An error is a configuration error.
	BuildURL(symbols []string) (string, error)
	// SendSubscription runs the post-connect handshake.
	SendSubscription(conn Conn, symbols []string) error
	// HeartbeatMessage is sent on every heartbeat tick. Nil means a websocket
	// ping is sent instead.
	HeartbeatMessage() *Message
	// ProcessOther handles frames ParseMessage did not turn into a quote.
	ProcessOther(conn Conn, msg Message) error
	// ParseMessage returns nil for frames that carry no quote and an error for
	// malformed frames.
	ParseMessage(msg Message, receivedAt time.Time) (*Update, error)
}

// Preparer is implemented by feeds that need to resolve configuration against
// the venue (REST instrument lists) before the first connection. Errors
// wrapping ErrInvalidConfig stop the connection; others are retried.
type Preparer interface {
	Prepare(ctx context.Context, symbols []string) error
}

// BaseFeed provides the no-op parts of Feed for venues that subscribe in the
// URL and need no application heartbeat.
type BaseFeed struct{}

func (BaseFeed) SendSubscription(Conn, []string) error { return nil }

func (BaseFeed) HeartbeatMessage() *Message { return nil }

func (BaseFeed) ProcessOther(Conn, Message) error { return nil }

// FeedOptions carries per-venue overrides from configuration.
type FeedOptions struct {
	URL             string
	RESTURL         string
	ValidateSymbols bool
	HTTPTimeout     time.Duration
}

// Millis converts a millisecond epoch to time, zero for non-positive input.
func Millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
