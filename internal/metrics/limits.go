package metrics

import (
	"strings"

	"cryptofeeds/logger"
)

// LimitKind classifies a venue rejection.
type LimitKind string

const (
	LimitNone  LimitKind = ""
	LimitRate  LimitKind = "rate_limit"
	LimitIPBan LimitKind = "ip_ban"
)

// DetectLimit inspects an error message from exchange and reports whether it
// signals a rate limit or an IP ban. Wording differs per venue.
func DetectLimit(exchange, msg string) LimitKind {
	m := strings.ToLower(msg)
	var rateLimit, ipBan bool
	switch strings.ToLower(exchange) {
	case "binance":
		rateLimit = strings.Contains(m, "too many requests") || strings.Contains(m, "rate limit")
		ipBan = (strings.Contains(m, "ip") && strings.Contains(m, "ban")) || strings.Contains(m, "418")
	case "okx":
		rateLimit = strings.Contains(m, "too many requests") || strings.Contains(m, "frequency limit")
		ipBan = strings.Contains(m, "ip") && (strings.Contains(m, "blocked") || strings.Contains(m, "ban"))
	case "bybit":
		ipBan = strings.Contains(m, "ip rate limit") || (strings.Contains(m, "ip") && strings.Contains(m, "ban"))
		rateLimit = !ipBan && (strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests") || strings.Contains(m, "too many visits"))
	case "kraken":
		rateLimit = strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests") || strings.Contains(m, "exceeded")
	case "mexc":
		rateLimit = strings.Contains(m, "too many requests") || strings.Contains(m, "frequency") || strings.Contains(m, "rate limit")
		ipBan = strings.Contains(m, "ip") && strings.Contains(m, "ban")
	default:
		rateLimit = strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests")
		ipBan = strings.Contains(m, "ip") && strings.Contains(m, "ban")
	}
	switch {
	case ipBan:
		return LimitIPBan
	case rateLimit:
		return LimitRate
	default:
		return LimitNone
	}
}

// ObserveLimit counts and logs msg when it signals a rate limit or IP ban.
// The exchange is the part of feed before the first underscore.
func ObserveLimit(feed, msg string) LimitKind {
	exchange, _, _ := strings.Cut(feed, "_")
	kind := DetectLimit(exchange, msg)
	if kind == LimitNone {
		return kind
	}
	if limited != nil {
		limited.WithLabelValues(feed, string(kind)).Inc()
	}
	l := logger.GetLogger().WithFeed(feed)
	fields := logger.Fields{"exchange": exchange, "kind": string(kind)}
	l.LogMetric("reader", string(kind), int64(1), "counter", fields)
	if kind == LimitIPBan {
		l.WithFields(fields).Error("ip banned")
	} else {
		l.WithFields(fields).Warn("rate limit exceeded")
	}
	return kind
}
