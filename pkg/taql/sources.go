package taql

import "sort"

// Canonical source and field schema shared by the normalizer, type checker,
// and requirement collection.

// DefaultSource is the source attributed to bare field references and to
// call nodes without an explicit input expression.
const DefaultSource = "ohlcv"

// fieldAliases maps shorthand field names onto their canonical form.
// "price" is the generic alias the normalizer resolves to close.
var fieldAliases = map[string]string{
	"price": "close",
	"o":     "open",
	"h":     "high",
	"l":     "low",
	"c":     "close",
	"v":     "volume",
}

// CanonicalField resolves a field alias to its canonical name.
func CanonicalField(field string) string {
	if canonical, ok := fieldAliases[field]; ok {
		return canonical
	}
	return field
}

var sourceFields = map[string]map[string]struct{}{
	"ohlcv": setOf(
		"open", "high", "low", "close", "volume",
		"hlc3", "ohlc4", "hl2", "typical_price", "weighted_close",
		"median_price", "range", "upper_wick", "lower_wick",
	),
	"trades": setOf(
		"price", "volume", "count", "buy_volume", "sell_volume",
		"large_count", "whale_count", "avg_price", "vwap", "amount",
		"side", "id", "timestamp",
	),
	"orderbook": setOf(
		"best_bid", "best_ask", "spread", "spread_bps", "mid_price",
		"bid_depth", "ask_depth", "imbalance", "pressure",
		"bid", "ask", "bid_size", "ask_size",
	),
	"liquidation": setOf(
		"count", "volume", "value", "long_count", "short_count",
		"long_value", "short_value", "large_count", "large_value",
		"price", "amount", "side", "id", "timestamp",
	),
}

func setOf(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// KnownSource reports whether a source name is part of the schema.
func KnownSource(source string) bool {
	_, ok := sourceFields[source]
	return ok
}

// ValidSourceField reports whether a field exists for a source. Unknown
// sources validate nothing; the dataset decides at evaluation time.
func ValidSourceField(source, field string) bool {
	fields, ok := sourceFields[source]
	if !ok {
		return true
	}
	if field == "" {
		return true
	}
	_, ok = fields[field]
	return ok
}

// SourceFieldNames returns the sorted field names of a known source.
func SourceFieldNames(source string) []string {
	fields, ok := sourceFields[source]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}
