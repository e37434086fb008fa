// market/instruments.go
package market

// Feed names understood by the feed router.
const (
	FeedNone    = ""
	FeedOanda   = "oanda"
	FeedPolygon = "polygon"
)

// DefaultBasePrice anchors synthetic quotes for symbols missing from the
// instrument table.
const DefaultBasePrice = 100.0

type Instrument struct {
	Symbol     string  `yaml:"symbol" json:"symbol"`
	Class      string  `yaml:"class" json:"class"`
	BasePrice  float64 `yaml:"base_price" json:"base_price"`
	Feed       string  `yaml:"feed,omitempty" json:"feed,omitempty"`
	FeedSymbol string  `yaml:"feed_symbol,omitempty" json:"feed_symbol,omitempty"`
}

// Instruments is the default instrument table.
var Instruments = map[string]Instrument{
	"BTC-USD": {Symbol: "BTC-USD", Class: "crypto", BasePrice: 45000},
	"ETH-USD": {Symbol: "ETH-USD", Class: "crypto", BasePrice: 2500},
	"AAPL":    {Symbol: "AAPL", Class: "equity", BasePrice: 185, Feed: FeedPolygon},
	"TSLA":    {Symbol: "TSLA", Class: "equity", BasePrice: 250, Feed: FeedPolygon},
	"GOLD":    {Symbol: "GOLD", Class: "commodity", BasePrice: 2050, Feed: FeedOanda, FeedSymbol: "XAU_USD"},
	"IAM":     {Symbol: "IAM", Class: "equity", BasePrice: 130},
	"ATW":     {Symbol: "ATW", Class: "equity", BasePrice: 480},
	"BCP":     {Symbol: "BCP", Class: "equity", BasePrice: 290},
	"EUR_USD": {Symbol: "EUR_USD", Class: "fx", BasePrice: 1.08, Feed: FeedOanda},
	"USD_JPY": {Symbol: "USD_JPY", Class: "fx", BasePrice: 150, Feed: FeedOanda},
}

// DefaultWatchlist is refreshed by the background loop.
var DefaultWatchlist = []string{"BTC-USD", "AAPL", "TSLA", "IAM", "ATW", "ETH-USD", "GOLD"}

// InstrumentTable resolves symbols against a set of instruments.
type InstrumentTable map[string]Instrument

// Lookup returns the instrument for symbol, or a synthetic-only entry
// anchored at DefaultBasePrice.
func (t InstrumentTable) Lookup(symbol string) Instrument {
	if in, ok := t[symbol]; ok {
		if in.Symbol == "" {
			in.Symbol = symbol
		}
		if in.BasePrice <= 0 {
			in.BasePrice = DefaultBasePrice
		}
		return in
	}
	return Instrument{Symbol: symbol, BasePrice: DefaultBasePrice}
}

// RemoteSymbol is the symbol the instrument's feed knows it by.
func (in Instrument) RemoteSymbol() string {
	if in.FeedSymbol != "" {
		return in.FeedSymbol
	}
	return in.Symbol
}

// Merge returns a copy of t overlaid with extra.
func (t InstrumentTable) Merge(extra map[string]Instrument) InstrumentTable {
	out := make(InstrumentTable, len(t)+len(extra))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range extra {
		if v.Symbol == "" {
			v.Symbol = k
		}
		out[k] = v
	}
	return out
}
