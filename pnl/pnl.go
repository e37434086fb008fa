// Package pnl turns a trade log and current prices into realized PnL,
// unrealized PnL and equity.
package pnl

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
)

// Round2 rounds half away from zero to cents.
func Round2(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

type lot struct {
	qty float64
	avg float64
}

// RealizedPnL replays trades on its own, booking profit or loss on every
// trade that reduces a position. The result depends on the path, not just
// on the final positions.
func RealizedPnL(trades []ledger.Trade) float64 {
	lots := make(map[string]lot)
	realized := 0.0

	for _, t := range trades {
		l := lots[t.Symbol]
		signed := t.SignedQty()

		if math.Abs(l.qty) < ledger.Epsilon || (l.qty > 0) == (signed > 0) {
			newQty := l.qty + signed
			if newQty != 0 {
				l.avg = (math.Abs(l.qty)*l.avg + t.Qty*t.Price) / math.Abs(newQty)
			}
			l.qty = newQty
			lots[t.Symbol] = l
			continue
		}

		closed := math.Min(t.Qty, math.Abs(l.qty))
		if l.qty > 0 {
			realized += (t.Price - l.avg) * closed
		} else {
			realized += (l.avg - t.Price) * closed
		}

		remaining := l.qty + signed
		switch {
		case math.Abs(remaining) < ledger.Epsilon:
			l = lot{}
		case (remaining > 0) == (l.qty > 0):
			l.qty = remaining
		default:
			l = lot{qty: remaining, avg: t.Price}
		}
		lots[t.Symbol] = l
	}
	return realized
}

// PositionPnL is an open position marked to the current price.
type PositionPnL struct {
	Symbol        string              `json:"symbol"`
	Side          ledger.PositionSide `json:"side"`
	Qty           float64             `json:"qty"`
	EntryPrice    float64             `json:"entry_price"`
	CurrentPrice  float64             `json:"current_price"`
	UnrealizedPnL float64             `json:"unrealized_pnl"`
	PnLPercent    float64             `json:"pnl_percent"`
	PriceSource   market.Source       `json:"price_source"`
}

// UnrealizedPnL marks every open position at the pricer's current quote.
// The total is unrounded; per-position figures are rounded for display.
func UnrealizedPnL(positions map[string]ledger.Position, prices market.Pricer) (float64, []PositionPnL) {
	total := 0.0
	var details []PositionPnL

	for _, p := range ledger.OpenPositions(positions) {
		q := prices.GetPrice(p.Symbol)

		var u, pct float64
		if p.Qty > 0 {
			u = (q.Price - p.AvgEntryPrice) * p.Qty
			if p.AvgEntryPrice > 0 {
				pct = (q.Price - p.AvgEntryPrice) / p.AvgEntryPrice * 100
			}
		} else {
			u = (p.AvgEntryPrice - q.Price) * math.Abs(p.Qty)
			if p.AvgEntryPrice > 0 {
				pct = (p.AvgEntryPrice - q.Price) / p.AvgEntryPrice * 100
			}
		}
		total += u

		details = append(details, PositionPnL{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Qty:           p.Qty,
			EntryPrice:    Round2(p.AvgEntryPrice),
			CurrentPrice:  q.Price,
			UnrealizedPnL: Round2(u),
			PnLPercent:    Round2(pct),
			PriceSource:   q.Source,
		})
	}

	sort.Slice(details, func(i, j int) bool { return details[i].Symbol < details[j].Symbol })
	return total, details
}
