package index

import (
	"fodb/pkg/model"

	"github.com/shopspring/decimal"
)

// CheckTrade enforces the value constraints of a stored trade. It expects
// TradeDate and Timestamp already normalized to UTC.
func CheckTrade(t *model.Trade) error {
	if t.ExpiryID <= 0 || t.InstrumentID <= 0 {
		return model.Violation("trade without expiry or instrument")
	}
	return CheckValues(t)
}

// CheckValues is CheckTrade without the references, it holds for a trade
// whose parents are not resolved yet
func CheckValues(t *model.Trade) error {
	if t.TradeDate.IsZero() {
		return model.Violation("empty trade date")
	}

	prices := []struct {
		name string
		v    decimal.Decimal
	}{
		{"open", t.Open}, {"high", t.High}, {"low", t.Low},
		{"close", t.Close}, {"settle", t.Settle}, {"value", t.Value},
	}
	for _, p := range prices {
		if p.v.IsNegative() {
			return model.Violation("negative %s %s", p.name, p.v)
		}
		if !model.HasMoneyScale(p.v) {
			return model.Violation("%s %s has more than %d decimals", p.name, p.v, model.MoneyScale)
		}
	}

	if t.High.LessThan(t.Open) || t.High.LessThan(t.Close) || t.High.LessThan(t.Low) {
		return model.Violation("high %s below open %s, low %s or close %s", t.High, t.Open, t.Low, t.Close)
	}
	if t.Low.GreaterThan(t.Open) || t.Low.GreaterThan(t.Close) {
		return model.Violation("low %s above open %s or close %s", t.Low, t.Open, t.Close)
	}

	if t.Contracts < 0 {
		return model.Violation("negative contracts %d", t.Contracts)
	}
	if t.OpenInterest < 0 {
		return model.Violation("negative open interest %d", t.OpenInterest)
	}

	if t.Timestamp.IsZero() {
		return model.Violation("empty timestamp")
	}
	if model.Day(t.Timestamp).Before(t.TradeDate) {
		return model.Violation("timestamp %s before trade date %s", t.Timestamp.Format("2006-01-02T15:04:05"), t.TradeDate.Format(model.DayLayout))
	}
	return nil
}
