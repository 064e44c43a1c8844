package engine

import (
	"time"

	"fodb/pkg/model"
	"fodb/pkg/tradestore"

	"github.com/shopspring/decimal"
)

// Stats summarizes the whole store
type Stats struct {
	Trades      int             `json:"trades"`
	Instruments int             `json:"instruments"`
	Expiries    int             `json:"expiries"`
	Exchanges   int             `json:"exchanges"`
	Partitions  int             `json:"partitions"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	TotalVolume int64           `json:"totalVolume"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	StaleKeys   int             `json:"staleKeys"`
}

func (e *Engine) Stats() (st Stats, err error) {
	defer e.Metrics.Since("stats", time.Now())

	st.Exchanges, st.Instruments = e.Catalog.Counts()
	st.Expiries = e.Registry.Len()
	st.Partitions = len(e.Store.Partitions())
	st.StaleKeys = e.View.Stale()

	_, err = e.scan(tradestore.Filter{}, func(t *model.Trade) {
		if st.Trades == 0 || t.TradeDate.Before(st.From) {
			st.From = t.TradeDate
		}
		if st.Trades == 0 || t.TradeDate.After(st.To) {
			st.To = t.TradeDate
		}
		st.Trades++
		st.TotalVolume += t.Contracts
		st.TotalValue = st.TotalValue.Add(t.Value)
	})
	return
}
