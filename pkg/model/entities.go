package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits monetary columns keep
const MoneyScale = 2

// HasMoneyScale reports whether d fits in MoneyScale fractional digits
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// Exchange model, seeded once and never deleted
type Exchange struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	Code    ExchangeCode `json:"code" gorm:"omitempty; not null; type:varchar(8); uniqueIndex;"`
	Name    string       `json:"name" gorm:"omitempty; not null; default:''; type:varchar(64);"`
	Country string       `json:"country" gorm:"omitempty; not null; default:''; type:varchar(32);"`
	Active  bool         `json:"active" gorm:"omitempty; not null; default:1;"`
}

// Instrument model, unique on (exchange, type, symbol)
type Instrument struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	ExchangeID int64          `json:"exchangeID" gorm:"omitempty; not null; default:0; uniqueIndex:idx_i_exchange_type_symbol;"`
	Type       InstrumentType `json:"type" gorm:"omitempty; not null; type:varchar(8); uniqueIndex:idx_i_exchange_type_symbol;"`
	Symbol     string         `json:"symbol" gorm:"omitempty; not null; type:varchar(32); uniqueIndex:idx_i_exchange_type_symbol;"`
	Series     Series         `json:"series" gorm:"omitempty; not null; type:varchar(4);"`
}

// Expiry model, one row per real-world contract specification
type Expiry struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	InstrumentID int64           `json:"instrumentID" gorm:"omitempty; not null; default:0; uniqueIndex:idx_e_contract;"`
	ExpiryDate   time.Time       `json:"expiryDate" gorm:"omitempty; not null; type:date; uniqueIndex:idx_e_contract;"`
	StrikePrice  decimal.Decimal `json:"strikePrice" gorm:"omitempty; not null; default:0; type:decimal(12,2); uniqueIndex:idx_e_contract;"`
	OptionType   OptionType      `json:"optionType" gorm:"omitempty; not null; type:varchar(2); uniqueIndex:idx_e_contract;"`
	Active       bool            `json:"active" gorm:"omitempty; not null; default:1;"`
}

// Trade model, one daily record of a contract. The field order is the
// column order of partition archives.
type Trade struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey; autoIncrement:false;"`

	ExpiryID     int64     `json:"expiryID" gorm:"omitempty; not null; default:0; index;"`
	InstrumentID int64     `json:"instrumentID" gorm:"omitempty; not null; default:0; index:,composite:instrument_date;"`
	TradeDate    time.Time `json:"tradeDate" gorm:"omitempty; not null; type:date; index:,composite:instrument_date; index;"`

	Open   decimal.Decimal `json:"open" gorm:"omitempty; not null; default:0; type:decimal(12,2);"`
	High   decimal.Decimal `json:"high" gorm:"omitempty; not null; default:0; type:decimal(12,2);"`
	Low    decimal.Decimal `json:"low" gorm:"omitempty; not null; default:0; type:decimal(12,2);"`
	Close  decimal.Decimal `json:"close" gorm:"omitempty; not null; default:0; type:decimal(12,2);"`
	Settle decimal.Decimal `json:"settle" gorm:"omitempty; not null; default:0; type:decimal(12,2);"`

	Contracts    int64           `json:"contracts" gorm:"omitempty; not null; default:0;"`
	Value        decimal.Decimal `json:"value" gorm:"omitempty; not null; default:0; type:decimal(15,2);"` // in lakh
	OpenInterest int64           `json:"openInterest" gorm:"omitempty; not null; default:0;"`
	ChangeInOI   int64           `json:"changeInOI" gorm:"omitempty; not null; default:0;"`

	Timestamp time.Time `json:"timestamp" gorm:"omitempty; not null;"`
}

// Range is high - low
func (t *Trade) Range() decimal.Decimal {
	return t.High.Sub(t.Low)
}

// DailyAggregate is the derived per instrument and day summary
type DailyAggregate struct {
	InstrumentID int64     `json:"instrumentID"`
	TradeDate    time.Time `json:"tradeDate"`

	Volume      int64           `json:"volume"`
	Value       decimal.Decimal `json:"value"`
	AvgClose    decimal.Decimal `json:"avgClose"`
	HighClose   decimal.Decimal `json:"highClose"`
	LowClose    decimal.Decimal `json:"lowClose"`
	TotalOI     int64           `json:"totalOI"`
	NetOIChange int64           `json:"netOIChange"`
	Rows        int64           `json:"rows"`
}

// RawTrade is one record handed over by a loader, before any id is resolved
type RawTrade struct {
	ExchangeCode   string          `json:"exchange"`
	InstrumentType string          `json:"instrument"`
	Symbol         string          `json:"symbol"`
	Series         string          `json:"series,omitempty"`
	ExpiryDate     time.Time       `json:"expiryDate"`
	StrikePrice    decimal.Decimal `json:"strikePrice"`
	OptionType     string          `json:"optionType"`
	TradeDate      time.Time       `json:"tradeDate"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	Settle         decimal.Decimal `json:"settle"`
	Contracts      int64           `json:"contracts"`
	Value          decimal.Decimal `json:"value"`
	OpenInterest   int64           `json:"openInterest"`
	ChangeInOI     int64           `json:"changeInOI"`
	Timestamp      time.Time       `json:"timestamp"`
}
