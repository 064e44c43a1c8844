package model

import (
	"fmt"
	"strings"
)

// ExchangeCode is one of the fixed set of exchanges the catalog accepts
type ExchangeCode string

const (
	ExchangeNSE ExchangeCode = "NSE"
	ExchangeBSE ExchangeCode = "BSE"
	ExchangeMCX ExchangeCode = "MCX"
)

// ExchangeSeeds are created once when a catalog is initialized, in this order
var ExchangeSeeds = []Exchange{
	{Code: ExchangeNSE, Name: "National Stock Exchange of India", Country: "India", Active: true},
	{Code: ExchangeBSE, Name: "Bombay Stock Exchange", Country: "India", Active: true},
	{Code: ExchangeMCX, Name: "Multi Commodity Exchange of India", Country: "India", Active: true},
}

func ParseExchangeCode(s string) (ExchangeCode, error) {
	code := ExchangeCode(strings.ToUpper(strings.TrimSpace(s)))
	switch code {
	case ExchangeNSE, ExchangeBSE, ExchangeMCX:
		return code, nil
	}
	return "", fmt.Errorf("%w: exchange code %q", ErrInvalidEnumeration, s)
}

// InstrumentType follows the exchange bhavcopy naming
type InstrumentType string

const (
	IndexFuture InstrumentType = "FUTIDX"
	IndexOption InstrumentType = "OPTIDX"
	StockFuture InstrumentType = "FUTSTK"
	StockOption InstrumentType = "OPTSTK"
)

func ParseInstrumentType(s string) (InstrumentType, error) {
	typ := InstrumentType(strings.ToUpper(strings.TrimSpace(s)))
	switch typ {
	case IndexFuture, IndexOption, StockFuture, StockOption:
		return typ, nil
	}
	return "", fmt.Errorf("%w: instrument type %q", ErrInvalidEnumeration, s)
}

func (t InstrumentType) IsOption() bool {
	return t == IndexOption || t == StockOption
}

// Series is FUT for futures and OPT for options
func (t InstrumentType) Series() Series {
	if t.IsOption() {
		return SeriesOption
	}
	return SeriesFuture
}

type Series string

const (
	SeriesFuture Series = "FUT"
	SeriesOption Series = "OPT"
)

func ParseSeries(s string) (Series, error) {
	series := Series(strings.ToUpper(strings.TrimSpace(s)))
	switch series {
	case SeriesFuture, SeriesOption:
		return series, nil
	}
	return "", fmt.Errorf("%w: series %q", ErrInvalidEnumeration, s)
}

// OptionType is CE (call), PE (put) or XX for futures
type OptionType string

const (
	Call       OptionType = "CE"
	Put        OptionType = "PE"
	NoneOption OptionType = "XX"
)

// ParseOptionType maps the empty string to XX like the exchange files do
func ParseOptionType(s string) (OptionType, error) {
	ot := OptionType(strings.ToUpper(strings.TrimSpace(s)))
	switch ot {
	case "":
		return NoneOption, nil
	case Call, Put, NoneOption:
		return ot, nil
	}
	return "", fmt.Errorf("%w: option type %q", ErrInvalidEnumeration, s)
}

func (o OptionType) IsOption() bool {
	return o == Call || o == Put
}
