package loader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fodb/pkg/loader"
	"fodb/pkg/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const bhavcopy = `INSTRUMENT,SYMBOL,EXPIRY_DT,STRIKE_PR,OPTION_TYP,OPEN,HIGH,LOW,CLOSE,SETTLE_PR,CONTRACTS,VAL_INLAKH,OPEN_INT,CHG_IN_OI,TIMESTAMP,
FUTIDX,NIFTY,26-Sep-2019,0,XX,10950.05,11020.9,10920,11003.35,11003.35,12345,101234.567,2345678,-12300,20-SEP-2019,
OPTIDX,NIFTY,26-Sep-2019,11000,CE,230,260.5,221.1,245.6,245.6,1500,12.34,234567,100,20-Sep-2019,
OPTIDX,NIFTY,26-Sep-2019,11000,PE,160,170,150.25,156.8,156.8,,,345678,,20-Sep-2019,
OPTIDX,NIFTY,26-Sep-2019,11000,PE,160,abc,150,156.8,156.8,1,1,1,1,20-Sep-2019,
OPTIDX,NIFTY,2019-09-26,11000,PE,160,170,150,156.8,156.8,1,1,1,1,20-Sep-2019,
`

func TestParse(t *testing.T) {
	rows, skipped, err := loader.New("NSE").Parse(strings.NewReader(bhavcopy))
	require.Nil(t, err)
	require.Len(t, rows, 3)
	require.Len(t, skipped, 2)
	require.Equal(t, 5, skipped[0].Line)
	require.Equal(t, 6, skipped[1].Line)
	require.True(t, errors.Is(skipped[0].Err, model.ErrConstraintViolation))

	fut := rows[0]
	require.Equal(t, "NSE", fut.ExchangeCode)
	require.Equal(t, "FUTIDX", fut.InstrumentType)
	require.Equal(t, "XX", fut.OptionType)
	require.Equal(t, model.MustDay("2019-09-26"), fut.ExpiryDate)
	require.Equal(t, model.MustDay("2019-09-20"), fut.TradeDate)
	require.Equal(t, model.MustDay("2019-09-20"), fut.Timestamp)
	require.True(t, fut.StrikePrice.IsZero())
	require.Equal(t, "101234.57", fut.Value.String())
	require.Equal(t, int64(-12300), fut.ChangeInOI)

	ce := rows[1]
	require.True(t, ce.Close.Equal(decimal.RequireFromString("245.60")))
	require.Equal(t, int64(234567), ce.OpenInterest)

	// empty cells are zero
	pe := rows[2]
	require.Equal(t, int64(0), pe.Contracts)
	require.True(t, pe.Value.IsZero())
	require.Equal(t, int64(345678), pe.OpenInterest)
}

func TestExchangeColumn(t *testing.T) {
	csv := "EXCHANGE,INSTRUMENT,SYMBOL,EXPIRY_DT,STRIKE_PR,OPTION_TYP,OPEN,HIGH,LOW,CLOSE,SETTLE_PR,CONTRACTS,VAL_INLAKH,OPEN_INT,CHG_IN_OI,TIMESTAMP\n" +
		"BSE,FUTSTK,INFY,31-Oct-2019,0,,800,810,790,805,805,10,1.5,100,5,01-Oct-2019\n" +
		",FUTSTK,INFY,31-Oct-2019,0,,800,810,790,805,805,10,1.5,100,5,01-Oct-2019\n"

	rows, skipped, err := loader.New("NSE").Parse(strings.NewReader(csv))
	require.Nil(t, err)
	require.Len(t, skipped, 0)
	require.Equal(t, "BSE", rows[0].ExchangeCode)
	require.Equal(t, "NSE", rows[1].ExchangeCode)
	require.Equal(t, "", rows[1].OptionType)
}

func TestReadFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "fo20SEP2019bhav.csv")
	require.Nil(t, os.WriteFile(fpath, []byte(bhavcopy), 0644))

	rows, skipped, err := loader.New("NSE").ReadFile(fpath)
	require.Nil(t, err)
	require.Len(t, rows, 3)
	require.Len(t, skipped, 2)

	_, _, err = loader.New("NSE").ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.NotNil(t, err)
}

func TestBatches(t *testing.T) {
	rows := make([]model.RawTrade, 7)
	sizes := []int{}
	err := loader.Batches(context.Background(), rows, 3, func(ctx context.Context, batch []model.RawTrade) error {
		sizes = append(sizes, len(batch))
		return nil
	})
	require.Nil(t, err)
	require.Equal(t, []int{3, 3, 1}, sizes)

	stop := errors.New("stop")
	calls := 0
	err = loader.Batches(context.Background(), rows, 2, func(ctx context.Context, batch []model.RawTrade) error {
		calls++
		return stop
	})
	require.Equal(t, stop, err)
	require.Equal(t, 1, calls)
}
