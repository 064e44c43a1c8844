package xnats_test

import (
	"testing"
	"time"

	"fodb/pkg/model"
	"fodb/pkg/xnats"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSubjects(t *testing.T) {
	require.Equal(t, "FODB.LOAD.NSE", xnats.SubjectLoad("fodb", "nse"))
	require.Equal(t, "FODB.LOAD.*", xnats.SubjectsLoad("FODB"))
}

func TestLoadBatch(t *testing.T) {
	day := model.MustDay("2019-09-20")
	b := xnats.LoadBatch{
		BatchID:  "b1",
		Exchange: "NSE",
		Offset:   500,
		Rows: []model.RawTrade{{
			ExchangeCode:   "NSE",
			InstrumentType: "OPTIDX",
			Symbol:         "NIFTY",
			ExpiryDate:     model.MustDay("2019-09-26"),
			StrikePrice:    decimal.NewFromInt(11000),
			OptionType:     "CE",
			TradeDate:      day,
			Close:          decimal.RequireFromString("245.60"),
			OpenInterest:   234567,
			Timestamp:      day.Add(15 * time.Hour),
		}},
	}
	data, err := b.Encode()
	require.Nil(t, err)

	got, err := xnats.DecodeLoadBatch(data)
	require.Nil(t, err)
	require.Equal(t, 500, got.Offset)
	require.Len(t, got.Rows, 1)
	require.True(t, got.Rows[0].Close.Equal(b.Rows[0].Close))
	require.True(t, got.Rows[0].Timestamp.Equal(b.Rows[0].Timestamp))

	_, err = xnats.DecodeLoadBatch([]byte("{"))
	require.ErrorIs(t, err, model.ErrConstraintViolation)
}

func TestCreateStream(t *testing.T) {
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("no nats server at %s", nats.DefaultURL)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	require.Nil(t, err)

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "FODBTEST",
		Subjects: []string{xnats.SubjectsLoad("FODBTEST")},
	})
	require.Nil(t, err)
	require.Nil(t, js.DeleteStream("FODBTEST"))
}
