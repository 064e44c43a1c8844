package ingress_test

import (
	"context"
	"testing"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/ingress"
	"fodb/pkg/model"
	"fodb/pkg/xnats"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func row(strike int64, ot string) model.RawTrade {
	day := model.MustDay("2019-09-20")
	c := decimal.RequireFromString("245.60")
	return model.RawTrade{
		ExchangeCode:   "NSE",
		InstrumentType: "OPTIDX",
		Symbol:         "NIFTY",
		ExpiryDate:     model.MustDay("2019-09-26"),
		StrikePrice:    decimal.NewFromInt(strike),
		OptionType:     ot,
		TradeDate:      day,
		Open:           c,
		High:           c,
		Low:            c,
		Close:          c,
		Settle:         c,
		Contracts:      10,
		OpenInterest:   100,
		Timestamp:      day.Add(15 * time.Hour),
	}
}

func newEngine(t *testing.T) *engine.Engine {
	e, err := engine.Open(config.Default(t.TempDir()))
	require.Nil(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestHandle(t *testing.T) {
	e := newEngine(t)
	s := ingress.NewSubscriber(nil, "FODB", "test", e)

	b := xnats.LoadBatch{BatchID: "b1", Exchange: "NSE", Offset: 100, Rows: []model.RawTrade{
		row(11000, "CE"),
		row(11000, "XX"), // futures only
		row(11000, "PE"),
	}}
	data, err := b.Encode()
	require.Nil(t, err)

	res, err := s.Handle(context.Background(), data)
	require.Nil(t, err)
	require.Equal(t, "b1", res.BatchID)
	require.Equal(t, 2, res.Loaded)
	require.Len(t, res.Failed, 1)
	require.Contains(t, res.Failed[0], "row 101")

	// redelivery stores nothing twice
	_, err = s.Handle(context.Background(), data)
	require.Nil(t, err)
	require.Equal(t, 2, e.Store.Len())

	_, err = s.Handle(context.Background(), []byte("not json"))
	require.ErrorIs(t, err, model.ErrConstraintViolation)
}

func TestResolveURL(t *testing.T) {
	c := config.Default(t.TempDir())
	require.Equal(t, nats.DefaultURL, ingress.ResolveURL(c))

	c.Nats.Url = "nats://10.0.0.1:4222"
	require.Equal(t, "nats://10.0.0.1:4222", ingress.ResolveURL(c))
}

func TestPublishSubscribe(t *testing.T) {
	nc, js, err := ingress.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("no nats server at %s", nats.DefaultURL)
	}
	defer nc.Close()

	stream := "FODBTEST" + time.Now().Format("150405")
	require.Nil(t, ingress.EnsureStream(js, stream, "engine"))
	defer js.DeleteStream(stream)

	n, err := ingress.NewPublisher(js, stream).Publish(context.Background(), "test.csv", []model.RawTrade{row(11000, "CE"), row(11500, "CE"), row(11000, "PE")}, 2)
	require.Nil(t, err)
	require.Equal(t, 2, n)

	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- ingress.NewSubscriber(js, stream, "engine", e).Run(ctx) }()

	require.Eventually(t, func() bool { return e.Store.Len() == 3 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.Nil(t, <-done)
}
