package xgrpc_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/model"
	"fodb/pkg/xgrpc"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func serve(t *testing.T, q xgrpc.Querier) *xgrpc.Client {
	lis := bufconn.Listen(1 << 20)
	srv := xgrpc.NewServer(q)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := xgrpc.Dial("bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.Nil(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func ctx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQuery(t *testing.T) {
	e, err := engine.Open(config.Default(t.TempDir()))
	require.Nil(t, err)
	defer e.Close()

	d := model.MustDay("2019-09-20")
	c := decimal.RequireFromString("11500.50")
	_, err = e.LoadOne(model.RawTrade{
		ExchangeCode:   "NSE",
		InstrumentType: "FUTIDX",
		Symbol:         "NIFTY",
		ExpiryDate:     model.MustDay("2019-09-26"),
		TradeDate:      d,
		Open:           c,
		High:           c,
		Low:            c,
		Close:          c,
		Settle:         c,
		Contracts:      42,
		Value:          decimal.RequireFromString("100.25"),
		OpenInterest:   5000,
		Timestamp:      d,
	})
	require.Nil(t, err)

	cli := serve(t, e)

	raw, err := cli.Query(ctx(t), "stats", engine.Params{})
	require.Nil(t, err)
	st := engine.Stats{}
	require.Nil(t, json.Unmarshal(raw, &st))
	require.Equal(t, 1, st.Trades)
	require.Equal(t, int64(42), st.TotalVolume)
	require.True(t, st.TotalValue.Equal(decimal.RequireFromString("100.25")))

	raw, err = cli.Query(ctx(t), "daily_aggregate", engine.Params{Instrument: 1, Date: "2019-09-20"})
	require.Nil(t, err)
	agg := engine.AggregateResult{}
	require.Nil(t, json.Unmarshal(raw, &agg))
	require.Equal(t, int64(42), agg.Volume)
	require.True(t, agg.AvgClose.Equal(c))
}

func TestErrorClasses(t *testing.T) {
	e, err := engine.Open(config.Default(t.TempDir()))
	require.Nil(t, err)
	defer e.Close()

	cli := serve(t, e)

	_, err = cli.Query(ctx(t), "nope", engine.Params{})
	require.ErrorIs(t, err, model.ErrConstraintViolation)
	require.Equal(t, model.ExitConstraint, model.ExitCode(err))

	_, err = cli.Query(ctx(t), "volatility", engine.Params{From: "20-09-2019"})
	require.ErrorIs(t, err, model.ErrConstraintViolation)

	_, err = cli.Query(ctx(t), "daily_aggregate", engine.Params{Instrument: 99, Date: "2019-09-20"})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestHealth(t *testing.T) {
	e, err := engine.Open(config.Default(t.TempDir()))
	require.Nil(t, err)
	defer e.Close()

	cli := serve(t, e)

	res, err := grpc_health_v1.NewHealthClient(cli.Conn()).Check(ctx(t), &grpc_health_v1.HealthCheckRequest{
		Service: xgrpc.QueryServiceName,
	})
	require.Nil(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, res.Status)
}
