package model_test

import (
	"errors"
	"fmt"
	"testing"

	"fodb/pkg/model"

	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	require.Equal(t, model.ExitOK, model.ExitCode(nil))
	require.Equal(t, model.ExitConstraint, model.ExitCode(model.Violation("high %s < low %s", "1", "2")))
	require.Equal(t, model.ExitConstraint, model.ExitCode(fmt.Errorf("row 3: %w", model.ErrInvalidEnumeration)))
	require.Equal(t, model.ExitConstraint, model.ExitCode(model.ErrReferenceNotFound))
	require.Equal(t, model.ExitStorage, model.ExitCode(model.Unavailable("write", errors.New("disk full"))))
	require.Equal(t, model.ExitFailure, model.ExitCode(errors.New("boom")))

	require.True(t, model.IsRetryable(model.Unavailable("append", errors.New("eio"))))
	require.False(t, model.IsRetryable(model.ErrConstraintViolation))
}

func TestEnums(t *testing.T) {
	code, err := model.ParseExchangeCode(" nse")
	require.Nil(t, err)
	require.Equal(t, model.ExchangeNSE, code)

	_, err = model.ParseExchangeCode("LSE")
	require.True(t, errors.Is(err, model.ErrInvalidEnumeration))
	require.True(t, errors.Is(err, model.ErrConstraintViolation))

	typ, err := model.ParseInstrumentType("optidx")
	require.Nil(t, err)
	require.True(t, typ.IsOption())
	require.Equal(t, model.SeriesOption, typ.Series())
	require.Equal(t, model.SeriesFuture, model.StockFuture.Series())

	ot, err := model.ParseOptionType("")
	require.Nil(t, err)
	require.Equal(t, model.NoneOption, ot)
	require.False(t, ot.IsOption())

	_, err = model.ParseOptionType("CA")
	require.True(t, errors.Is(err, model.ErrInvalidEnumeration))

	_, err = model.ParseSeries("SPOT")
	require.NotNil(t, err)
}

func TestDateRange(t *testing.T) {
	r := model.NewDateRange(model.MustDay("2019-09-01"), model.MustDay("2019-09-30"))
	require.True(t, r.Valid())
	require.True(t, r.Contains(model.MustDay("2019-09-30")))
	require.False(t, r.Contains(model.MustDay("2019-10-01")))

	require.True(t, r.Overlaps(model.MustDay("2019-08-01"), model.MustDay("2019-09-02")))
	require.False(t, r.Overlaps(model.MustDay("2019-08-01"), model.MustDay("2019-09-01")))
	require.True(t, r.Covers(model.MustDay("2019-09-01"), model.MustDay("2019-10-01")))
	require.False(t, r.Covers(model.MustDay("2019-09-01"), model.MustDay("2019-10-02")))

	require.True(t, model.AllDates().Contains(model.MustDay("1999-01-01")))
	require.True(t, model.Since(model.MustDay("2019-09-15")).Covers(model.MustDay("2019-10-01"), model.MustDay("2019-11-01")))
	require.False(t, model.NewDateRange(model.MustDay("2019-09-02"), model.MustDay("2019-09-01")).Valid())
	require.Equal(t, "[2019-09-01, +inf]", model.Since(model.MustDay("2019-09-01")).String())
}
