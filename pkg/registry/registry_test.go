package registry_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"fodb/pkg/catalog"
	"fodb/pkg/filedb"
	"fodb/pkg/model"
	"fodb/pkg/registry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts ...registry.Option) (r *registry.Registry, fut, opt int64) {
	c, err := catalog.New()
	require.Nil(t, err)
	fut, err = c.ResolveOrCreateInstrument(1, "FUTIDX", "NIFTY", "")
	require.Nil(t, err)
	opt, err = c.ResolveOrCreateInstrument(1, "OPTIDX", "NIFTY", "")
	require.Nil(t, err)

	r, err = registry.New(c, opts...)
	require.Nil(t, err)
	return
}

func TestResolveOrCreate(t *testing.T) {
	r, fut, opt := setup(t)
	expiry := model.MustDay("2019-09-26")

	id, err := r.ResolveOrCreateExpiry(fut, expiry, decimal.Zero, "XX")
	require.Nil(t, err)
	again, err := r.ResolveOrCreateExpiry(fut, expiry, decimal.Zero, "")
	require.Nil(t, err)
	require.Equal(t, id, again)

	ce, err := r.ResolveOrCreateExpiry(opt, expiry, decimal.RequireFromString("11000.00"), "CE")
	require.Nil(t, err)
	same, err := r.ResolveOrCreateExpiry(opt, expiry, decimal.NewFromInt(11000), "ce")
	require.Nil(t, err)
	require.Equal(t, ce, same)

	pe, err := r.ResolveOrCreateExpiry(opt, expiry, decimal.NewFromInt(11000), "PE")
	require.Nil(t, err)
	require.NotEqual(t, ce, pe)

	instrumentID, ok := r.ExpiryInstrument(pe)
	require.True(t, ok)
	require.Equal(t, opt, instrumentID)
	require.Equal(t, 3, r.Len())
}

func TestValidation(t *testing.T) {
	r, fut, opt := setup(t)
	expiry := model.MustDay("2019-09-26")

	_, err := r.ResolveOrCreateExpiry(opt, expiry, decimal.NewFromInt(-100), "CE")
	require.True(t, errors.Is(err, model.ErrConstraintViolation))

	_, err = r.ResolveOrCreateExpiry(opt, expiry, decimal.NewFromInt(11000), "XX")
	require.True(t, errors.Is(err, model.ErrConstraintViolation))

	_, err = r.ResolveOrCreateExpiry(fut, expiry, decimal.Zero, "CE")
	require.True(t, errors.Is(err, model.ErrConstraintViolation))

	_, err = r.ResolveOrCreateExpiry(fut, expiry, decimal.NewFromInt(100), "XX")
	require.True(t, errors.Is(err, model.ErrConstraintViolation))

	_, err = r.ResolveOrCreateExpiry(opt, expiry, decimal.RequireFromString("100.125"), "CE")
	require.True(t, errors.Is(err, model.ErrConstraintViolation))

	_, err = r.ResolveOrCreateExpiry(opt, expiry, decimal.NewFromInt(100), "CX")
	require.True(t, errors.Is(err, model.ErrInvalidEnumeration))

	_, err = r.ResolveOrCreateExpiry(404, expiry, decimal.Zero, "XX")
	require.True(t, errors.Is(err, model.ErrReferenceNotFound))

	require.Equal(t, 0, r.Len())
}

func TestChain(t *testing.T) {
	r, _, opt := setup(t)
	near := model.MustDay("2019-09-26")
	far := model.MustDay("2019-10-31")

	for _, strike := range []int64{11200, 11000, 11100} {
		for _, ot := range []string{"PE", "CE"} {
			_, err := r.ResolveOrCreateExpiry(opt, near, decimal.NewFromInt(strike), ot)
			require.Nil(t, err)
		}
	}
	_, err := r.ResolveOrCreateExpiry(opt, far, decimal.NewFromInt(10000), "CE")
	require.Nil(t, err)

	chain := r.LookupExpiries(opt, near)
	require.Len(t, chain, 6)
	require.Equal(t, "11000", chain[0].StrikePrice.String())
	require.Equal(t, model.Call, chain[0].OptionType)
	require.Equal(t, model.Put, chain[1].OptionType)
	require.Equal(t, "11200", chain[5].StrikePrice.String())

	require.Len(t, r.LookupExpiries(opt, model.MustDay("2019-09-27")), 0)

	day, ok := r.NearestExpiry(opt, model.MustDay("2019-09-01"))
	require.True(t, ok)
	require.Equal(t, near, day)
	day, ok = r.NearestExpiry(opt, model.MustDay("2019-09-27"))
	require.True(t, ok)
	require.Equal(t, far, day)
	_, ok = r.NearestExpiry(opt, model.MustDay("2019-11-01"))
	require.False(t, ok)

	require.Equal(t, 2, len(r.ExpiryDates(opt)))
}

func TestConcurrentResolve(t *testing.T) {
	r, _, opt := setup(t)

	var wg sync.WaitGroup
	ids := make([]int64, 16)
	for n := range ids {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ids[n], _ = r.ResolveOrCreateExpiry(opt, model.MustDay("2019-09-26"), decimal.NewFromInt(11000), "CE")
		}(n)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.Equal(t, 1, r.Len())
}

func TestReplay(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "registry.log")
	fdb, err := filedb.New(fpath)
	require.Nil(t, err)

	r, _, opt := setup(t, registry.WithLog(fdb))
	id, err := r.ResolveOrCreateExpiry(opt, model.MustDay("2019-09-26"), decimal.NewFromInt(11000), "CE")
	require.Nil(t, err)
	require.Nil(t, r.SetActive(id, false))
	require.Nil(t, fdb.Close())

	fdb, err = filedb.New(fpath)
	require.Nil(t, err)
	defer fdb.Close()
	r, _, opt = setup(t, registry.WithLog(fdb))

	e, ok := r.Expiry(id)
	require.True(t, ok)
	require.False(t, e.Active)
	require.Equal(t, model.MustDay("2019-09-26"), e.ExpiryDate)

	again, err := r.ResolveOrCreateExpiry(opt, model.MustDay("2019-09-26"), decimal.NewFromInt(11000), "CE")
	require.Nil(t, err)
	require.Equal(t, id, again)
}
