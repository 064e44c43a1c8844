package index

import (
	"time"

	"fodb/pkg/model"
)

// BlockStat is the timestamp summary of one block of rows
type BlockStat struct {
	Min  int64 // unix micro
	Max  int64
	Rows int
}

// BlockRange keeps min/max timestamps per block of consecutive rows. Rows
// arrive in near timestamp order, so most blocks cover a narrow span and a
// range predicate can skip whole blocks without a full index.
type BlockRange struct {
	size  int
	stats []BlockStat
}

func NewBlockRange(size int) *BlockRange {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &BlockRange{size: size}
}

// Add records the timestamp of the row at pos, positions arrive in order
func (b *BlockRange) Add(pos int, ts time.Time) {
	us := ts.UnixMicro()
	i := pos / b.size
	for len(b.stats) <= i {
		b.stats = append(b.stats, BlockStat{Min: us, Max: us})
	}

	st := &b.stats[i]
	if us < st.Min {
		st.Min = us
	}
	if us > st.Max {
		st.Max = us
	}
	st.Rows++
}

func (b *BlockRange) Snapshot() *BlockRange {
	return &BlockRange{
		size:  b.size,
		stats: append([]BlockStat(nil), b.stats...),
	}
}

func (b *BlockRange) Size() int {
	return b.size
}

func (b *BlockRange) Len() int {
	return len(b.stats)
}

func (b *BlockRange) Stat(i int) BlockStat {
	return b.stats[i]
}

// MayContain reports whether block i can hold a timestamp inside r
func (b *BlockRange) MayContain(i int, r model.TimeRange) bool {
	st := b.stats[i]
	if st.Rows == 0 {
		return false
	}
	return r.Overlaps(time.UnixMicro(st.Min), time.UnixMicro(st.Max))
}

// Span returns the row positions [start, end) of block i
func (b *BlockRange) Span(i int) (start, end int) {
	start = i * b.size
	return start, start + b.stats[i].Rows
}
