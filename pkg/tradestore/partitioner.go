package tradestore

import (
	"fmt"
	"strings"
	"time"

	"fodb/pkg/model"
)

// PartitionKey is the half-open date range [Start, End) of one partition
type PartitionKey struct {
	Name  string
	Start time.Time
	End   time.Time
}

func (k PartitionKey) Contains(day time.Time) bool {
	return !day.Before(k.Start) && day.Before(k.End)
}

// Partitioner maps a trade date to the partition owning it
type Partitioner interface {
	Key(day time.Time) PartitionKey
	Granularity() string
}

const (
	GranularityMonth = "month"
	GranularityWeek  = "week"
	GranularityDay   = "day"
)

// NewPartitioner returns the partitioner of a granularity, month when empty
func NewPartitioner(granularity string) (Partitioner, error) {
	switch strings.ToLower(strings.TrimSpace(granularity)) {
	case "", GranularityMonth, "monthly":
		return Monthly{}, nil
	case GranularityWeek, "weekly":
		return Weekly{}, nil
	case GranularityDay, "daily":
		return Daily{}, nil
	}
	return nil, fmt.Errorf("%w: partition granularity %q", model.ErrInvalidEnumeration, granularity)
}

// Monthly partitions by calendar month, e.g. 2019_09
type Monthly struct{}

func (Monthly) Granularity() string { return GranularityMonth }

func (Monthly) Key(day time.Time) PartitionKey {
	day = model.Day(day)
	start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	return PartitionKey{
		Name:  start.Format("2006_01"),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// Weekly partitions by ISO week starting on Monday, e.g. 2019_w36
type Weekly struct{}

func (Weekly) Granularity() string { return GranularityWeek }

func (Weekly) Key(day time.Time) PartitionKey {
	day = model.Day(day)
	offset := (int(day.Weekday()) + 6) % 7 // days since monday
	start := day.AddDate(0, 0, -offset)
	year, week := start.ISOWeek()
	return PartitionKey{
		Name:  fmt.Sprintf("%d_w%02d", year, week),
		Start: start,
		End:   start.AddDate(0, 0, 7),
	}
}

// Daily partitions by day, e.g. 2019_09_26
type Daily struct{}

func (Daily) Granularity() string { return GranularityDay }

func (Daily) Key(day time.Time) PartitionKey {
	day = model.Day(day)
	return PartitionKey{
		Name:  day.Format("2006_01_02"),
		Start: day,
		End:   day.AddDate(0, 0, 1),
	}
}
