package aggview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fodb/pkg/model"

	goredis "github.com/go-redis/redis/v8"
)

// RefreshChannel is the pub/sub channel told about every published row
const RefreshChannel = "fodb:agg:refresh"

// RedisPublisher writes refreshed rows to redis so readers outside the
// engine can serve daily aggregates
type RedisPublisher struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisPublisher(client *goredis.Client, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, ttl: ttl}
}

// Key is the redis key of one aggregate, e.g. fodb:agg:7:2019-09-26
func Key(instrumentID int64, day time.Time) string {
	return fmt.Sprintf("fodb:agg:%d:%s", instrumentID, day.Format(model.DayLayout))
}

// Publish writes all rows in a single pipeline
func (p *RedisPublisher) Publish(ctx context.Context, rows []model.DailyAggregate) error {
	if len(rows) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for i := range rows {
		data, err := json.Marshal(&rows[i])
		if err != nil {
			return err
		}
		k := Key(rows[i].InstrumentID, rows[i].TradeDate)
		pipe.Set(ctx, k, data, p.ttl)
		pipe.Publish(ctx, RefreshChannel, k)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis publish %d aggregates: %w", len(rows), err)
	}
	return nil
}
