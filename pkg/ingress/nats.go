// Package ingress carries load batches over NATS JetStream, from loaders to
// the engine.
package ingress

import (
	"context"
	"fmt"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/engine"
	"fodb/pkg/model"
	"fodb/pkg/xetcd"
	"fodb/pkg/xlog"
	"fodb/pkg/xnats"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

var logger = xlog.Named("ingress")

// ResolveURL returns the NATS url registered in etcd, the configured one otherwise
func ResolveURL(c *config.Config) string {
	url := xetcd.GetOr(xetcd.KeyNatsService(c.Nats.Stream), c.Nats.Url)
	if url == "" {
		url = nats.DefaultURL
	}
	return url
}

func Connect(url string) (nc *nats.Conn, js nats.JetStreamContext, err error) {
	nc, err = nats.Connect(url)
	if err != nil {
		return
	}

	js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return
}

// EnsureStream creates the stream holding the load subjects and the durable
// consumer the engine reads it with, when they do not exist yet
func EnsureStream(js nats.JetStreamContext, stream, durable string) (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("EnsureStream %s failed with err:%s", stream, err)
		}
	}()

	if _, err = js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{xnats.SubjectsLoad(stream)},
		})
		if err != nil {
			return
		}
		logger.Infof("stream %s created", stream)
	}

	if durable == "" {
		return
	}
	if _, err = js.ConsumerInfo(stream, durable); err != nil {
		_, err = js.AddConsumer(stream, &nats.ConsumerConfig{
			Durable:        durable,
			DeliverSubject: nats.NewInbox(),
			AckPolicy:      nats.AckExplicitPolicy,
			FilterSubject:  xnats.SubjectsLoad(stream),
		})
		if err != nil {
			return
		}
		logger.Infof("consumer %s created on %s", durable, stream)
	}
	return
}

type Publisher struct {
	js     nats.JetStreamContext
	stream string
}

func NewPublisher(js nats.JetStreamContext, stream string) *Publisher {
	return &Publisher{js: js, stream: stream}
}

// Publish sends rows in batches of batchSize. The subject of a batch is
// the exchange of its first row, the engine still reads every row's own
// exchange. Each batch id is its message id, so JetStream drops duplicates.
func (p *Publisher) Publish(ctx context.Context, source string, rows []model.RawTrade, batchSize int) (batches int, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("Publish %s failed with err:%s after %d batches", source, err, batches)
		}
	}()

	if batchSize <= 0 {
		batchSize = len(rows)
	}
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		b := xnats.LoadBatch{
			BatchID:  uuid.NewString(),
			Exchange: rows[start].ExchangeCode,
			Source:   source,
			Offset:   start,
			Rows:     rows[start:end],
			Time:     time.Now().UnixNano(),
		}
		var data []byte
		data, err = b.Encode()
		if err != nil {
			return
		}
		_, err = p.js.Publish(xnats.SubjectLoad(p.stream, b.Exchange), data, nats.Context(ctx), nats.MsgId(b.BatchID))
		if err != nil {
			return
		}
		batches++
	}

	logger.Infof("%s published, %d rows in %d batches", source, len(rows), batches)
	return
}

// Loader is the engine side of a batch
type Loader interface {
	Load(ctx context.Context, rows []model.RawTrade) (engine.LoadReport, error)
}

type Subscriber struct {
	js      nats.JetStreamContext
	stream  string
	durable string
	loader  Loader
}

func NewSubscriber(js nats.JetStreamContext, stream, durable string, loader Loader) *Subscriber {
	return &Subscriber{js: js, stream: stream, durable: durable, loader: loader}
}

// Handle loads one batch. Rows rejected for constraint or reference reasons
// are only reported, a storage failure returns an error so the batch is
// delivered again. Redelivered rows that were stored already resolve to
// their stored ids.
func (s *Subscriber) Handle(ctx context.Context, data []byte) (res xnats.LoadResult, err error) {
	b, err := xnats.DecodeLoadBatch(data)
	if err != nil {
		return
	}
	res.BatchID = b.BatchID

	rep, err := s.loader.Load(ctx, b.Rows)
	res.Loaded = rep.Loaded
	for _, f := range rep.Failed {
		res.Failed = append(res.Failed, fmt.Sprintf("row %d: %s", b.Offset+f.Row, f.Err))
	}
	if err != nil {
		return
	}

	for _, f := range rep.Failed {
		if model.IsRetryable(f.Err) {
			return res, f
		}
	}
	return
}

// Run consumes batches until ctx is done
func (s *Subscriber) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("Subscriber.Run failed with err:%s", err)
		}
	}()

	err = EnsureStream(s.js, s.stream, s.durable)
	if err != nil {
		return
	}

	ch := make(chan *nats.Msg, 256)
	sub, err := s.js.ChanSubscribe(xnats.SubjectsLoad(s.stream), ch, nats.Bind(s.stream, s.durable), nats.ManualAck())
	if err != nil {
		return
	}
	defer sub.Unsubscribe()

	logger.Infof("consuming %s as %s", xnats.SubjectsLoad(s.stream), s.durable)
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-ch:
			s.ack(ctx, m)
		}
	}
}

func (s *Subscriber) ack(ctx context.Context, m *nats.Msg) {
	res, err := s.Handle(ctx, m.Data)
	switch {
	case err == nil:
		if len(res.Failed) > 0 {
			logger.Warningf("batch %s loaded %d rows, %d rejected: %v", res.BatchID, res.Loaded, len(res.Failed), res.Failed)
		} else {
			logger.Debugf("batch %s loaded %d rows", res.BatchID, res.Loaded)
		}
		err = m.Ack()
	case model.IsRetryable(err) || ctx.Err() != nil:
		logger.Errorf("batch %s will be redelivered, err:%s", res.BatchID, err)
		err = m.Nak()
	default:
		logger.Errorf("batch %s dropped, err:%s", res.BatchID, err)
		err = m.Term()
	}
	if err != nil {
		logger.Errorf("ack %s failed with err:%s", m.Subject, err)
	}
}
