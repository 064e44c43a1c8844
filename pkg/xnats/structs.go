// Package xnats holds the messages exchanged over NATS JetStream.
package xnats

import (
	"encoding/json"
	"fmt"
	"strings"

	"fodb/pkg/model"
)

// LoadBatch carries raw trades from a loader to the engine
type LoadBatch struct {
	BatchID  string           `json:"batchID"`  // uuid, repeated on redelivery
	Exchange string           `json:"exchange"` // exchange code, also the subject suffix
	Source   string           `json:"source"`   // file the rows were read from
	Offset   int              `json:"offset"`   // index of the first row inside the source
	Rows     []model.RawTrade `json:"rows"`
	Time     int64            `json:"time"` // creation time, in nanoseconds
}

// LoadResult is logged by the subscriber for every batch it applied
type LoadResult struct {
	BatchID string   `json:"batchID"`
	Loaded  int      `json:"loaded"`
	Failed  []string `json:"failed,omitempty"` // "row N: cause", N counted from Offset
}

const subjectLoad = "LOAD"

// SubjectLoad is the subject of the batches of one exchange, e.g. FODB.LOAD.NSE
func SubjectLoad(stream, exchange string) string {
	return fmt.Sprintf("%s.%s.%s", strings.ToUpper(stream), subjectLoad, strings.ToUpper(exchange))
}

// SubjectsLoad matches the batches of every exchange
func SubjectsLoad(stream string) string {
	return fmt.Sprintf("%s.%s.*", strings.ToUpper(stream), subjectLoad)
}

func (b *LoadBatch) Encode() ([]byte, error) {
	return json.Marshal(b)
}

func DecodeLoadBatch(data []byte) (b *LoadBatch, err error) {
	b = new(LoadBatch)
	err = json.Unmarshal(data, b)
	if err != nil {
		return nil, fmt.Errorf("%w: load batch: %v", model.ErrConstraintViolation, err)
	}
	return
}
