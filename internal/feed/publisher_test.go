package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "bourse/internal/common"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_ReportFill(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}

	fill := Fill{
		Ticker:    "ACME",
		Price:     50,
		Quantity:  5,
		Buyer:     "y",
		Seller:    "x",
		BuyOrder:  "b-1",
		SellOrder: "s-1",
		TakerSide: Buy,
		Timestamp: time.Unix(10, 20),
	}
	require.NoError(t, p.ReportFill(fill))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("ACME"), msg.Key)
	assert.True(t, fill.Timestamp.Equal(msg.Time))

	var event FillEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, FillEvent{
		Ticker:    "ACME",
		Price:     50,
		Quantity:  5,
		Buyer:     "y",
		Seller:    "x",
		BuyOrder:  "b-1",
		SellOrder: "s-1",
		Taker:     "buy",
		Timestamp: 10_000_000_020,
	}, event)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{writer: &fakeWriter{err: boom}}
	assert.ErrorIs(t, p.ReportFill(Fill{Ticker: "ACME"}), boom)
}

func TestNewPublisher_Writer(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, "fills")
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "fills", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.False(t, w.Async)
}
