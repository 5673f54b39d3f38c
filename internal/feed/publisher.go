package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	. "bourse/internal/common"
)

const writeTimeout = 5 * time.Second

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FillEvent is the wire form of a fill on the feed.
type FillEvent struct {
	Ticker    string `json:"ticker"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	BuyOrder  string `json:"buy_order"`
	SellOrder string `json:"sell_order"`
	Taker     string `json:"taker_side"`
	Timestamp int64  `json:"timestamp"` // Unix nanoseconds
}

func newFillEvent(fill Fill) FillEvent {
	return FillEvent{
		Ticker:    fill.Ticker,
		Price:     fill.Price,
		Quantity:  fill.Quantity,
		Buyer:     fill.Buyer,
		Seller:    fill.Seller,
		BuyOrder:  fill.BuyOrder,
		SellOrder: fill.SellOrder,
		Taker:     fill.TakerSide.String(),
		Timestamp: fill.Timestamp.UnixNano(),
	}
}

// Publisher writes every fill to a Kafka topic, keyed by ticker so fills of
// one instrument stay ordered within a partition. Implements exchange.Reporter.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Publisher) ReportFill(fill Fill) error {
	value, err := json.Marshal(newFillEvent(fill))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fill.Ticker),
		Value: value,
		Time:  fill.Timestamp,
	}); err != nil {
		return err
	}

	log.Debug().Str("ticker", fill.Ticker).Int64("quantity", fill.Quantity).Msg("fill published")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
