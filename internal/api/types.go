package api

import (
	"bourse/internal/engine"
)

type ListInstrumentRequest struct {
	Symbol string `json:"symbol"`
}

type SignUpRequest struct {
	ID string `json:"id"`
}

// DepositRequest adds cash, shares of a listed instrument, or both.
type DepositRequest struct {
	Cash     int64  `json:"cash"`
	Ticker   string `json:"ticker,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
}

type OrderRequest struct {
	Account  string `json:"account"`
	Ticker   string `json:"ticker"`
	Side     string `json:"side"` // "buy" or "sell"
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type FillInfo struct {
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	BuyOrder  string `json:"buy_order"`
	SellOrder string `json:"sell_order"`
	Timestamp int64  `json:"timestamp"` // Unix nanoseconds
}

type OrderResponse struct {
	UUID     string     `json:"uuid"`
	Ticker   string     `json:"ticker"`
	Side     string     `json:"side"`
	Price    int64      `json:"price"`
	Quantity int64      `json:"quantity"`
	Filled   int64      `json:"filled"`
	Resting  int64      `json:"resting"`
	Fills    []FillInfo `json:"fills"`
}

func newOrderResponse(out engine.Outcome) OrderResponse {
	fills := make([]FillInfo, len(out.Fills))
	for i, f := range out.Fills {
		fills[i] = FillInfo{
			Price:     f.Price,
			Quantity:  f.Quantity,
			Buyer:     f.Buyer,
			Seller:    f.Seller,
			BuyOrder:  f.BuyOrder,
			SellOrder: f.SellOrder,
			Timestamp: f.Timestamp.UnixNano(),
		}
	}
	return OrderResponse{
		UUID:     out.Order.UUID,
		Ticker:   out.Order.Ticker,
		Side:     out.Order.Side.String(),
		Price:    out.Order.LimitPrice,
		Quantity: out.Order.TotalQuantity,
		Filled:   out.Order.Filled(),
		Resting:  out.Resting,
		Fills:    fills,
	}
}

type CancelResponse struct {
	UUID      string `json:"uuid"`
	Cancelled bool   `json:"cancelled"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
