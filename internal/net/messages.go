package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	. "bourse/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short for specified username length")
	ErrMessageTooLong     = errors.New("message exceeds maximum frame size")
	ErrFieldTooLong       = errors.New("field too long for wire format")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
)

type ReportMessageType int

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	OrderAck
	CancelAck
	CancelNoop // order was no longer resting
	HeartbeatAck
)

func (t ReportMessageType) String() string {
	switch t {
	case ExecutionReport:
		return "execution"
	case ErrorReport:
		return "error"
	case OrderAck:
		return "ack"
	case CancelAck:
		return "cancelled"
	case CancelNoop:
		return "not resting"
	case HeartbeatAck:
		return "heartbeat"
	}
	return "unknown"
}

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	FrameHeaderLen              = 2
	BaseMessageHeaderLen        = 2
	TickerLen                   = MaxSymbolLen
	UUIDLen                     = 36
	NewOrderMessageHeaderLen    = TickerLen + 8 + 8 + 1 + 1
	CancelOrderMessageHeaderLen = TickerLen + UUIDLen + 1
	MaxFrameLen                 = BaseMessageHeaderLen + CancelOrderMessageHeaderLen + math.MaxUint8
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// ReadFrame reads one length-prefixed request frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(header[:])
	if int(n) > MaxFrameLen {
		return nil, ErrMessageTooLong
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// frame prefixes a message with its length.
func frame(typeOf MessageType, body []byte) []byte {
	buf := make([]byte, FrameHeaderLen+BaseMessageHeaderLen+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(BaseMessageHeaderLen+len(body)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(typeOf))
	copy(buf[4:], body)
	return buf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, errors.New("message too short to contain header")
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type NewOrderMessage struct {
	BaseMessage
	Ticker      string // 8 bytes, NUL padded
	LimitPrice  int64  // 8 bytes
	Quantity    uint64 // 8 bytes
	Side        Side   // 1 byte
	UsernameLen uint8  // 1 byte
	Username    string // n bytes
}

func (m NewOrderMessage) Encode() ([]byte, error) {
	if len(m.Ticker) > TickerLen || len(m.Username) > math.MaxUint8 {
		return nil, ErrFieldTooLong
	}
	body := make([]byte, NewOrderMessageHeaderLen+len(m.Username))
	copy(body[0:8], m.Ticker)
	binary.BigEndian.PutUint64(body[8:16], uint64(m.LimitPrice))
	binary.BigEndian.PutUint64(body[16:24], m.Quantity)
	body[24] = byte(m.Side)
	body[25] = uint8(len(m.Username))
	copy(body[26:], m.Username)
	return frame(NewOrder, body), nil
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}

	m.Ticker = trimPadding(msg[0:8])
	m.LimitPrice = int64(binary.BigEndian.Uint64(msg[8:16]))
	m.Quantity = binary.BigEndian.Uint64(msg[16:24])
	m.Side = Side(msg[24])
	m.UsernameLen = uint8(msg[25])

	// Calculate expected total length.
	expectedTotalLen := NewOrderMessageHeaderLen + int(m.UsernameLen)
	if len(msg) < expectedTotalLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[26 : 26+int(m.UsernameLen)])

	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	Ticker      string // 8 bytes, NUL padded
	OrderUUID   string // 36 bytes
	UsernameLen uint8  // 1 byte
	Username    string // n bytes
}

func (m CancelOrderMessage) Encode() ([]byte, error) {
	if len(m.Ticker) > TickerLen || len(m.OrderUUID) > UUIDLen || len(m.Username) > math.MaxUint8 {
		return nil, ErrFieldTooLong
	}
	body := make([]byte, CancelOrderMessageHeaderLen+len(m.Username))
	copy(body[0:8], m.Ticker)
	copy(body[8:44], m.OrderUUID)
	body[44] = uint8(len(m.Username))
	copy(body[45:], m.Username)
	return frame(CancelOrder, body), nil
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	m.Ticker = trimPadding(msg[0:8])
	m.OrderUUID = trimPadding(msg[8:44])
	m.UsernameLen = uint8(msg[44])
	if len(msg) < CancelOrderMessageHeaderLen+int(m.UsernameLen) {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[45 : 45+int(m.UsernameLen)])

	return m, nil
}

// EncodeHeartbeat returns a framed heartbeat request.
func EncodeHeartbeat() []byte {
	return frame(Heartbeat, nil)
}

type Report struct {
	MessageType     ReportMessageType // 1 byte
	Side            Side              // 1 byte
	Timestamp       uint64            // 8 bytes
	Quantity        uint64            // 8 bytes, filled quantity
	Price           int64             // 8 bytes
	Remaining       uint64            // 8 bytes, quantity left resting
	CounterpartyLen uint16            // 2 bytes
	ErrStrLen       uint32            // 4 bytes
	Ticker          string            // 8 bytes
	UUID            string            // 36 bytes
	Err             string            // n bytes
	Counterparty    string            // n bytes (in this case we show who)
}

const (
	reportFixedHeaderLen = 1 + 1 + 8 + 8 + 8 + 8 + 2 + 4 + TickerLen + UUIDLen
	maxErrLen            = 4096
)

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	if len(r.Ticker) > TickerLen || len(r.UUID) > UUIDLen ||
		len(r.Counterparty) > math.MaxUint16 || len(r.Err) > maxErrLen {
		return nil, ErrFieldTooLong
	}
	r.ErrStrLen = uint32(len(r.Err))
	r.CounterpartyLen = uint16(len(r.Counterparty))
	totalSize := reportFixedHeaderLen + len(r.Err) + len(r.Counterparty)

	buf := make([]byte, totalSize)
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Timestamp)
	binary.BigEndian.PutUint64(buf[10:18], r.Quantity)
	binary.BigEndian.PutUint64(buf[18:26], uint64(r.Price))
	binary.BigEndian.PutUint64(buf[26:34], r.Remaining)
	binary.BigEndian.PutUint16(buf[34:36], r.CounterpartyLen)
	binary.BigEndian.PutUint32(buf[36:40], r.ErrStrLen)

	// Pack Strings (Ticker and UUID) into fixed buffers
	// copy() ensures we don't panic if strings are shorter.
	copy(buf[40:48], r.Ticker)
	copy(buf[48:84], r.UUID)

	offset := reportFixedHeaderLen
	copy(buf[offset:], r.Err)
	offset += int(r.ErrStrLen)
	copy(buf[offset:], r.Counterparty)
	return buf, nil
}

// ReadReport reads one report off the wire.
func ReadReport(rd io.Reader) (Report, error) {
	header := make([]byte, reportFixedHeaderLen)
	if _, err := io.ReadFull(rd, header); err != nil {
		return Report{}, err
	}

	r := Report{
		MessageType:     ReportMessageType(header[0]),
		Side:            Side(header[1]),
		Timestamp:       binary.BigEndian.Uint64(header[2:10]),
		Quantity:        binary.BigEndian.Uint64(header[10:18]),
		Price:           int64(binary.BigEndian.Uint64(header[18:26])),
		Remaining:       binary.BigEndian.Uint64(header[26:34]),
		CounterpartyLen: binary.BigEndian.Uint16(header[34:36]),
		ErrStrLen:       binary.BigEndian.Uint32(header[36:40]),
		Ticker:          trimPadding(header[40:48]),
		UUID:            trimPadding(header[48:84]),
	}

	// Read Variable Length Strings (Error and Counterparty)
	if r.ErrStrLen > maxErrLen {
		return Report{}, ErrMessageTooLong
	}
	varBuf := make([]byte, int(r.ErrStrLen)+int(r.CounterpartyLen))
	if _, err := io.ReadFull(rd, varBuf); err != nil {
		return Report{}, fmt.Errorf("reading report body: %w", err)
	}
	r.Err = string(varBuf[:r.ErrStrLen])
	r.Counterparty = string(varBuf[r.ErrStrLen:])
	return r, nil
}

func (r Report) String() string {
	switch r.MessageType {
	case ErrorReport:
		return fmt.Sprintf("[ERROR] %s", r.Err)
	case ExecutionReport:
		return fmt.Sprintf("[EXECUTION] %s %s | Qty: %d | Price: %d | vs: %s | UUID: %s",
			r.Side, r.Ticker, r.Quantity, r.Price, r.Counterparty, r.UUID)
	case OrderAck:
		return fmt.Sprintf("[ACK] %s %s @ %d | Filled: %d | Resting: %d | UUID: %s",
			r.Side, r.Ticker, r.Price, r.Quantity, r.Remaining, r.UUID)
	}
	return fmt.Sprintf("[%s] %s %s", r.MessageType, r.Ticker, r.UUID)
}

// executionReport is addressed to one party of a fill.
func executionReport(fill Fill, side Side) Report {
	r := Report{
		MessageType: ExecutionReport,
		Side:        side,
		Timestamp:   uint64(fill.Timestamp.UnixNano()),
		Quantity:    uint64(fill.Quantity),
		Price:       fill.Price,
		Ticker:      fill.Ticker,
	}
	if side == Buy {
		r.UUID, r.Counterparty = fill.BuyOrder, fill.Seller
	} else {
		r.UUID, r.Counterparty = fill.SellOrder, fill.Buyer
	}
	return r
}

func errorReport(err error) Report {
	return Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().UnixNano()),
		Err:         err.Error(),
	}
}

func trimPadding(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
