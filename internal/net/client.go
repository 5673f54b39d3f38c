package net

import (
	"bufio"
	"net"
	"time"

	. "bourse/internal/common"
)

// Client is an order-entry connection for a single account.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	owner  string
}

func Dial(address, owner string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		owner:  owner,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// PlaceOrder sends a limit order. Its OrderAck or ErrorReport follows any
// execution reports it generated.
func (c *Client) PlaceOrder(ticker string, side Side, price int64, quantity uint64) error {
	buf, err := NewOrderMessage{
		Ticker:     ticker,
		LimitPrice: price,
		Quantity:   quantity,
		Side:       side,
		Username:   c.owner,
	}.Encode()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	return err
}

// CancelOrder asks for a resting order to be removed.
func (c *Client) CancelOrder(ticker, orderUUID string) error {
	buf, err := CancelOrderMessage{
		Ticker:    ticker,
		OrderUUID: orderUUID,
		Username:  c.owner,
	}.Encode()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	return err
}

func (c *Client) Heartbeat() error {
	_, err := c.conn.Write(EncodeHeartbeat())
	return err
}

// ReadReport blocks for the next report from the server.
func (c *Client) ReadReport() (Report, error) {
	return ReadReport(c.reader)
}

// AwaitResponse reads reports until the response to the last request arrives,
// returning it along with any execution reports received first.
func (c *Client) AwaitResponse() (Report, []Report, error) {
	var executions []Report
	for {
		r, err := c.ReadReport()
		if err != nil {
			return Report{}, executions, err
		}
		if r.MessageType == ExecutionReport {
			executions = append(executions, r)
			continue
		}
		return r, executions, nil
	}
}
