package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/account"
	. "bourse/internal/common"
	"bourse/internal/exchange"
	"bourse/internal/utils"
)

const defaultWriteTimeout = time.Second

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func (c *ClientSession) address() string {
	return c.conn.RemoteAddr().String()
}

// write sends a report to the client. Safe for concurrent use.
func (c *ClientSession) write(r Report) error {
	buf, err := r.Serialize()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	return err
}

// request is one frame read from a session, waiting for a worker.
type request struct {
	session *ClientSession
	frame   []byte
	done    chan struct{}
}

// Server accepts order-entry connections and routes their requests into an
// exchange. Each session has its own reader; frames are handed to a fixed
// pool of workers. Every request is answered before the next one on the same
// connection is read. Fill reports are pushed to the sessions of both
// parties.
type Server struct {
	address  string
	port     int
	exchange *exchange.Exchange
	pool     utils.WorkerPool
	cancel   context.CancelFunc

	listener net.Listener
	ready    chan struct{}

	clientSessions     map[string]*ClientSession // by remote address
	ownerSessions      map[string]*ClientSession // by account id
	clientSessionsLock sync.Mutex
}

func New(address string, port int, ex *exchange.Exchange, workers uint) *Server {
	return &Server{
		address:        address,
		port:           port,
		exchange:       ex,
		pool:           utils.NewWorkerPool(workers),
		ready:          make(chan struct{}),
		clientSessions: make(map[string]*ClientSession),
		ownerSessions:  make(map[string]*ClientSession),
	}
}

// Addr blocks until the server is listening and returns its address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run serves until ctx is cancelled or a worker fails.
func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.listener = listener
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t, s.handleRequest)

	// Unblock Accept and drop clients once we start dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	t.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-t.Dying():
					return nil
				default:
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			// Add the client to client sessions we are tracking.
			// We expect to potentially maintain a long TCP session.
			session := s.addClientSession(conn)
			log.Info().Str("address", session.address()).Msg("new client added")

			// Sessions added after closeClientSessions ran must close themselves.
			select {
			case <-t.Dying():
				s.deleteClientSession(session)
				return nil
			default:
			}
			t.Go(func() error {
				return s.serveSession(t, session)
			})
		}
	})

	err = t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ReportFill sends an execution report to each party of the fill that has a
// live session. Implements exchange.Reporter.
func (s *Server) ReportFill(fill Fill) error {
	var errs []error
	for _, party := range []struct {
		owner string
		side  Side
	}{{fill.Buyer, Buy}, {fill.Seller, Sell}} {
		if err := s.reportTo(party.owner, executionReport(fill, party.side)); err != nil &&
			!errors.Is(err, ErrClientDoesNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) reportTo(owner string, r Report) error {
	s.clientSessionsLock.Lock()
	session, ok := s.ownerSessions[owner]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	if err := session.write(r); err != nil {
		s.clientSessionsLock.Lock()
		if s.ownerSessions[owner] == session {
			delete(s.ownerSessions, owner)
		}
		s.clientSessionsLock.Unlock()
		return fmt.Errorf("unable to send report to %s: %w", owner, err)
	}
	return nil
}

// serveSession reads frames off one connection and hands each to the worker
// pool, waiting for it to be answered before reading the next. Idle sessions
// cost a blocked reader, never a worker. The session is cleaned up when the
// connection dies.
func (s *Server) serveSession(t *tomb.Tomb, session *ClientSession) error {
	defer s.deleteClientSession(session)

	for {
		frame, err := ReadFrame(session.reader)
		if err != nil {
			select {
			case <-t.Dying():
			default:
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					log.Info().Str("address", session.address()).Msg("client disconnected")
				} else {
					log.Error().Err(err).Str("address", session.address()).Msg("error reading from connection")
				}
			}
			return nil
		}

		req := &request{session: session, frame: frame, done: make(chan struct{})}
		if !s.pool.AddTask(t, req) {
			return nil
		}
		select {
		case <-req.done:
		case <-t.Dying():
			return nil
		}
	}
}

// handleRequest is the worker method: it answers a single frame. Workers never
// queue work themselves, so the pool always drains.
// Note, any error returned from here is fatal.
func (s *Server) handleRequest(t *tomb.Tomb, task any) error {
	req, ok := task.(*request)
	if !ok {
		return ErrImproperConversion
	}
	defer close(req.done)
	session := req.session

	var report Report
	message, err := parseMessage(req.frame)
	if err != nil {
		log.Error().
			Err(err).
			Str("address", session.address()).
			Msg("error parsing message")
		report = errorReport(err)
	} else {
		report = s.handleMessage(t.Context(nil), session, message)
	}

	if err := session.write(report); err != nil {
		log.Error().Err(err).Str("address", session.address()).Msg("unable to send response")
		// Closing unblocks the session's reader, which finishes the cleanup.
		if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Str("address", session.address()).Msg("unable to close connection")
		}
	}
	return nil
}

func (s *Server) handleMessage(ctx context.Context, session *ClientSession, message Message) Report {
	switch m := message.(type) {
	case NewOrderMessage:
		s.bindOwner(m.Username, session)
		if m.Quantity > math.MaxInt64 {
			return errorReport(ErrInvalidQuantity)
		}
		out, err := s.exchange.SubmitOrder(ctx, m.Username, m.Ticker, m.Side, m.LimitPrice, int64(m.Quantity))
		if err != nil {
			return errorReport(err)
		}
		return Report{
			MessageType: OrderAck,
			Side:        out.Order.Side,
			Timestamp:   uint64(out.Order.Timestamp.UnixNano()),
			Quantity:    uint64(out.Order.Filled()),
			Price:       out.Order.LimitPrice,
			Remaining:   uint64(out.Resting),
			Ticker:      out.Order.Ticker,
			UUID:        out.Order.UUID,
		}

	case CancelOrderMessage:
		s.bindOwner(m.Username, session)
		cancelled, err := s.exchange.CancelOrder(ctx, m.Username, m.Ticker, m.OrderUUID)
		if err != nil {
			return errorReport(err)
		}
		r := Report{
			MessageType: CancelNoop,
			Timestamp:   uint64(time.Now().UnixNano()),
			Ticker:      m.Ticker,
			UUID:        m.OrderUUID,
		}
		if cancelled {
			r.MessageType = CancelAck
		}
		return r

	case BaseMessage:
		if m.TypeOf == Heartbeat {
			return Report{MessageType: HeartbeatAck, Timestamp: uint64(time.Now().UnixNano())}
		}
	}
	return errorReport(ErrInvalidMessageType)
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	session := &ClientSession{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}

	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[session.address()] = session
	return session
}

// bindOwner routes future fill reports for owner to session.
func (s *Server) bindOwner(owner string, session *ClientSession) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.ownerSessions[account.NormalizeID(owner)] = session
}

// deleteClientSession is an atomic map remove which also closes the connection.
func (s *Server) deleteClientSession(session *ClientSession) {
	s.clientSessionsLock.Lock()
	delete(s.clientSessions, session.address())
	for owner, bound := range s.ownerSessions {
		if bound == session {
			delete(s.ownerSessions, owner)
		}
	}
	s.clientSessionsLock.Unlock()

	if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Error().Err(err).Str("address", session.address()).Msg("unable to close connection")
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	sessions := make([]*ClientSession, 0, len(s.clientSessions))
	for _, session := range s.clientSessions {
		sessions = append(sessions, session)
	}
	s.clientSessionsLock.Unlock()

	for _, session := range sessions {
		s.deleteClientSession(session)
	}
}
