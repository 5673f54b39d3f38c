package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	. "bourse/internal/common"
	"bourse/internal/exchange"
)

const (
	maxBodyBytes    = 1 << 16
	shutdownTimeout = 5 * time.Second
)

// Server exposes the exchange as a JSON API for queries and administration.
type Server struct {
	exchange *exchange.Exchange
	router   *mux.Router
	origins  []string
}

func NewServer(ex *exchange.Exchange, origins []string) *Server {
	s := &Server{
		exchange: ex,
		router:   mux.NewRouter(),
		origins:  origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Instruments
	api.HandleFunc("/instruments", s.handleGetInstruments).Methods(http.MethodGet)
	api.HandleFunc("/instruments", s.handleListInstrument).Methods(http.MethodPost)
	api.HandleFunc("/instruments/{symbol}/book", s.handleGetBook).Methods(http.MethodGet)

	// Accounts
	api.HandleFunc("/accounts", s.handleSignUp).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/deposit", s.handleDeposit).Methods(http.MethodPost)

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{symbol}/{uuid}", s.handleCancelOrder).Methods(http.MethodDelete)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Run serves on address until ctx is cancelled.
func (s *Server) Run(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("address", listener.Addr().String()).Msg("http api running")
		errc <- srv.Serve(listener)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("http api stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetInstruments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.exchange.Instruments())
}

func (s *Server) handleListInstrument(w http.ResponseWriter, r *http.Request) {
	var req ListInstrumentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.exchange.ListInstrument(req.Symbol); err != nil {
		respondError(w, err)
		return
	}
	book, err := s.exchange.BookSnapshot(req.Symbol)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, book)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.exchange.BookSnapshot(mux.Vars(r)["symbol"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.exchange.Accounts().SignUp(req.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, acct.Snapshot())
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	snap, err := s.exchange.AccountSnapshot(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.exchange.Fund(id, req.Cash, req.Ticker, req.Quantity); err != nil {
		respondError(w, err)
		return
	}

	snap, err := s.exchange.AccountSnapshot(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decode(w, r, &req) {
		return
	}
	side, err := ParseSide(req.Side)
	if err != nil {
		respondError(w, err)
		return
	}

	out, err := s.exchange.SubmitOrder(r.Context(), req.Account, req.Ticker, side, req.Price, req.Quantity)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrderResponse(out))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	accountID := r.URL.Query().Get("account")
	if accountID == "" {
		respondError(w, ErrInvalidAccount)
		return
	}

	cancelled, err := s.exchange.CancelOrder(r.Context(), accountID, vars["symbol"], vars["uuid"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CancelResponse{UUID: vars["uuid"], Cancelled: cancelled})
}

// decode reads a JSON request body, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrInvalidSymbol),
		errors.Is(err, ErrInvalidAccount),
		errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientPosition):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrInstrumentNotFound),
		errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateListing),
		errors.Is(err, ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, ErrOrderNotOwned):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("unable to write response")
	}
}
