// Package httpapi serves prices, challenges and trading over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/desk"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/metrics"
	"github.com/rustyeddy/challenger/risk"
	"github.com/rustyeddy/challenger/store"
)

// DefaultStartBalance funds a challenge created without a balance.
const DefaultStartBalance = 5000.0

// Prices is what the API reads from the price cache.
type Prices interface {
	market.Pricer
	All() []market.Quote
}

type Server struct {
	desk       *desk.Desk
	watchdog   *risk.Watchdog
	challenges store.ChallengeStore
	prices     Prices

	metrics     *metrics.Metrics
	streamEvery time.Duration
	upgrader    websocket.Upgrader
	log         logrus.FieldLogger
}

type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamEvery = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

func New(d *desk.Desk, wd *risk.Watchdog, challenges store.ChallengeStore, prices Prices, opts ...Option) *Server {
	s := &Server{
		desk:        d,
		watchdog:    wd,
		challenges:  challenges,
		prices:      prices,
		streamEvery: 2 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logrus.WithField("component", "httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/prices", s.listPrices).Methods(http.MethodGet)
	api.HandleFunc("/prices/{symbol}", s.getPrice).Methods(http.MethodGet)

	api.HandleFunc("/challenges", s.createChallenge).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}", s.getChallenge).Methods(http.MethodGet)
	api.HandleFunc("/challenges/{id}/positions", s.listPositions).Methods(http.MethodGet)
	api.HandleFunc("/challenges/{id}/equity", s.getEquity).Methods(http.MethodGet)
	api.HandleFunc("/challenges/{id}/watchdog", s.watchdogStatus).Methods(http.MethodGet)
	api.HandleFunc("/challenges/{id}/watchdog/execute", s.watchdogExecute).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/trades", s.placeTrade).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/close-all", s.closeAll).Methods(http.MethodPost)

	r.HandleFunc("/ws/prices", s.streamPrices)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setErrorResponse("not_found", http.StatusNotFound, fmt.Errorf("no route for %s %s", r.Method, r.URL.Path), w)
	})
	return r
}

type errorResponse struct {
	Type string `json:"type"`
	Msg  string `json:"message"`
}

func setResponse(response any, statusCode int, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("setResponse: encode: %w", err)
	}
	return nil
}

func setErrorResponse(errType string, statusCode int, err error, w http.ResponseWriter) error {
	return setResponse(errorResponse{Type: errType, Msg: err.Error()}, statusCode, w)
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code    int
		errType string
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		code, errType = http.StatusNotFound, "not_found"
	case errors.Is(err, challenge.ErrChallengeFailed):
		code, errType = http.StatusForbidden, "challenge_failed"
	case errors.Is(err, desk.ErrTradingBlocked):
		code, errType = http.StatusForbidden, "trading_blocked"
	case errors.Is(err, desk.ErrNotActive):
		code, errType = http.StatusConflict, "not_active"
	case errors.Is(err, desk.ErrInvalidOrder), errors.Is(err, store.ErrInvalidInput):
		code, errType = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, desk.ErrNoPrice):
		code, errType = http.StatusServiceUnavailable, "no_price"
	default:
		code, errType = http.StatusInternalServerError, "internal"
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	setErrorResponse(errType, code, err, w)
}

func (s *Server) respond(w http.ResponseWriter, v any) {
	if err := setResponse(v, http.StatusOK, w); err != nil {
		s.log.WithError(err).Warn("write response")
	}
}

func (s *Server) listPrices(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.prices.All())
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.prices.GetPrice(mux.Vars(r)["symbol"]))
}

type createChallengeRequest struct {
	StartBalance float64 `json:"start_balance"`
}

func (s *Server) createChallenge(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			setErrorResponse("invalid_input", http.StatusBadRequest, fmt.Errorf("decode request: %w", err), w)
			return
		}
	}
	if req.StartBalance == 0 {
		req.StartBalance = DefaultStartBalance
	}

	c, err := s.desk.OpenChallenge(r.Context(), req.StartBalance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := setResponse(c, http.StatusCreated, w); err != nil {
		s.log.WithError(err).Warn("write response")
	}
}

func (s *Server) getChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := s.challenges.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, c)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.desk.OpenPositions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, positions)
}

func (s *Server) getEquity(w http.ResponseWriter, r *http.Request) {
	snap, err := s.watchdog.Calculator().CalculateEquity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, snap)
}

func (s *Server) watchdogStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := s.watchdog.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, rep)
}

func (s *Server) watchdogExecute(w http.ResponseWriter, r *http.Request) {
	res, err := s.watchdog.Execute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, res)
}

type placeTradeRequest struct {
	Symbol string      `json:"symbol"`
	Side   ledger.Side `json:"side"`
	Qty    float64     `json:"qty"`
	Price  float64     `json:"price,omitempty"`
}

func (s *Server) placeTrade(w http.ResponseWriter, r *http.Request) {
	var req placeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("invalid_input", http.StatusBadRequest, fmt.Errorf("decode request: %w", err), w)
		return
	}

	fill, err := s.desk.PlaceTrade(r.Context(), desk.Order{
		ChallengeID: mux.Vars(r)["id"],
		Symbol:      req.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
		Price:       req.Price,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := setResponse(fill, http.StatusCreated, w); err != nil {
		s.log.WithError(err).Warn("write response")
	}
}

func (s *Server) closeAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.desk.CloseAll(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, res)
}

// streamPrices pushes the full quote list on connect and then every
// stream interval until the client goes away.
func (s *Server) streamPrices(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade")
		return
	}
	defer conn.Close()

	// drain reads so close frames are seen
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamEvery)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(s.prices.All()); err != nil {
			s.log.WithError(err).Debug("price stream closed")
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}
