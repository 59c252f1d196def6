// Package api serves the dashboard-facing HTTP surface: positions, orders,
// indicator snapshots, health and a WebSocket stream of live updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/execution"
	"nifty-engine/internal/indicator"
	"nifty-engine/internal/logger"
	"nifty-engine/internal/model"
	"nifty-engine/internal/order"
)

// Orders is the order manager surface the API needs.
type Orders interface {
	SubmitOrder(ctx context.Context, req order.SubmitRequest) (string, error)
	CancelOrder(ctx context.Context, id string) error
	GetOrder(id string) (model.Order, error)
	Orders() []model.Order
	Positions() []model.Position
	Risk() *order.RiskManager
}

// IndicatorSource yields the newest revision for one instrument.
type IndicatorSource interface {
	Latest() *indicator.IndicatorSet
}

// Deps wires the server. Health, OrderLog and Stream are optional.
type Deps struct {
	Orders      Orders
	Instruments []model.Instrument
	Indicators  map[string]IndicatorSource // by symbol
	OrderLog    model.OrderLog
	Health      http.Handler
	Stream      *Hub
	DefaultMode model.Mode
	Logger      *slog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	deps        Deps
	instruments map[string]model.Instrument
	log         *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultMode == "" {
		deps.DefaultMode = model.ModePaper
	}
	s := &Server{
		deps:        deps,
		instruments: make(map[string]model.Instrument, len(deps.Instruments)),
		log:         logger.Component(deps.Logger, "api"),
	}
	for _, inst := range deps.Instruments {
		s.instruments[inst.Symbol] = inst
	}
	return s
}

// NewRouter sets up the HTTP routes.
func (s *Server) NewRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/positions", s.handlePositions)
	mux.HandleFunc("GET /api/v1/orders", s.handleOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}/log", s.handleOrderLog)
	mux.HandleFunc("POST /api/v1/orders", s.handleSubmit)
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/v1/indicators", s.handleIndicators)
	mux.HandleFunc("GET /api/v1/risk", s.handleRisk)
	if s.deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream", s.deps.Stream.ServeWS)
	}

	return withCORS(mux)
}

// withCORS sets CORS headers and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		s.deps.Health.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.deps.Orders.Positions()
	views := make([]model.PositionView, len(positions))
	for i, p := range positions {
		views[i] = p.View()
	}
	writeJSON(w, http.StatusOK, views)
}

// handleOrders lists orders, optionally filtered by ?symbol= and ?status=.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	status := model.OrderStatus(strings.ToUpper(r.URL.Query().Get("status")))
	out := []model.Order{}
	for _, o := range s.deps.Orders.Orders() {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Orders.GetOrder(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOrderLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.OrderLog == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "order log not configured"})
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.Orders.GetOrder(id); err != nil {
		s.writeError(w, err)
		return
	}
	recs, err := s.deps.OrderLog.Records(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// submitBody is the manual order request. Instruments are named by symbol.
type submitBody struct {
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity int64           `json:"quantity"`
	Type     model.OrderType `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Mode     model.Mode      `json:"mode"`
}

type submitResponse struct {
	OrderID string      `json:"order_id"`
	Order   model.Order `json:"order"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode body: %v", order.ErrInvalidOrderRequest, err))
		return
	}
	inst, ok := s.instruments[body.Symbol]
	if !ok {
		s.writeError(w, fmt.Errorf("%w: unknown symbol %q", order.ErrInvalidOrderRequest, body.Symbol))
		return
	}
	if body.Mode == "" {
		body.Mode = s.deps.DefaultMode
	}
	if body.Type == "" {
		body.Type = model.OrderMarket
	}
	req := order.SubmitRequest{
		Instrument: inst,
		Side:       model.Side(strings.ToUpper(string(body.Side))),
		Quantity:   body.Quantity,
		Type:       model.OrderType(strings.ToUpper(string(body.Type))),
		Price:      body.Price,
		Mode:       model.Mode(strings.ToLower(string(body.Mode))),
		Tag:        "manual",
	}

	id, err := s.deps.Orders.SubmitOrder(r.Context(), req)
	if err != nil {
		s.log.Warn("manual order failed", "order_id", id, "symbol", body.Symbol, "err", err)
		s.writeErrorWithID(w, id, err)
		return
	}
	o, _ := s.deps.Orders.GetOrder(id)
	s.log.Info("manual order submitted", "order_id", id, "symbol", body.Symbol, "side", req.Side, "qty", req.Quantity)
	writeJSON(w, http.StatusCreated, submitResponse{OrderID: id, Order: o})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Orders.CancelOrder(r.Context(), id); err != nil {
		s.writeErrorWithID(w, id, err)
		return
	}
	o, _ := s.deps.Orders.GetOrder(id)
	writeJSON(w, http.StatusOK, o)
}

// handleIndicators returns the latest snapshot for ?symbol=, or for every
// instrument when the parameter is absent. ?bars=N adds the last N values
// of every line.
func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := 0
	if v := q.Get("bars"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bars must be a non-negative integer"})
			return
		}
	}

	symbol := q.Get("symbol")
	if symbol == "" {
		out := make(map[string]indicator.Snapshot, len(s.deps.Indicators))
		for sym, src := range s.deps.Indicators {
			if set := src.Latest(); set != nil {
				out[sym] = set.Snapshot()
			}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	src, ok := s.deps.Indicators[symbol]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown symbol " + symbol})
		return
	}
	set := src.Latest()
	if set == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "indicators not ready"})
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusOK, set.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, tail(set, n))
}

// lineView is a snapshot plus the recent history of every line.
type lineView struct {
	indicator.Snapshot
	Bars  []model.Bar                  `json:"bars"`
	Lines map[string][]indicator.Value `json:"lines"`
}

func tail(set *indicator.IndicatorSet, n int) lineView {
	start := set.Len() - n
	if start < 0 {
		start = 0
	}
	v := lineView{
		Snapshot: set.Snapshot(),
		Bars:     set.Bars()[start:],
		Lines:    make(map[string][]indicator.Value),
	}
	for _, name := range set.Names() {
		v.Lines[name] = set.Line(name)[start:]
	}
	return v
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	rm := s.deps.Orders.Risk()
	if rm == nil {
		writeJSON(w, http.StatusOK, order.RiskStatus{})
		return
	}
	writeJSON(w, http.StatusOK, rm.Status())
}

type errorBody struct {
	Error   string `json:"error"`
	OrderID string `json:"order_id,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrInvalidOrderRequest):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrOrderNotCancellable):
		return http.StatusConflict
	case errors.Is(err, order.ErrRiskLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, execution.ErrExecutionBackend):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorWithID(w, "", err)
}

func (s *Server) writeErrorWithID(w http.ResponseWriter, id string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error(), OrderID: id})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
