package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GATEWAY HTTP SERVER - Broker proxy surface for the core services
// ═══════════════════════════════════════════════════════════════════════════════

// marketOpen/marketClose bound the regular KRX session.
const (
	marketOpenHour  = 9
	marketCloseHour = 15
	marketCloseMin  = 30
	dailyPriceDays  = 150
)

// DailyPriceStore is the local fallback for daily prices when the broker is
// unreachable and the breaker is open.
type DailyPriceStore interface {
	RecentDailyPrices(ctx context.Context, code string, days int) ([]types.DailyPrice, error)
}

// Server is the gateway HTTP surface. Every core service talks to the broker
// through these routes, never directly.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	kis      *KIS
	streamer *Streamer
	prices   DailyPriceStore
	loc      *time.Location
}

// NewServer wires the routes. prices may be nil; the daily-price fallback is
// then disabled.
func NewServer(addr string, kis *KIS, streamer *Streamer, prices DailyPriceStore, loc *time.Location) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		kis:      kis,
		streamer: streamer,
		prices:   prices,
		loc:      loc,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/market", func(r chi.Router) {
			r.Post("/snapshot", s.handleSnapshot)
			r.Post("/daily-prices", s.handleDailyPrices)
			r.Post("/minute-prices", s.handleMinutePrices)
			r.Get("/is-trading-day", s.handleIsTradingDay)
			r.Get("/is-market-open", s.handleIsMarketOpen)
		})
		r.Route("/trading", func(r chi.Router) {
			r.Post("/buy", s.handleBuy)
			r.Post("/sell", s.handleSell)
			r.Post("/cancel", s.handleCancel)
			r.Post("/order-status", s.handleOrderStatus)
		})
		r.Route("/account", func(r chi.Router) {
			r.Post("/balance", s.handleBalance)
			r.Post("/cash", s.handleCash)
		})
		r.Route("/realtime", func(r chi.Router) {
			r.Post("/subscribe", s.handleSubscribe)
		})
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("🌐 gateway listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ─── Response helpers ──────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps broker failures onto HTTP: an open breaker is 503, a broker
// rejection is 502, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrCircuitOpen):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case types.IsBrokerError(err):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

// ─── Handlers ──────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	failures, open, reason := s.kis.Breaker().Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"breaker_open":     open,
		"breaker_failures": failures,
		"breaker_reason":   reason,
		"streamer_running": s.streamer != nil && s.streamer.IsRunning(),
	})
}

type stockCodeRequest struct {
	StockCode string `json:"stock_code"`
	Days      int    `json:"days,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req stockCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.kis.Snapshot(r.Context(), req.StockCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDailyPrices proxies the broker daily chart. With the breaker open it
// serves the last persisted rows instead, so indicator consumers degrade to
// slightly stale data rather than failing.
func (s *Server) handleDailyPrices(w http.ResponseWriter, r *http.Request) {
	var req stockCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	days := req.Days
	if days <= 0 {
		days = dailyPriceDays
	}

	prices, err := s.kis.DailyPrices(r.Context(), req.StockCode, days)
	if err != nil {
		if errors.Is(err, types.ErrCircuitOpen) && s.prices != nil {
			cached, cerr := s.prices.RecentDailyPrices(r.Context(), req.StockCode, days)
			if cerr == nil && len(cached) > 0 {
				log.Warn().Str("code", req.StockCode).Msg("breaker open, serving persisted daily prices")
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *Server) handleMinutePrices(w http.ResponseWriter, r *http.Request) {
	var req stockCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	prices, err := s.kis.MinutePrices(r.Context(), req.StockCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *Server) handleIsTradingDay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_trading_day": s.kis.IsTradingDay(r.Context(), time.Now()),
	})
}

func (s *Server) handleIsMarketOpen(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(s.loc)
	open := s.kis.IsTradingDay(r.Context(), now) && withinSession(now)
	writeJSON(w, http.StatusOK, map[string]bool{"is_market_open": open})
}

// withinSession checks the regular 09:00-15:30 session.
func withinSession(now time.Time) bool {
	mins := now.Hour()*60 + now.Minute()
	return mins >= marketOpenHour*60 && mins <= marketCloseHour*60+marketCloseMin
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleOrder(w, r, types.TradeBuy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleOrder(w, r, types.TradeSell)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request, side types.TradeType) {
	var req types.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.StockCode == "" || req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "stock_code and positive quantity required"})
		return
	}

	result, err := s.kis.PlaceOrder(r.Context(), side, req)
	if err != nil {
		if types.IsBrokerError(err) {
			// Order rejections come back as a failed result, not a transport
			// error, so executors can log the broker message.
			writeJSON(w, http.StatusOK, types.OrderResult{
				Success:   false,
				StockCode: req.StockCode,
				Quantity:  req.Quantity,
				Message:   err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}
	log.Info().
		Str("side", string(side)).
		Str("code", req.StockCode).
		Int64("qty", req.Quantity).
		Str("order_no", result.OrderNo).
		Msg("💰 order accepted")
	writeJSON(w, http.StatusOK, result)
}

type orderNoRequest struct {
	OrderNo string `json:"order_no"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req orderNoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ok, err := s.kis.CancelOrder(r.Context(), req.OrderNo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req orderNoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := s.kis.OrderStatus(r.Context(), req.OrderNo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.kis.Balance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleCash(w http.ResponseWriter, r *http.Request) {
	cash, err := s.kis.BuyingPower(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cash_balance": cash})
}

type subscribeRequest struct {
	StockCodes []string `json:"stock_codes"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	added := s.streamer.AddSubscriptions(context.WithoutCancel(r.Context()), req.StockCodes)
	if !s.streamer.IsRunning() {
		s.streamer.Start(context.Background())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"added":      added,
		"subscribed": s.streamer.SubscribedCodes(),
		"running":    s.streamer.IsRunning(),
	})
}
