// Package api provides the HTTP and WebSocket surface of the simulator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/internal/engine"
	"github.com/dexsim/trading-sim/internal/events"
)

// Config holds the HTTP server settings.
type Config struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"webSocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
}

// DefaultServerConfig returns sensible local-development settings.
func DefaultServerConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          8080,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
	}
}

// Server exposes the engine over HTTP and streams its events over
// WebSocket.
type Server struct {
	logger     *zap.Logger
	config     Config
	engine     *engine.Engine
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	upgrader   websocket.Upgrader
	sub        *events.Subscription
}

// NewServer creates the API server and wires the event stream into the
// WebSocket hub.
func NewServer(logger *zap.Logger, config Config, eng *engine.Engine) *Server {
	s := &Server{
		logger: logger.Named("api"),
		config: config,
		engine: eng,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, no origin policy
			},
		},
	}

	s.sub = eng.SubscribeAll(func(ev events.Event) error {
		s.hub.BroadcastEvent(ev)
		return nil
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/prices", s.handleGetPrices).Methods("GET")
	s.router.HandleFunc("/api/v1/prices/{asset}", s.handleGetPrice).Methods("GET")
	s.router.HandleFunc("/api/v1/prices/{asset}", s.handleSetPrice).Methods("PUT")
	s.router.HandleFunc("/api/v1/regime", s.handleGetRegime).Methods("GET")
	s.router.HandleFunc("/api/v1/risk", s.handleGetRisk).Methods("GET")

	s.router.HandleFunc("/api/v1/portfolio", s.handleGetPortfolio).Methods("GET")
	s.router.HandleFunc("/api/v1/portfolio/balances/{asset}", s.handleGetBalance).Methods("GET")
	s.router.HandleFunc("/api/v1/portfolio/deposit", s.handleDeposit).Methods("POST")
	s.router.HandleFunc("/api/v1/portfolio/reset", s.handleReset).Methods("POST")

	s.router.HandleFunc("/api/v1/trades", s.handleGetTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/trades", s.handleExecuteTrade).Methods("POST")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.engine.Metrics().Registry(), promhttp.HandlerOpts{}))
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.engine.Unsubscribe(s.sub)
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"active": s.engine.IsActive(),
		"events": s.engine.EventStats(),
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"prices": s.engine.GetAllPrices(),
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	price, err := s.engine.GetMarketPrice(asset)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset": asset,
		"price": price,
	})
}

type setPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.engine.SetMarketPrice(asset, req.Price); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset": asset,
		"price": req.Price,
	})
}

func (s *Server) handleGetRegime(w http.ResponseWriter, r *http.Request) {
	regime, confidence, held := s.engine.GetMarketRegime()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"regime":     regime,
		"confidence": confidence,
		"heldFor":    held.String(),
	})
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.GetRiskSnapshot())
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.GetPortfolio())
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":   asset,
		"balance": s.engine.GetBalance(asset),
	})
}

type depositRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.engine.AddBalance(req.Asset, req.Amount); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":   req.Asset,
		"balance": s.engine.GetBalance(req.Asset),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.engine.GetTradeHistory()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

type executeTradeRequest struct {
	AssetIn      string          `json:"assetIn"`
	AssetOut     string          `json:"assetOut"`
	AmountIn     decimal.Decimal `json:"amountIn"`
	MinAmountOut decimal.Decimal `json:"minAmountOut"`
	MaxSlippage  decimal.Decimal `json:"maxSlippage"`
}

func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req executeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	trade, err := s.engine.ExecuteTrade(r.Context(), req.AssetIn, req.AssetOut, req.AmountIn, req.MinAmountOut, req.MaxSlippage)
	if err != nil {
		if errors.Is(err, engine.ErrEngineStopped) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// channelFor maps an event type to the channel its events stream on.
func channelFor(t events.Type) string {
	switch t {
	case events.TypePriceUpdate:
		return "prices"
	case events.TypeTradeCreated, events.TypeTradeCompleted, events.TypeTradeFailed:
		return "trades"
	case events.TypeRiskAlert:
		return "risk"
	default:
		return "lifecycle"
	}
}
