// Package web exposes the HTTP control surface: start/stop the scraper and
// trader, inspect and adjust the wallet and buy amount, list completed
// trades.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"cryptick/internal/entity"
)

type controller interface {
	Control(sig entity.ControlSignal)
	Scraping() bool
	Trading() bool
	BuyAmount() decimal.Decimal
	SetBuyAmount(amount decimal.Decimal) error
}

type balances interface {
	Base() string
	Quantity(asset string) decimal.Decimal
	SetQuantity(asset string, quantity decimal.Decimal) error
}

type tradeReader interface {
	Entries() ([]entity.TradeSummary, error)
}

// Server serves the control API.
type Server struct {
	addr    string
	control controller
	wallet  balances
	trades  tradeReader
	l       *zap.Logger
}

// NewServer builds the control server. Trades may be nil when no journal
// is configured.
func NewServer(addr string, control controller, wallet balances, trades tradeReader, l *zap.Logger) *Server {
	return &Server{addr: addr, control: control, wallet: wallet, trades: trades, l: l}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/scraper/start", s.controlHandler(entity.ControlStart))
	mux.HandleFunc("/scraper/stop", s.controlHandler(entity.ControlStop))
	mux.HandleFunc("/trader/start", s.controlHandler(entity.ControlStartTrading))
	mux.HandleFunc("/trader/stop", s.controlHandler(entity.ControlStopTrading))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/wallet", s.handleWallet)
	mux.HandleFunc("/amount", s.handleAmount)
	mux.HandleFunc("/trades", s.handleTrades)
	return mux
}

// Start runs the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.l.Warn("control server shutdown", zap.Error(err))
		}
	}()

	s.l.Info("control server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "control server failed")
	}
	return nil
}

// StartWithAutoTLS runs the control API over HTTPS with ACME-issued
// certificates, plus a port-80 listener for HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	challengeSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = challengeSrv.Shutdown(shutdownCtx)
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := challengeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("acme challenge server failed", zap.Error(err))
		}
	}()

	s.l.Info("control server listening with automatic tls", zap.String("addr", s.addr))
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "control server failed")
	}
	return nil
}

func (s *Server) controlHandler(sig entity.ControlSignal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.control.Control(sig)
		s.writeJSON(w, map[string]string{"applied": sig.String()})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]any{
		"scraping": s.control.Scraping(),
		"trading":  s.control.Trading(),
	})
}

type walletRequest struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		base := s.wallet.Base()
		s.writeJSON(w, map[string]string{
			"asset":    base,
			"quantity": s.wallet.Quantity(base).String(),
		})
	case http.MethodPost:
		var req walletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Asset == "" {
			req.Asset = s.wallet.Base()
		}
		if err := s.wallet.SetQuantity(req.Asset, req.Quantity); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, map[string]string{
			"asset":    req.Asset,
			"quantity": req.Quantity.String(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]string{"amount": s.control.BuyAmount().String()})
	case http.MethodPost:
		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.control.SetBuyAmount(req.Amount); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, map[string]string{"amount": req.Amount.String()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.trades == nil {
		s.writeJSON(w, []entity.TradeSummary{})
		return
	}
	entries, err := s.trades.Entries()
	if err != nil {
		s.l.Error("failed to read trade journal", zap.Error(err))
		http.Error(w, "failed to read trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("failed to encode response", zap.Error(err))
	}
}
