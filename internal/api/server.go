// Package api provides the read-only HTTP API for observing a running
// session. All endpoints are GET; the simulation is mutated only by the tick
// loop and player actions, never over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cultivar/emporium/internal/persistence"
	"github.com/cultivar/emporium/internal/sim"
)

// Server serves session state over HTTP.
type Server struct {
	Core *sim.Core
	DB   *persistence.DB
	Port int
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/market", s.handleMarket)
	mux.HandleFunc("/api/v1/ledger", s.handleLedger)
	mux.HandleFunc("/api/v1/inventory", s.handleInventory)
	mux.HandleFunc("/api/v1/contracts", s.handleContracts)
	mux.HandleFunc("/api/v1/relations", s.handleRelations)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"day":        s.Core.Day,
		"conditions": s.Core.Market.Conditions(),
		"net_worth":  s.Core.Ledger.NetWorth(),
		"reputation": s.Core.Relations.Player(),
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"conditions": s.Core.Market.State.Conditions,
		"products":   s.Core.Market.State.Products,
		"categories": s.Core.Market.State.Categories,
		"events":     s.Core.Market.State.Events,
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Core.Ledger.Report())
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"lots":    s.Core.Trading.Lots(),
		"pending": s.Core.Trading.State.Queue,
	})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"offers":    s.Core.Contracts.State.Offers,
		"contracts": s.Core.Contracts.State.Contracts,
	})
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"player":         s.Core.Relations.State.Player,
		"counterparties": s.Core.Relations.State.Counterparties,
		"events":         s.Core.Relations.State.Events,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	stored, err := s.DB.RecentEvents(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stored)
}
