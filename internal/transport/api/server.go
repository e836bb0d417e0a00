package api

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/engine"
)

// Server exposes read-only JSON views of the economy plus a small
// bearer-gated admin surface. All reads go through the engine loop, so
// every response is a consistent point-in-time view.
type Server struct {
	engine     *engine.Engine
	adminToken string
	log        *log.Logger
}

func NewServer(e *engine.Engine, adminToken string, logger *log.Logger) *Server {
	return &Server{engine: e, adminToken: adminToken, log: logger}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/params", s.handleParams)
	mux.HandleFunc("GET /api/mines", s.handleMines)
	mux.HandleFunc("GET /api/mines/{id}", s.handleMine)
	mux.HandleFunc("GET /api/mines/{id}/battles", s.handleBattles)
	mux.HandleFunc("GET /api/mines/{id}/power", s.handlePower)
	mux.HandleFunc("GET /api/players/{id}/balances", s.handleBalances)

	mux.HandleFunc("POST /admin/pause", s.admin(s.handlePause))
	mux.HandleFunc("POST /admin/unpause", s.admin(s.handleUnpause))
	mux.HandleFunc("POST /admin/mint", s.admin(s.handleMint))
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.engine.Status())
}

func (s *Server) handleParams(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.engine.Params())
}

func (s *Server) handleMines(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.engine.MineSnapshots())
}

func (s *Server) handleMine(rw http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.MineSnapshot(r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusNotFound, err)
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}

func (s *Server) handleBattles(rw http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	if limit > 200 {
		limit = 200
	}
	entries, total, err := s.engine.BattleLog(r.PathValue("id"), offset, limit)
	if err != nil {
		writeError(rw, http.StatusNotFound, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"offset":  offset,
	})
}

func (s *Server) handlePower(rw http.ResponseWriter, r *http.Request) {
	tier := queryInt(r, "tier", 0)
	qty := int64(queryInt(r, "quantity", 0))
	defending := r.URL.Query().Get("defending") == "true"
	power, err := s.engine.BattlePower(r.PathValue("id"), tier, qty, defending)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"power": power})
}

func (s *Server) handleBalances(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.engine.Balances(r.PathValue("id")))
}

func (s *Server) handlePause(rw http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(); err != nil {
		writeError(rw, http.StatusForbidden, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"paused": true})
}

func (s *Server) handleUnpause(rw http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unpause(); err != nil {
		writeError(rw, http.StatusForbidden, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"paused": false})
}

type mintRequest struct {
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleMint(rw http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if req.To == "" || req.Asset == "" || req.Amount <= 0 {
		writeError(rw, http.StatusBadRequest,
			protocol.Errf(protocol.ErrBadRequest, "mint needs to, asset, positive amount"))
		return
	}
	if err := s.engine.Mint(req.To, req.Asset, req.Amount); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if s.log != nil {
		s.log.Printf("api: minted %d %s to %s", req.Amount, req.Asset, req.To)
	}
	writeJSON(rw, http.StatusOK, s.engine.Balances(req.To))
}

// admin gates a handler behind the bearer token. With no token configured
// the whole admin surface is disabled.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			http.Error(rw, "admin api disabled", http.StatusForbidden)
			return
		}
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.adminToken
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]any{
		"error": protocol.CodeOf(err),
		"msg":   err.Error(),
	})
}
