package public

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/chainaudit/chainaudit/internal/chain"
)

// Server exposes the façade over HTTP:
//
//	GET /api/report           — Full public report (status + entries + counts)
//	GET /api/status           — Chain verification result only
//	GET /api/entries          — Public entries, filterable via query params
//	GET /api/stats            — Chain statistics
//	GET /api/access           — Façade access statistics
//	GET /api/export/redacted  — All entries with sensitive payloads redacted
//	GET /ws                   — Live feed of newly appended public entries
type Server struct {
	facade *Facade
	store  *chain.Store
	hub    *wsHub
}

// NewServer creates the façade HTTP server. Call Handler to mount it and
// Run to start the live feed pump.
func NewServer(facade *Facade, store *chain.Store) *Server {
	s := &Server{
		facade: facade,
		store:  store,
		hub:    newWSHub(),
	}
	go s.hub.run()
	return s
}

// Run follows the chain and broadcasts new public entries to connected
// websocket clients. Blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.store.Follow(ctx, func(e chain.Entry) {
		if !s.facade.Visible(e) {
			return
		}
		data, err := json.Marshal(e)
		if err != nil {
			slog.Error("marshaling feed entry", "seq", e.Sequence, "error", err)
			return
		}
		s.hub.broadcast(data)
	})
}

// Handler returns the façade's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/entries", s.handleEntries)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/access", s.handleAccess)
	mux.HandleFunc("/api/export/redacted", s.handleRedacted)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	report, err := s.facade.Report(r.Context())
	if err != nil {
		slog.Error("building public report", "error", err)
		http.Error(w, "report generation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.facade.VerifyChain(r.Context())
	if err != nil {
		slog.Error("verifying chain", "error", err)
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEntries serves the public entry list.
// GET /api/entries?type=kernel_op&actor=kernel&since=1h&limit=50
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := chain.Filter{
		Actor:     q.Get("actor"),
		ActorGlob: q.Get("actor_glob"),
		Since:     q.Get("since"),
		Until:     q.Get("until"),
	}
	if t := q.Get("type"); t != "" {
		filter.EventTypes = []chain.EventType{chain.EventType(t)}
	}
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	entries, err := s.facade.VisibleEntries(r.Context(), filter)
	if err != nil {
		if chain.IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("querying public entries", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []chain.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.facade.Stats()
	if err != nil {
		slog.Error("reading chain stats", "error", err)
		http.Error(w, "stats failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.facade.AccessStats())
}

func (s *Server) handleRedacted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	entries, err := s.facade.RedactedExport(r.Context())
	if err != nil {
		slog.Error("building redacted export", "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []chain.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
