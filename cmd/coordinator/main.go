// Package main runs the search coordinator: workers register over HTTP,
// the coordinator drives them through the Searcher contract and they report
// back on /rpc/Coordinator.ReportResults.
//
// Endpoints:
//
//	POST /register                      worker registration
//	GET  /workers                       active workers and their health
//	GET  /health                        liveness
//	POST /rpc/Coordinator.ReportResults worker reports
//	POST /play     {"vertex":"D4"}      play a move
//	POST /genmove                       choose and play a move
//	GET  /config, POST /config          read or set configuration keys
//	POST /komi     {"komi":6.5}         set komi
//	POST /undo                          take back the last move
//	POST /clear                         start a new game
//	GET  /stats[?format=text]           last round's statistics
//	GET  /history                       how each move of the game was chosen
//
// Configuration comes from TENUKI_CONFIG (a YAML file) and environment
// variables; see internal/config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muesli/termenv"

	"github.com/dreamware/tenuki/internal/board"
	"github.com/dreamware/tenuki/internal/book"
	"github.com/dreamware/tenuki/internal/cluster"
	"github.com/dreamware/tenuki/internal/config"
	"github.com/dreamware/tenuki/internal/coordinator"
	"github.com/dreamware/tenuki/internal/history"
	"github.com/dreamware/tenuki/internal/player"
)

// coordinatorName is the name the Reporter service is bound under.
const coordinatorName = "coordinator"

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	srv, err := newServer(context.Background(), cfg)
	if err != nil {
		logFatal("coordinator: %v", err)
		return
	}
	defer srv.coord.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.HealthInterval > 0 {
		go srv.monitor.Start(ctx, srv.coord.Workers)
		defer srv.monitor.Stop()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s (policy %s, %dx%d)", cfg.Addr, srv.coord.PolicyName(), cfg.BoardSize, cfg.BoardSize)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("coordinator stopped")
}

type server struct {
	coord     *coordinator.Coordinator
	transport *cluster.HTTPTransport
	monitor   *coordinator.HealthMonitor
	mux       *http.ServeMux
}

// newServer builds the coordinator described by cfg, applies the
// configured engine settings and binds the Reporter service.
func newServer(ctx context.Context, cfg config.Coordinator) (*server, error) {
	var bk book.Book = book.None{}
	if cfg.Book != "" {
		p, err := book.Load(cfg.Book)
		if err != nil {
			return nil, err
		}
		if p.Size() != cfg.BoardSize {
			return nil, fmt.Errorf("book %s is for %dx%d, board is %dx%d", cfg.Book, p.Size(), p.Size(), cfg.BoardSize, cfg.BoardSize)
		}
		log.Printf("coordinator: loaded %d book positions from %s", p.Len(), cfg.Book)
		bk = p
	}

	coord, err := coordinator.New(coordinator.Config{
		Registry:      player.Default(),
		Book:          bk,
		Policy:        cfg.Policy,
		Player:        cfg.Player,
		LocalPlayer:   cfg.LocalPlayer,
		BoardSize:     cfg.BoardSize,
		Komi:          cfg.Komi,
		SearchTimeout: cfg.SearchTimeout,
		MoveTime:      cfg.MoveTime,
		CallTimeout:   cfg.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	for _, s := range cfg.Settings {
		if err := coord.SetConfiguration(ctx, s.Key, s.Value); err != nil {
			coord.Close()
			return nil, fmt.Errorf("setting %s: %w", s.Key, err)
		}
	}

	transport := cluster.NewHTTPTransport()
	if err := transport.Bind(coordinatorName, cluster.ServeReporter(coord)); err != nil {
		coord.Close()
		return nil, err
	}

	s := &server{
		coord:     coord,
		transport: transport,
		monitor:   coord.Monitor(cfg.HealthInterval),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/workers", s.handleWorkers)
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.Handle("/rpc/", transport.Handler())
	s.mux.HandleFunc("/play", s.handlePlay)
	s.mux.HandleFunc("/genmove", s.handleGenmove)
	s.mux.HandleFunc("/config", s.handleConfig)
	s.mux.HandleFunc("/komi", s.handleKomi)
	s.mux.HandleFunc("/undo", s.handleUndo)
	s.mux.HandleFunc("/clear", s.handleClear)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/history", s.handleHistory)
	return s, nil
}

// registerReply tells a worker the id it was added under.
type registerReply struct {
	ID int `json:"id"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}

	s.transport.Register(req.Node.ID, req.Node.Addr)
	conn, err := s.transport.Dial(req.Node.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	id, err := s.coord.AddWorker(r.Context(), req.Node.ID, cluster.NewRemoteSearcher(conn))
	if err != nil {
		s.transport.Forget(req.Node.ID)
		http.Error(w, fmt.Sprintf("worker not added: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, registerReply{ID: id})
}

type workerStatus struct {
	coordinator.Member
	Healthy bool `json:"healthy"`
	Points  int  `json:"points,omitempty"`
}

func (s *server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	alloc, partitioned := s.coord.Allocation()
	members := s.coord.Workers()
	out := make([]workerStatus, len(members))
	for i, m := range members {
		out[i] = workerStatus{Member: m, Healthy: s.monitor.IsHealthy(m.ID)}
		if partitioned {
			out[i].Points = len(alloc.Points(m.ID))
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Policy  string         `json:"policy"`
		Workers []workerStatus `json:"workers"`
	}{Policy: s.coord.PolicyName(), Workers: out})
}

type moveRequest struct {
	Vertex string `json:"vertex"`
}

type moveReply struct {
	Vertex string `json:"vertex"`
	ToPlay string `json:"to_play"`
}

func (s *server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	p, err := s.coord.Board().Parse(req.Vertex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coord.AdvanceGame(r.Context(), p); err != nil {
		writeGameError(w, err)
		return
	}
	b := s.coord.Board()
	writeJSON(w, http.StatusOK, moveReply{Vertex: b.Format(p), ToPlay: b.ColorToPlay().String()})
}

func (s *server) handleGenmove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	move, err := s.coord.ChooseMove(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	vertex := s.coord.Board().Format(move)
	if err := s.coord.AdvanceGame(r.Context(), move); err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, moveReply{Vertex: vertex, ToPlay: s.coord.Board().ColorToPlay().String()})
}

type configRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.coord.Settings())
	case http.MethodPost:
		var req configRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := s.coord.SetConfiguration(r.Context(), req.Key, req.Value); err != nil {
			writeGameError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleKomi(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Komi float64 `json:"komi"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	_ = s.coord.SetKomi(r.Context(), req.Komi)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.coord.Undo(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_ = s.coord.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type statsReply struct {
	Policy   string  `json:"policy"`
	Workers  int     `json:"workers"`
	Playouts int64   `json:"playouts"`
	Runs     []int64 `json:"runs"`
	Wins     []int64 `json:"wins"`
	Board    string  `json:"board"`
}

// handleStats reports the totals of the last decided round. With
// format=text the board is drawn with the win counts as a heat map;
// color=true keeps ANSI colors.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	last, err := s.coord.LastRound()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	b := s.coord.Board()

	profile := termenv.Ascii
	if r.URL.Query().Get("color") == "true" {
		profile = termenv.ANSI256
	}
	out := termenv.NewOutput(w, termenv.WithProfile(profile))
	drawn := b.Render(out, last.Wins)

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, drawn)
		return
	}
	writeJSON(w, http.StatusOK, statsReply{
		Policy:   s.coord.PolicyName(),
		Workers:  len(s.coord.Workers()),
		Playouts: s.coord.TotalPlayouts(r.Context()),
		Runs:     last.Runs,
		Wins:     last.Wins,
		Board:    drawn,
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Stats     history.Stats      `json:"stats"`
		Decisions []history.Decision `json:"decisions"`
	}{Stats: s.coord.HistoryStats(), Decisions: s.coord.History()})
}

// writeGameError maps coordinator errors to status codes.
func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cluster.ErrConfiguration):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, board.ErrIllegal):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
