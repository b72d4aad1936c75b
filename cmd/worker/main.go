// Package main runs a search worker. It serves the Searcher contract on
// /rpc/, registers with the coordinator and reports every finished search
// back to it.
//
// Configuration:
//   - WORKER_NAME: Unique worker name (required)
//   - WORKER_LISTEN: Listen address (default: ":8081")
//   - WORKER_ADDR: Public base URL for the coordinator (default: "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//
// Example usage:
//
//	WORKER_NAME=w-1 \
//	WORKER_LISTEN=:8081 \
//	WORKER_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./worker
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/tenuki/internal/cluster"
	"github.com/dreamware/tenuki/internal/player"
	"github.com/dreamware/tenuki/internal/worker"
)

// coordinatorName is the directory entry the reporter dials.
const coordinatorName = "coordinator"

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// registerAttempts and registerDelay bound how long a worker waits for the
// coordinator to come up.
var (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
)

// process is one worker: the adapter and the HTTP surface around it.
type process struct {
	adapter *worker.Adapter
	mux     *http.ServeMux
}

// newProcess binds an adapter named name that reports to the coordinator at
// coordAddr.
func newProcess(name, coordAddr string) (*process, error) {
	transport := cluster.NewHTTPTransport()
	transport.Register(coordinatorName, coordAddr)
	conn, err := transport.Dial(coordinatorName)
	if err != nil {
		return nil, err
	}
	adapter := worker.NewAdapter(name, player.Default(), cluster.NewRemoteReporter(conn))
	if err := transport.Bind(name, cluster.ServeSearcher(adapter)); err != nil {
		return nil, err
	}

	p := &process{adapter: adapter, mux: http.NewServeMux()}
	p.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	p.mux.HandleFunc("/info", p.handleInfo)
	p.mux.Handle("/rpc/", transport.Handler())
	return p, nil
}

type infoReply struct {
	cluster.Identity
	Playouts int64 `json:"playouts"`
}

func (p *process) handleInfo(w http.ResponseWriter, r *http.Request) {
	id, _ := p.adapter.Identity(r.Context())
	playouts, _ := p.adapter.TotalPlayouts(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(infoReply{Identity: id, Playouts: playouts})
}

func main() {
	name := mustGetenv("WORKER_NAME")
	listen := getenv("WORKER_LISTEN", ":8081")
	public := getenv("WORKER_ADDR", "http://127.0.0.1:8081")
	coord := mustGetenv("COORDINATOR_ADDR")

	p, err := newProcess(name, coord)
	if err != nil {
		logFatal("worker: %v", err)
		return
	}

	s := &http.Server{
		Addr:              listen,
		Handler:           p.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("worker[%s] listening on %s (public %s)", name, listen, public)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	register(context.Background(), coord, name, public)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	_ = p.adapter.Reset(ctx)
	p.adapter.Wait()
	log.Println("worker stopped")
}

// register announces the worker to the coordinator, retrying while the
// coordinator starts. The coordinator pushes the game to the worker before
// answering, so a 502 means it could not reach us back. Persistent failure
// is fatal. Returns the id the coordinator assigned.
func register(ctx context.Context, coord, name, addr string) int {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: name, Addr: addr}}
	var reply struct {
		ID int `json:"id"`
	}
	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, coord+"/register", body, &reply)
		if lastErr == nil {
			log.Printf("registered with coordinator @ %s as worker %d", coord, reply.ID)
			return reply.ID
		}
		log.Printf("register retry %d: %v", i+1, lastErr)
		time.Sleep(registerDelay)
	}
	logFatal("failed to register with coordinator: %v", lastErr)
	return 0
}

// getenv returns $k, or def when it is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv returns $k and is fatal when it is unset or empty.
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
