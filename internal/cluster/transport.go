package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrUnknownName is returned by Dial for names nobody bound.
var ErrUnknownName = errors.New("unknown endpoint name")

// Conn is a connection to one named endpoint. A call either returns
// normally or fails with a *CallError; nothing is assumed about delivery
// beyond "at most once".
type Conn interface {
	Call(ctx context.Context, method string, args, reply any) error
}

// Transport binds services under names and looks names up.
type Transport interface {
	Bind(name string, svc *Service) error
	Dial(name string) (Conn, error)
}

// HandlerFunc serves one method. The returned value is encoded as the reply.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Service is a table of methods reachable through a transport.
type Service struct {
	methods map[string]HandlerFunc
}

// NewService returns an empty service.
func NewService() *Service {
	return &Service{methods: make(map[string]HandlerFunc)}
}

// Handle registers fn for method, decoding arguments into A.
func Handle[A, R any](s *Service, method string, fn func(ctx context.Context, args A) (R, error)) {
	s.methods[method] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decode %s arguments: %w", method, err)
			}
		}
		return fn(ctx, args)
	}
}

// Methods lists the registered method names.
func (s *Service) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	return out
}

func (s *Service) invoke(ctx context.Context, method string, raw json.RawMessage) (json.RawMessage, error) {
	h, ok := s.methods[method]
	if !ok {
		return nil, fmt.Errorf("no method %q", method)
	}
	out, err := h(ctx, raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// ServeHTTP dispatches POST /rpc/<method>. Application errors are answered
// with 422 and an error body so the caller can tell them apart from
// transport failures.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/rpc/")
	if _, ok := s.methods[method]; !ok {
		http.Error(w, "unknown method", http.StatusNotFound)
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	reply, err := s.invoke(r.Context(), method, raw)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(remoteError(err))
		return
	}
	_, _ = w.Write(reply)
}

// HTTPTransport resolves names through a directory of base URLs and calls
// them with PostJSON. Bound services are served by Handler.
type HTTPTransport struct {
	dir      map[string]string
	services map[string]*Service
	mux      *http.ServeMux
	mu       sync.RWMutex
}

// NewHTTPTransport returns a transport with an empty directory.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		dir:      make(map[string]string),
		services: make(map[string]*Service),
		mux:      http.NewServeMux(),
	}
}

// Register records that name is reachable at addr (a base URL).
func (t *HTTPTransport) Register(name, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dir[name] = strings.TrimRight(addr, "/")
}

// Forget removes name from the directory.
func (t *HTTPTransport) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dir, name)
}

// Bind serves svc's methods under /rpc/ on Handler.
func (t *HTTPTransport) Bind(name string, svc *Service) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.services[name]; ok {
		return fmt.Errorf("name %q already bound", name)
	}
	t.services[name] = svc
	for _, m := range svc.Methods() {
		t.mux.Handle("/rpc/"+m, svc)
	}
	return nil
}

// Handler serves every bound service.
func (t *HTTPTransport) Handler() http.Handler { return t.mux }

// Dial looks name up in the directory.
func (t *HTTPTransport) Dial(name string) (Conn, error) {
	t.mu.RLock()
	addr, ok := t.dir[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return httpConn{addr: addr}, nil
}

type httpConn struct {
	addr string
}

func (c httpConn) Call(ctx context.Context, method string, args, reply any) error {
	return PostJSON(ctx, c.addr+"/rpc/"+method, args, reply)
}

// Loopback is an in-process transport. Calls go through the same JSON
// encoding as HTTP; endpoints can be taken down or slowed down to exercise
// failure handling without a network.
type Loopback struct {
	services map[string]*Service
	down     map[string]bool
	delay    map[string]time.Duration
	mu       sync.RWMutex
}

// NewLoopback returns an empty in-process transport.
func NewLoopback() *Loopback {
	return &Loopback{
		services: make(map[string]*Service),
		down:     make(map[string]bool),
		delay:    make(map[string]time.Duration),
	}
}

// Bind registers svc under name.
func (l *Loopback) Bind(name string, svc *Service) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.services[name]; ok {
		return fmt.Errorf("name %q already bound", name)
	}
	l.services[name] = svc
	return nil
}

// Dial returns a connection to the service bound as name, or
// ErrUnknownName.
func (l *Loopback) Dial(name string) (Conn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.services[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return &loopConn{net: l, name: name}, nil
}

// SetDown makes every call to name fail as unreachable while down is true.
func (l *Loopback) SetDown(name string, down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down[name] = down
}

// SetDelay delays every call to name by d before it is dispatched.
func (l *Loopback) SetDelay(name string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay[name] = d
}

type loopConn struct {
	net  *Loopback
	name string
}

func (c *loopConn) Call(ctx context.Context, method string, args, reply any) error {
	c.net.mu.RLock()
	svc, down, delay := c.net.services[c.name], c.net.down[c.name], c.net.delay[c.name]
	c.net.mu.RUnlock()
	target := c.name + "/" + method

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return classify(ctx, target, ctx.Err())
		}
	}
	if down || svc == nil {
		return &CallError{Target: target, Outcome: OutcomeUnreachable, Err: errors.New("endpoint down")}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	out, err := svc.invoke(ctx, method, raw)
	if err != nil {
		eb := remoteError(err)
		return &CallError{Target: target, Outcome: OutcomeRemote, Code: eb.Code, Err: err}
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(out, reply); err != nil {
		return &CallError{Target: target, Outcome: OutcomeUnreachable, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return nil
}
