package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler consumes one inbound notification frame. A returned error is
// recorded as the router's error state but never stops the dispatch loop.
type Handler func(Frame) error

type handlerKey struct {
	module Module
	cmd    string
}

// SendOptions tunes a single SendRequest call.
type SendOptions struct {
	// Timeout overrides the router's default exchange deadline when positive.
	Timeout time.Duration

	// Fire marks the frame fire-and-forget: it is transmitted with a fresh
	// requestId but no pending exchange is created and the call returns the
	// frame as sent. Used for signaling relays where the recipient never
	// replies.
	Fire bool
}

type exchangeResult struct {
	frame Frame
	err   error
}

type exchange struct {
	id    string
	ch    chan exchangeResult
	timer *time.Timer
}

// Router is the single choke point for protocol traffic on one connection:
// it owns every pending exchange and every notification handler. Components
// other than the transport adapter never touch the socket directly.
type Router struct {
	cfg  *Config
	auth *AuthState

	mu       sync.Mutex
	send     func(Frame) error // nil while disconnected
	handlers map[handlerKey]Handler
	pending  map[string]*exchange

	lastErr          string
	heartbeatAt      time.Time
	heartbeatLatency time.Duration
}

func newRouter(cfg *Config, auth *AuthState) *Router {
	return &Router{
		cfg:      cfg,
		auth:     auth,
		handlers: make(map[handlerKey]Handler),
		pending:  make(map[string]*exchange),
	}
}

// RegisterHandler maps (module, cmd) to handler, replacing any previous
// mapping. Components re-register idempotently on mount, so the overwrite is
// silent and last-writer-wins.
func (r *Router) RegisterHandler(module Module, cmd string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[handlerKey{module, cmd}] = handler
}

// UnregisterHandler removes the mapping; no-op if absent.
func (r *Router) UnregisterHandler(module Module, cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, handlerKey{module, cmd})
}

// bind attaches the live connection's write function. A nil send detaches.
func (r *Router) bind(send func(Frame) error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.send = send
}

// Connected reports whether a live connection is bound.
func (r *Router) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.send != nil
}

func (r *Router) requestTimeout() time.Duration {
	if r.cfg != nil && r.cfg.requestTimeout > 0 {
		return r.cfg.requestTimeout
	}
	return 5 * time.Second
}

// SendRequest transmits f with a fresh correlation id and blocks until the
// matching response arrives, the deadline elapses, or the connection drops.
// Correlation is by requestId alone; responses may arrive in any order.
func (r *Router) SendRequest(f Frame, opts *SendOptions) (Frame, error) {
	if opts == nil {
		opts = &SendOptions{}
	}
	timeout := r.requestTimeout()
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	r.mu.Lock()
	if r.send == nil {
		r.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	if r.auth == nil || r.auth.Token() == "" {
		r.mu.Unlock()
		return Frame{}, ErrUnauthenticated
	}

	f.RequestID = "req_" + uuid.NewString()
	if f.Code == 0 {
		f.Code = CodeSuccess
	}
	if f.Msg == "" {
		f.Msg = "success"
	}
	send := r.send

	if opts.Fire {
		r.mu.Unlock()
		if err := send(f); err != nil {
			return Frame{}, fmt.Errorf("send %s:%s: %w", f.Module, f.Cmd, err)
		}
		return f, nil
	}

	ex := &exchange{
		id: f.RequestID,
		ch: make(chan exchangeResult, 1),
	}
	ex.timer = time.AfterFunc(timeout, func() { r.expire(ex) })
	r.pending[ex.id] = ex
	r.mu.Unlock()

	if err := send(f); err != nil {
		r.settle(ex, exchangeResult{err: fmt.Errorf("send %s:%s: %w", f.Module, f.Cmd, err)})
	}

	res := <-ex.ch
	if res.err != nil {
		return Frame{}, res.err
	}
	return res.frame, nil
}

// settle resolves ex exactly once: only the caller that removes it from the
// pending table delivers a result.
func (r *Router) settle(ex *exchange, res exchangeResult) {
	r.mu.Lock()
	cur, ok := r.pending[ex.id]
	if !ok || cur != ex {
		r.mu.Unlock()
		return
	}
	delete(r.pending, ex.id)
	r.mu.Unlock()

	ex.timer.Stop()
	ex.ch <- res
}

func (r *Router) expire(ex *exchange) {
	r.settle(ex, exchangeResult{err: fmt.Errorf("%w after %s (id=%s)", ErrTimeout, r.requestTimeout(), ex.id)})
}

// DispatchInbound routes one received frame. A frame carrying a known
// requestId is consumed by its pending exchange and never reaches a
// notification handler, so a command name reused for both a request ack and a
// broadcast cannot be misrouted. All other frames route by (module, cmd);
// unroutable frames are dropped with a diagnostic.
func (r *Router) DispatchInbound(f Frame) {
	if !f.Module.valid() || f.Cmd == "" {
		logf(r.cfg, "WS: dropping malformed frame (module=%q cmd=%q)", f.Module, f.Cmd)
		return
	}

	r.mu.Lock()
	if f.RequestID != "" {
		if ex, ok := r.pending[f.RequestID]; ok {
			delete(r.pending, f.RequestID)
			r.mu.Unlock()
			ex.timer.Stop()
			ex.ch <- exchangeResult{frame: f}
			return
		}
	}
	handler, ok := r.handlers[handlerKey{f.Module, f.Cmd}]
	r.mu.Unlock()

	if !ok {
		logf(r.cfg, "WS: no handler for %s:%s, frame dropped", f.Module, f.Cmd)
		return
	}

	if err := handler(f); err != nil {
		r.mu.Lock()
		r.lastErr = fmt.Sprintf("%s:%s handler: %v", f.Module, f.Cmd, err)
		r.mu.Unlock()
		logf(r.cfg, "WS: %s:%s handler failed: %v", f.Module, f.Cmd, err)
	}
}

// OnConnectionLost rejects every outstanding exchange with ErrConnectionLost
// and detaches the connection. Handler registrations persist; the components
// that own them are still mounted and will be served again after reconnect.
func (r *Router) OnConnectionLost() {
	r.mu.Lock()
	r.send = nil
	dropped := make([]*exchange, 0, len(r.pending))
	for _, ex := range r.pending {
		dropped = append(dropped, ex)
	}
	r.pending = make(map[string]*exchange)
	r.heartbeatLatency = 0
	r.mu.Unlock()

	for _, ex := range dropped {
		ex.timer.Stop()
		ex.ch <- exchangeResult{err: ErrConnectionLost}
	}
}

// Pending reports the number of in-flight exchanges, for diagnostics.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

// LastError returns the most recent notification-handler failure, if any.
func (r *Router) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastErr
}

func (r *Router) noteHeartbeat(at time.Time, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.heartbeatAt = at
	r.heartbeatLatency = latency
}

// HeartbeatStats returns the time of the last keep-alive echo and its
// measured round-trip latency.
func (r *Router) HeartbeatStats() (time.Time, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.heartbeatAt, r.heartbeatLatency
}
