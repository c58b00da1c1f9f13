// Package tcpserver implements the serve engine: it accepts TCP connections,
// runs the connect handshake, keeps one session per client id, dispatches
// received frames to handlers and drains a bounded send queue.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-netserve/bufpool"
	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/handler"
	"github.com/cyberinferno/go-netserve/idgenerator"
	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/presence"
	"github.com/cyberinferno/go-netserve/safeset"
	"github.com/cyberinferno/go-netserve/session"
	"golang.org/x/sync/errgroup"
)

// Option customises an Engine.
type Option func(*options)

type options struct {
	log     logger.Logger
	metrics Metrics
	tracker presence.Tracker
	pool    *bufpool.Pool
	ids     *idgenerator.IdGenerator
	onOpen  func(s *session.Session)
}

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics sets the metrics sink. The default is NopMetrics.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPresence publishes session online/offline events to t.
func WithPresence(t presence.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithBufferPool makes the engine rent frame buffers from p. The engine
// does not close a pool it was given.
func WithBufferPool(p *bufpool.Pool) Option {
	return func(o *options) { o.pool = p }
}

// WithSessionOpened registers f to run on the session's receive goroutine
// right after the session is installed, before its first frame is read.
func WithSessionOpened(f func(s *session.Session)) Option {
	return func(o *options) { o.onOpen = f }
}

// WithIDGenerator sets the generator used when AssignSessionIDs is enabled.
func WithIDGenerator(g *idgenerator.IdGenerator) Option {
	return func(o *options) { o.ids = g }
}

type connectItem struct {
	conn net.Conn
}

type sendItem[P any] struct {
	session *session.Session
	payload P
}

// run is the state of one Start..Stop cycle. Queues belong to the cycle, so
// loops of a stopped run never take work queued for the next one.
type run[P any] struct {
	ctx          context.Context
	cancel       context.CancelFunc
	ln           net.Listener
	pool         *bufpool.Pool
	ownsPool     bool
	connectQueue chan connectItem
	sendQueue    chan sendItem[P]
	loops        errgroup.Group
	receivers    receiverGroup
	errs         []error
}

// receiverGroup counts receive goroutines, leaving out those that are
// running a handler or the session-opened hook. Stop waits for it to reach
// zero, so a callback that stops the engine never waits on itself.
type receiverGroup struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (g *receiverGroup) add(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n += delta
	if g.n == 0 && g.cond != nil {
		g.cond.Broadcast()
	}
}

// outside runs f with the calling receiver not counted.
func (g *receiverGroup) outside(f func()) {
	g.add(-1)
	defer g.add(1)

	f()
}

func (g *receiverGroup) wait() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cond == nil {
		g.cond = sync.NewCond(&g.mu)
	}

	for g.n > 0 {
		g.cond.Wait()
	}
}

// Engine is a TCP session server for payloads of type P. Each payload type
// is encoded by the handler registered for it in the registry.
//
// Example:
//
//	b := handler.NewBuilder(log)
//	_ = handler.Register[Ping](b, 1, func() handler.Handler { return handler.NewTyped[Ping](1, frame.Binary, onPing) })
//	reg, _ := b.Build()
//	e := tcpserver.New[any](tcpserver.DefaultConfig(), reg, tcpserver.WithLogger(log))
//	ln, _ := net.Listen("tcp", ":9000")
//	_ = e.Start(ctx, ln)
//	defer e.Stop()
type Engine[P any] struct {
	cfg      Config
	registry *handler.Registry
	log      logger.Logger
	metrics  Metrics
	tracker  presence.Tracker
	pool     *bufpool.Pool
	ids      *idgenerator.IdGenerator
	onOpen   func(s *session.Session)

	sessions *session.Table
	pending  *safeset.SafeSet[net.Conn]

	mu      sync.Mutex
	current atomic.Pointer[run[P]]
	running atomic.Bool
}

// New creates an Engine. It does not listen until Start is called.
//
// Parameters:
//   - cfg: Engine tunables; zero sizing fields take their DefaultConfig value
//   - registry: Handler registry used for receive dispatch and send encoding
//   - opts: Optional logger, metrics, presence tracker, buffer pool and id generator
//
// Returns:
//   - A stopped Engine
func New[P any](cfg Config, registry *handler.Registry, opts ...Option) *Engine[P] {
	cfg = cfg.withDefaults()

	o := options{log: logger.Nop(), metrics: NopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	if o.ids == nil {
		o.ids = idgenerator.NewIdGenerator(0)
	}

	return &Engine[P]{
		cfg:      cfg,
		registry: registry,
		log:      o.log.With(logger.Field{Key: "server", Value: cfg.Name}),
		metrics:  o.metrics,
		tracker:  o.tracker,
		pool:     o.pool,
		ids:      o.ids,
		onOpen:   o.onOpen,
		sessions: session.NewTable(),
		pending:  safeset.NewSafeSet[net.Conn](),
	}
}

func (e *Engine[P]) newRun(ctx context.Context, ln net.Listener) *run[P] {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run[P]{
		ctx:          runCtx,
		cancel:       cancel,
		ln:           ln,
		pool:         e.pool,
		connectQueue: make(chan connectItem, e.cfg.ConnectQueueSize),
		sendQueue:    make(chan sendItem[P], e.cfg.SendQueueSize),
	}

	if r.pool == nil {
		r.pool = bufpool.NewDefault()
		r.ownsPool = true
	}

	return r
}

// Start begins serving on ln. If the engine is already running, the
// previous run is taken out of service before ln is served and Start
// returns once it has wound down. Start takes ownership of ln and closes it
// on Stop or when ctx is cancelled.
//
// Parameters:
//   - ctx: Parent context of every background loop
//   - ln: Listener to accept on
//
// Returns:
//   - ErrNilListener, ErrNilRegistry, ErrRegistryConfig or a wrapped
//     ErrStartFailed; nil once the accept, connect and send loops are scheduled
func (e *Engine[P]) Start(ctx context.Context, ln net.Listener) (err error) {
	if ln == nil {
		e.log.Error("cannot start without a listener")
		return ErrNilListener
	}

	if e.registry == nil {
		e.log.Error("cannot start without a handler registry")
		return ErrNilRegistry
	}

	if e.cfg.StrictRegistry {
		if rerr := e.registry.Err(); rerr != nil {
			e.log.Error("refusing to start with a misconfigured registry", logger.Err(rerr))
			return fmt.Errorf("%w: %w", ErrRegistryConfig, rerr)
		}
	}

	e.mu.Lock()
	prev := e.detach()
	err = e.launch(ctx, ln)
	e.mu.Unlock()

	if prev != nil {
		if perr := e.finish(prev); perr != nil {
			e.log.Warn("restart: previous run stopped with errors", logger.Err(perr))
		}
	}

	if err != nil {
		return err
	}

	e.log.Info("engine started", logger.Field{Key: "addr", Value: ln.Addr().String()})

	return nil
}

// launch installs a new run and schedules its loops. The caller holds e.mu.
func (e *Engine[P]) launch(ctx context.Context, ln net.Listener) (err error) {
	r := e.newRun(ctx, ln)

	defer func() {
		if rec := recover(); rec != nil {
			r.cancel()
			_ = ln.Close()
			e.current.Store(nil)
			e.running.Store(false)
			err = fmt.Errorf("%w: %v", ErrStartFailed, rec)
			e.log.Error("engine failed to start", logger.Err(err))
		}
	}()

	e.current.Store(r)

	r.loops.Go(func() error {
		e.acceptLoop(r)
		return nil
	})
	r.loops.Go(func() error {
		e.connectLoop(r)
		return nil
	})
	r.loops.Go(func() error {
		e.sendLoop(r)
		return nil
	})
	r.loops.Go(func() error {
		<-r.ctx.Done()
		_ = r.ln.Close()
		return nil
	})

	e.running.Store(true)

	return nil
}

// Stop closes the listener and every session, waits for the background
// loops and receive loops to exit, then releases the buffer pool if the
// engine created it. Calling Stop on a stopped engine is a no-op.
//
// Stop may be called from a handler or the session-opened hook. Receive
// loops that are inside such a callback are not waited for; they exit as
// soon as the callback returns. Of several concurrent Stop calls only one
// waits, the others return nil at once.
//
// Returns:
//   - The joined errors from closing the listener and sessions, or nil
func (e *Engine[P]) Stop() error {
	e.mu.Lock()
	r := e.detach()
	e.mu.Unlock()

	if r == nil {
		return nil
	}

	return e.finish(r)
}

// detach takes the current run out of service: it is cancelled, and its
// listener, handshaking connections and sessions are closed. The caller
// holds e.mu.
func (e *Engine[P]) detach() *run[P] {
	r := e.current.Swap(nil)
	if r == nil {
		return nil
	}

	e.running.Store(false)
	r.cancel()

	if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		r.errs = append(r.errs, fmt.Errorf("close listener: %w", err))
	}

	for _, conn := range e.pending.Drain() {
		_ = conn.Close()
	}

	if err := e.sessions.CloseAll(); err != nil {
		r.errs = append(r.errs, err)
	}

	return r
}

// finish waits for a detached run to wind down.
func (e *Engine[P]) finish(r *run[P]) error {
	_ = r.loops.Wait()
	r.receivers.wait()
	e.drainQueues(r)

	if r.ownsPool {
		r.pool.Close()
	}

	e.log.Info("engine stopped")

	return errors.Join(r.errs...)
}

// drainQueues discards work left behind by a stopped run. Connections that
// never reached the handshake are told the server is shutting down.
func (e *Engine[P]) drainQueues(r *run[P]) {
	for {
		select {
		case item := <-r.connectQueue:
			_ = e.reject(r, item.conn, 0, frame.ErrServerShutdown)
			_ = item.conn.Close()
		case <-r.sendQueue:
			e.metrics.SendDropped("shutdown")
		default:
			return
		}
	}
}

// IsRunning reports whether the engine is started and its context is live.
func (e *Engine[P]) IsRunning() bool {
	r := e.current.Load()
	return e.running.Load() && r != nil && r.ctx.Err() == nil
}

// Addr returns the listener address, or nil when stopped.
func (e *Engine[P]) Addr() net.Addr {
	if r := e.current.Load(); r != nil {
		return r.ln.Addr()
	}

	return nil
}

// Session returns the live session for id.
//
// Parameters:
//   - id: Session id
//
// Returns:
//   - The session and true if one is registered under id
func (e *Engine[P]) Session(id uint32) (*session.Session, bool) {
	return e.sessions.Get(id)
}

// RangeSessions calls f for each registered session until f returns false.
func (e *Engine[P]) RangeSessions(f func(s *session.Session) bool) {
	e.sessions.Range(f)
}

// SessionCount returns the number of registered sessions.
func (e *Engine[P]) SessionCount() int {
	return e.sessions.Len()
}

// Stats is a point-in-time view of engine occupancy.
type Stats struct {
	Sessions      int
	Handshaking   int
	ConnectQueued int
	SendQueued    int
}

// Stats returns current session and queue occupancy. Queue lengths are
// zero while the engine is stopped.
func (e *Engine[P]) Stats() Stats {
	st := Stats{
		Sessions:    e.sessions.Len(),
		Handshaking: e.pending.Size(),
	}

	if r := e.current.Load(); r != nil {
		st.ConnectQueued = len(r.connectQueue)
		st.SendQueued = len(r.sendQueue)
	}

	return st
}

// Config returns the effective configuration.
func (e *Engine[P]) Config() Config {
	return e.cfg
}
