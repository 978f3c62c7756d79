package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
	"golang.org/x/net/netutil"

	"github.com/nashif/zephyr-sub001/kernel/abi"
	"github.com/nashif/zephyr-sub001/kernel/micro"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// ServerConfig configures the monitor server.
type ServerConfig struct {
	// MaxConns caps concurrent connections on the listener (0 = no cap).
	MaxConns int
	// CommandRate and CommandBurst bound command records per remote host
	// per second.
	CommandRate  int64
	CommandBurst int64
	// QueueDepth is the per-session trace backlog before events are lost.
	QueueDepth   int
	WriteTimeout time.Duration
	// A session is dropped once BreakerFailures consecutive writes fail.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Logger          *utils.Logger
}

// DefaultServerConfig returns the settings used by the CLI.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConns:        16,
		CommandRate:     100,
		CommandBurst:    20,
		QueueDepth:      256,
		WriteTimeout:    2 * time.Second,
		BreakerFailures: 3,
		BreakerTimeout:  10 * time.Second,
	}
}

// Server streams trace records to websocket sessions and feeds their
// command records into the kernel through the interrupt surface.
type Server struct {
	cfg      ServerConfig
	k        *micro.Kernel
	buf      *TraceBuffer
	metrics  *Metrics
	log      *utils.Logger
	upgrader websocket.Upgrader
	limiter  *limiter.TokenBucket

	mu       sync.Mutex
	sessions map[string]*websocket.Conn
	wg       sync.WaitGroup
}

// NewServer creates a server for k. buf must be registered as a monitor of
// k; metrics may be nil.
func NewServer(k *micro.Kernel, buf *TraceBuffer, metrics *Metrics, cfg ServerConfig) (*Server, error) {
	def := DefaultServerConfig()
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = def.CommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = def.CommandBurst
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.DefaultLogger("monitor")
	}

	tb, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     cfg.CommandRate,
		Duration: time.Second,
		Burst:    cfg.CommandBurst,
	}, store.NewMemoryStore(time.Minute))
	if err != nil {
		return nil, utils.WrapError(err, "create command rate limiter")
	}

	return &Server{
		cfg:     cfg,
		k:       k,
		buf:     buf,
		metrics: metrics,
		log:     cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		limiter:  tb,
		sessions: make(map[string]*websocket.Conn),
	}, nil
}

// Handler routes /trace (websocket), /trace/dump (compressed snapshot) and
// /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/trace", s.handleTrace)
	mux.HandleFunc("/trace/dump", s.handleDump)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("Monitor listening", utils.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.closeSessions()
		return err
	case err := <-errCh:
		s.closeSessions()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Sessions returns the number of open trace sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	for _, conn := range s.sessions {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "br")
	if _, err := s.buf.WriteCompressed(w); err != nil {
		s.log.Warn("Trace dump failed", utils.Err(err))
	}
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", utils.Err(err))
		return
	}

	id := utils.GenerateID()
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	log := s.log.With(utils.String("session", utils.ShortID(id)), utils.String("remote", remote))

	events, unsubscribe := s.buf.Subscribe(s.cfg.QueueDepth)
	s.mu.Lock()
	s.sessions[id] = conn
	s.mu.Unlock()
	s.wg.Add(1)
	if s.metrics != nil {
		s.metrics.sessions.Inc()
	}
	log.Info("Monitor session opened")

	quit := make(chan struct{})
	writerDone := make(chan struct{})
	go s.writeLoop(conn, id, events, quit, writerDone, log)

	s.readLoop(conn, remote, log)

	missed := unsubscribe()
	close(quit)
	_ = conn.Close()
	<-writerDone

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.sessions.Dec()
	}
	log.Info("Monitor session closed", utils.Uint64("missed", missed))
	s.wg.Done()
}

// writeLoop streams trace records. Writes go through a breaker so a dead
// peer is dropped instead of retried forever.
func (s *Server) writeLoop(conn *websocket.Conn, id string, events <-chan micro.TraceEvent, quit <-chan struct{}, done chan<- struct{}, log *utils.Logger) {
	defer close(done)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trace-" + utils.ShortID(id),
		MaxRequests: 1,
		Timeout:     s.cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.cfg.BreakerFailures
		},
	})

	for {
		select {
		case ev := <-events:
			data, err := abi.EncodeTrace(ev)
			if err != nil {
				log.Warn("Trace encode failed", utils.Err(err))
				continue
			}
			_, err = breaker.Execute(func() (interface{}, error) {
				_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				return nil, conn.WriteMessage(websocket.BinaryMessage, data)
			})
			if errors.Is(err, gobreaker.ErrOpenState) {
				log.Warn("Dropping unresponsive monitor session")
				_ = conn.Close()
				return
			}
		case <-quit:
			return
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, remote string, log *utils.Logger) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Monitor session read failed", utils.Err(err))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if !s.limiter.Allow(remote) {
			s.outcome("limited")
			continue
		}
		rec, err := abi.Submit(s.k.ISR(), data)
		if err != nil {
			s.outcome("rejected")
			log.Debug("Command record rejected", utils.Err(err))
			continue
		}
		s.outcome("accepted")
		log.Debug("Command record queued", utils.String("op", rec.Op.String()), utils.Uint64("object", uint64(rec.Object)))
	}
}

func (s *Server) outcome(o string) {
	if s.metrics != nil {
		s.metrics.commandOutcome(o)
	}
}
