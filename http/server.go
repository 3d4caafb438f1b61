package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/config"
	"github.com/kychandar/robobridge/ds"
	"github.com/kychandar/robobridge/services"
	"github.com/kychandar/robobridge/services/scheduler"
	"github.com/kychandar/robobridge/services/session"
	"github.com/kychandar/robobridge/services/topics"
	websocketbridge "github.com/kychandar/robobridge/services/websocketBridge"
	wswritechannelmanager "github.com/kychandar/robobridge/services/wsWriteChanManager"
	slogctx "github.com/veqryn/slog-context"
)

const (
	// WebSocket timeout constants
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	dropQueueFull = "queue_full"
)

type Options struct {
	Robot           config.RobotConfig
	Host            string
	TLS             config.TLSConfig
	ShutdownTimeout time.Duration
	// FrameRate and FrameBurst limit inbound frames per connection when
	// BridgeFactory is nil. FrameRate 0 disables the limit.
	FrameRate  float64
	FrameBurst int

	Registry      *topics.Registry
	Scheduler     *scheduler.Scheduler
	WriterManager services.WsWriteChanManager
	BridgeFactory websocketbridge.Factory
	Metrics       services.MetricsRegistry
	Logger        *slog.Logger
}

type connEntry struct {
	conn    *websocket.Conn
	session services.Session
}

// Server is the bridge endpoint of one robot. Endpoints share no state.
type Server struct {
	robot           config.RobotConfig
	host            string
	tls             config.TLSConfig
	shutdownTimeout time.Duration

	registry      *topics.Registry
	scheduler     *scheduler.Scheduler
	writerManager services.WsWriteChanManager
	bridgeFactory websocketbridge.Factory
	metrics       services.MetricsRegistry
	logger        *slog.Logger

	conns      *haxmap.Map[common.ConnID, *connEntry]
	httpServer *http.Server
	listening  atomic.Bool
	addr       atomic.Value
	connWg     sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.WriterManager == nil {
		opts.WriterManager = wswritechannelmanager.NewClientWriterManager(0)
	}
	if opts.BridgeFactory == nil {
		opts.BridgeFactory = websocketbridge.NewWsBridgeFactory(opts.Robot.ID, opts.Metrics,
			websocketbridge.WithFrameLimit(opts.FrameRate, opts.FrameBurst))
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	s := &Server{
		robot:           opts.Robot,
		host:            opts.Host,
		tls:             opts.TLS,
		shutdownTimeout: opts.ShutdownTimeout,
		registry:        opts.Registry,
		scheduler:       opts.Scheduler,
		writerManager:   opts.WriterManager,
		bridgeFactory:   opts.BridgeFactory,
		metrics:         opts.Metrics,
		logger:          opts.Logger.With("component", "bridge-server", "robot", opts.Robot.ID),
		conns:           haxmap.New[common.ConnID, *connEntry](),
	}
	if s.metrics != nil {
		s.metrics.RegisterLiveHandles(opts.Robot.ID, func() float64 { return float64(s.scheduler.Live()) })
	}
	return s
}

func (s *Server) Robot() common.RobotID {
	return s.robot.ID
}

// Listening reports whether Start has bound its listener.
func (s *Server) Listening() bool {
	return s.listening.Load()
}

// Addr is the bound address once Listening is true.
func (s *Server) Addr() string {
	if a, ok := s.addr.Load().(string); ok {
		return a
	}
	return ""
}

// ActiveSessions is the number of open connections.
func (s *Server) ActiveSessions() int {
	return int(s.conns.Len())
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.ServeHTTP)
	mux.HandleFunc("/ws", s.ServeHTTP)
	return mux
}

// Start serves the endpoint until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.robot.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.tls.Enabled {
		s.httpServer.TLSConfig = loadTLSConfig()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.addr.Store(ln.Addr().String())
	s.listening.Store(true)
	defer s.listening.Store(false)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("bridge shutdown error", "error", err)
		}
	}()

	s.logger.Info("starting bridge endpoint", "address", ln.Addr().String(), "tls", s.tls.Enabled)
	if s.tls.Enabled {
		err = s.httpServer.ServeTLS(ln, s.tls.CertFile, s.tls.KeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge endpoint %s: %w", s.robot.ID, err)
	}
	if ctx.Err() != nil {
		<-shutdownDone
	}
	return nil
}

func loadTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
	}
}

// Shutdown stops accepting connections, closes the open ones and waits for
// their sessions to be torn down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown", "sessions", s.ActiveSessions())
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	// hijacked connections are not closed by http.Server.Shutdown
	s.conns.ForEach(func(_ common.ConnID, e *connEntry) bool {
		e.conn.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("graceful shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded")
		return ctx.Err()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// connSender queues frames on the connection's writer.
type connSender struct {
	connID  common.ConnID
	robot   common.RobotID
	writers services.WsWriteChanManager
	metrics services.MetricsRegistry
}

func (c *connSender) SendFrame(_ context.Context, frame *ds.Frame) error {
	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	err = c.writers.WriteMessage(c.connID, websocket.TextMessage, data)
	if errors.Is(err, wswritechannelmanager.ErrQueueFull) && c.metrics != nil {
		c.metrics.IncFramesDropped(c.robot, dropQueueFull)
	}
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade error", "error", err)
		return
	}
	s.connWg.Add(1)
	defer s.connWg.Done()

	wsConnID := common.ConnID(uuid.New().String())
	logger := s.logger.With("conn-id", wsConnID)
	ctx, cancel := context.WithCancel(slogctx.NewCtx(r.Context(), logger))

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.writerManager.SetConnectionForClientID(wsConnID, conn)
	sess := session.New(session.Options{
		ID:        wsConnID,
		Robot:     s.robot.ID,
		Registry:  s.registry,
		Scheduler: s.scheduler,
		Sender: &connSender{
			connID:  wsConnID,
			robot:   s.robot.ID,
			writers: s.writerManager,
			metrics: s.metrics,
		},
		Metrics: s.metrics,
	})
	s.conns.Set(wsConnID, &connEntry{conn: conn, session: sess})
	if s.metrics != nil {
		s.metrics.IncWsConnectionCount(s.robot.ID)
	}
	logger.Info("client connected", "remote", r.RemoteAddr)

	defer func() {
		cancel()
		sess.Close()
		s.conns.Del(wsConnID)
		s.writerManager.DeleteClientID(wsConnID)
		conn.Close()
		if s.metrics != nil {
			s.metrics.DecWsConnectionCount(s.robot.ID)
		}
		logger.Info("client disconnected")
	}()

	go s.keepAlive(ctx, wsConnID)

	bridge := s.bridgeFactory(wsConnID, conn, sess)
	bridge.ProcessMessagesFromClient(ctx)
}

// keepAlive pings through the connection's writer so pings never race with
// data frames.
func (s *Server) keepAlive(ctx context.Context, wsConnID common.ConnID) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writerManager.WriteMessage(wsConnID, websocket.PingMessage, nil); err != nil {
				slogctx.FromCtx(ctx).DebugContext(ctx, "ping not queued", "error", err)
			}
		}
	}
}
