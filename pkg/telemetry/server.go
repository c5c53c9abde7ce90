// Package telemetry serves a live view of a control run: a status and
// recent-records REST API plus a websocket stream of every logged tick.
package telemetry

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/hub"
	"github.com/teslashibe/go-armctl/pkg/pipeline"
	"github.com/teslashibe/go-armctl/pkg/runlog"
)

// DefaultHistory is how many recent records the server keeps.
const DefaultHistory = 500

// Config describes the run the server reports on.
type Config struct {
	Addr      string // Listen address, e.g. ":8090"
	Session   string
	Mode      string
	Transport string
	LogPath   string
	History   int // Ring size; DefaultHistory when zero
}

// Status is the body of GET /api/status.
type Status struct {
	Session   string         `json:"session"`
	Mode      string         `json:"mode"`
	Transport string         `json:"transport"`
	LogPath   string         `json:"log_path"`
	Started   time.Time      `json:"started"`
	Uptime    float64        `json:"uptime_sec"`
	Clients   int            `json:"clients"`
	Stats     pipeline.Stats `json:"stats"`
	Last      *runlog.Record `json:"last,omitempty"`
}

// TickMessage is the frame streamed on /ws/ticks.
type TickMessage struct {
	Type   string         `json:"type"`
	Record runlog.Record  `json:"record"`
	Stats  pipeline.Stats `json:"stats"`
}

// Server is the telemetry endpoint. It implements pipeline.Observer.
type Server struct {
	cfg     Config
	app     *fiber.App
	ticks   *hub.Hub
	log     *slog.Logger
	started time.Time

	mu    sync.RWMutex
	ln    net.Listener
	stats pipeline.Stats
	ring  []runlog.Record
	head  int // Next write position
	size  int
}

// NewServer creates the server and its routes. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}

	s := &Server{
		cfg:     cfg,
		ticks:   hub.New("ticks"),
		log:     log.Component("telemetry"),
		started: time.Now(),
		ring:    make([]runlog.Record, cfg.History),
	}

	app := fiber.New(fiber.Config{
		AppName:               "armctl telemetry",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/records", s.handleRecords)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/ticks", websocket.New(s.handleTicksWS))

	s.app = app
	go s.ticks.Run()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start binds the listen address and serves in the background. A bind
// failure is returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("telemetry listening", "addr", ln.Addr().String())
	go func() {
		if err := s.app.Listener(ln); err != nil {
			s.log.Warn("telemetry server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// OnTick stores rec and streams it to connected clients. It never blocks
// on slow clients.
func (s *Server) OnTick(rec runlog.Record, stats pipeline.Stats) {
	s.mu.Lock()
	s.ring[s.head] = rec
	s.head = (s.head + 1) % len(s.ring)
	if s.size < len(s.ring) {
		s.size++
	}
	s.stats = stats
	s.mu.Unlock()

	if err := s.ticks.BroadcastJSON(TickMessage{Type: "tick", Record: rec, Stats: stats}); err != nil {
		s.log.Debug("encode tick failed", "error", err)
	}
}

// Records returns up to limit of the most recent records, oldest first.
// A non-positive limit returns everything held.
func (s *Server) Records(limit int) []runlog.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]runlog.Record, n)
	start := s.head - n
	if start < 0 {
		start += len(s.ring)
	}
	for i := 0; i < n; i++ {
		out[i] = s.ring[(start+i)%len(s.ring)]
	}
	return out
}

// Status returns a snapshot of the run.
func (s *Server) Status() Status {
	s.mu.RLock()
	st := Status{
		Session:   s.cfg.Session,
		Mode:      s.cfg.Mode,
		Transport: s.cfg.Transport,
		LogPath:   s.cfg.LogPath,
		Started:   s.started,
		Uptime:    time.Since(s.started).Seconds(),
		Stats:     s.stats,
	}
	if s.size > 0 {
		last := s.ring[(s.head-1+len(s.ring))%len(s.ring)]
		st.Last = &last
	}
	s.mu.RUnlock()

	st.Clients = s.ticks.ClientCount()
	return st
}

// ClientCount returns the number of streaming clients.
func (s *Server) ClientCount() int {
	return s.ticks.ClientCount()
}

// Shutdown disconnects clients and stops the server.
func (s *Server) Shutdown() error {
	s.ticks.Stop()
	return s.app.ShutdownWithTimeout(time.Second)
}

var _ pipeline.Observer = (*Server)(nil)
