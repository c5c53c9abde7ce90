package input

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/angles"
)

// poseMessage is the JSON body of one operator pose update.
type poseMessage struct {
	A1 *float64 `json:"a1"`
	A2 *float64 `json:"a2"`
	A3 *float64 `json:"a3"`
}

// RemoteConfig configures the remote manual source.
type RemoteConfig struct {
	Addr string // Listen address, e.g. ":8091"
}

// Remote is a manual source fed over a websocket. Operators connect to
// /ws/pose and send {"a1":..,"a2":..,"a3":..}; each tick yields the most
// recent pose. Before the first pose arrives every tick is empty.
type Remote struct {
	app *fiber.App
	ln  net.Listener
	log *slog.Logger

	mu   sync.RWMutex
	pose angles.Triple
	have bool

	received  atomic.Uint64
	rejected  atomic.Uint64
	closeOnce sync.Once
}

// NewRemote binds the listen address and starts serving. A bind failure is a
// construction error.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	r := &Remote{
		ln:  ln,
		log: log.Component("input.remote").With("addr", ln.Addr().String()),
	}

	app := fiber.New(fiber.Config{
		AppName:               "armctl remote",
		DisableStartupMessage: true,
	})
	r.registerRoutes(app)
	r.app = app

	go func() {
		if err := app.Listener(ln); err != nil {
			r.log.Warn("remote input server stopped", "error", err)
		}
	}()

	return r, nil
}

func (r *Remote) registerRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/pose", websocket.New(r.handlePose))

	app.Get("/api/pose", func(c *fiber.Ctx) error {
		pose, ok := r.Latest()
		return c.JSON(fiber.Map{
			"have":     ok,
			"pose":     pose,
			"received": r.received.Load(),
			"rejected": r.rejected.Load(),
		})
	})
}

// handlePose reads pose updates until the connection closes.
func (r *Remote) handlePose(c *websocket.Conn) {
	r.log.Info("operator connected", "remote", c.RemoteAddr().String())
	defer r.log.Info("operator disconnected", "remote", c.RemoteAddr().String())

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if err := r.accept(data); err != nil {
			r.rejected.Add(1)
			r.log.Debug("rejected pose message", "error", err)
		}
	}
}

// accept decodes one message and stores it as the latest pose.
func (r *Remote) accept(data []byte) error {
	var msg poseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.A1 == nil || msg.A2 == nil || msg.A3 == nil {
		return fmt.Errorf("pose needs a1, a2 and a3")
	}

	r.mu.Lock()
	r.pose = angles.Triple{A1: *msg.A1, A2: *msg.A2, A3: *msg.A3}
	r.have = true
	r.mu.Unlock()
	r.received.Add(1)
	return nil
}

// Addr returns the bound listen address.
func (r *Remote) Addr() string {
	return r.ln.Addr().String()
}

// Latest returns the most recent pose and whether one has arrived.
func (r *Remote) Latest() (angles.Triple, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pose, r.have
}

// Next yields the latest pose, or an empty tick before the first one.
func (r *Remote) Next(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pose, ok := r.Latest()
	if !ok {
		return nil, nil
	}
	return Pose{Angles: pose}, nil
}

// Close stops the server.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		if err := r.app.ShutdownWithTimeout(time.Second); err != nil {
			r.log.Warn("remote input shutdown failed", "error", err)
		}
	})
	return nil
}

var _ Source = (*Remote)(nil)
