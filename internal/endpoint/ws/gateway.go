// Package ws is a WebSocket messaging endpoint. Each connection belongs to one
// identity, given by the "identity" query parameter on the upgrade request.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/magefree/anonrelay-server-go/internal/endpoint"
	"github.com/magefree/anonrelay-server-go/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Frame types.
const (
	FrameCommand = "command" // inbound: Command + Args
	FrameText    = "text"    // inbound: Text holds "/command arg..."
	FrameReply   = "reply"   // outbound: answer to a command
	FrameMessage = "message" // outbound: relayed message
	FrameError   = "error"   // outbound: malformed frame
)

// AdminPasswordHeader carries the admin password on the upgrade request.
const AdminPasswordHeader = "X-Admin-Password"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Frame is the JSON envelope exchanged with clients.
type Frame struct {
	Type    string   `json:"type"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Config configures the gateway.
type Config struct {
	// Address to listen on. Empty means the caller mounts the gateway itself.
	Address string
	// Path of the upgrade endpoint when the gateway listens itself.
	Path string
	// AdminIdentity connections must present a password matching AdminPasswordHash.
	AdminIdentity     registry.Identity
	AdminPasswordHash string
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

type inbound struct {
	cmd endpoint.Command
}

// Gateway accepts WebSocket clients and routes commands and deliveries.
type Gateway struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[registry.Identity]map[*client]struct{}

	inbound chan inbound
	done    chan struct{}
	once    sync.Once
}

// NewGateway creates a gateway. It does not accept connections until served.
func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Gateway{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[registry.Identity]map[*client]struct{}),
		inbound: make(chan inbound),
		done:    make(chan struct{}),
	}
}

// Serve processes inbound commands one at a time until ctx is done or h
// returns an error. When Config.Address is set it also runs the HTTP listener.
func (g *Gateway) Serve(ctx context.Context, h endpoint.Handler) error {
	defer g.shutdown()

	var srv *http.Server
	errCh := make(chan error, 1)
	if g.cfg.Address != "" {
		mux := http.NewServeMux()
		mux.Handle(g.cfg.Path, g)
		srv = &http.Server{
			Addr:              g.cfg.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		lis, err := net.Listen("tcp", g.cfg.Address)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		g.logger.Info("websocket gateway listening",
			zap.String("address", lis.Addr().String()),
			zap.String("path", g.cfg.Path),
		)
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("websocket server: %w", err)
		case in := <-g.inbound:
			if err := h(ctx, in.cmd); err != nil {
				return err
			}
		}
	}
}

// Deliver sends a relayed message to every live connection of the identity.
func (g *Gateway) Deliver(ctx context.Context, to registry.Identity, text string) error {
	payload, err := json.Marshal(Frame{Type: FrameMessage, Text: text})
	if err != nil {
		return err
	}
	if g.broadcast(to, payload) == 0 {
		return fmt.Errorf("%w: %s", endpoint.ErrUnreachable, to)
	}
	return nil
}

func (g *Gateway) broadcast(to registry.Identity, payload []byte) int {
	g.mu.RLock()
	conns := make([]*client, 0, len(g.clients[to]))
	for c := range g.clients[to] {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if c.enqueue(payload) {
			sent++
		}
	}
	return sent
}

// Connected returns the number of live connections for id.
func (g *Gateway) Connected(id registry.Identity) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients[id])
}

// ServeHTTP upgrades the request and attaches the connection to its identity.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := registry.Identity(strings.TrimSpace(r.URL.Query().Get("identity")))
	if identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}
	if identity == g.cfg.AdminIdentity && !g.checkAdmin(r.Header.Get(AdminPasswordHeader)) {
		g.logger.Warn("admin authentication failed", zap.String("remote", r.RemoteAddr))
		http.Error(w, "invalid admin password", http.StatusUnauthorized)
		return
	}

	select {
	case <-g.done:
		http.Error(w, "gateway closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, g.cfg.SendBuffer),
		identity: identity,
	}
	g.attach(c)

	go c.writePump()
	go c.readPump()
}

func (g *Gateway) checkAdmin(password string) bool {
	if g.cfg.AdminPasswordHash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(g.cfg.AdminPasswordHash), []byte(password)) == nil
}

func (g *Gateway) attach(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.clients[c.identity]
	if !ok {
		set = make(map[*client]struct{})
		g.clients[c.identity] = set
	}
	set[c] = struct{}{}

	g.logger.Debug("client connected", zap.Int("connections", len(set)))
}

func (g *Gateway) detach(c *client) {
	g.mu.Lock()
	if set, ok := g.clients[c.identity]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(g.clients, c.identity)
		}
	}
	g.mu.Unlock()

	c.close()
	g.logger.Debug("client disconnected")
}

func (g *Gateway) submit(cmd endpoint.Command) bool {
	select {
	case g.inbound <- inbound{cmd: cmd}:
		return true
	case <-g.done:
		return false
	}
}

func (g *Gateway) shutdown() {
	g.once.Do(func() {
		close(g.done)

		g.mu.Lock()
		conns := make([]*client, 0)
		for _, set := range g.clients {
			for c := range set {
				conns = append(conns, c)
			}
		}
		g.clients = make(map[registry.Identity]map[*client]struct{})
		g.mu.Unlock()

		for _, c := range conns {
			c.close()
		}
	})
}
