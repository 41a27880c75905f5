package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/magefree/anonrelay-server-go/internal/endpoint"
	"github.com/magefree/anonrelay-server-go/internal/registry"
	"go.uber.org/zap"
)

type client struct {
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
	identity registry.Identity

	mu     sync.Mutex
	closed bool
}

// enqueue queues payload without blocking. A full queue drops the payload.
func (c *client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readPump() {
	defer func() {
		c.gateway.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.gateway.logger.Debug("malformed frame", zap.Error(err))
			c.reply(FrameError, "malformed frame")
			continue
		}

		cmd, ok := c.toCommand(f)
		if !ok {
			c.reply(FrameError, fmt.Sprintf("unsupported frame %q", f.Type))
			continue
		}
		if !c.gateway.submit(cmd) {
			return
		}
	}
}

func (c *client) toCommand(f Frame) (endpoint.Command, bool) {
	cmd := endpoint.Command{
		Sender: c.identity,
		Reply:  &responder{client: c},
	}
	switch f.Type {
	case FrameCommand:
		if f.Command == "" {
			return endpoint.Command{}, false
		}
		cmd.Name = f.Command
		cmd.Args = f.Args
	case FrameText:
		name, args, ok := endpoint.ParseCommandLine(f.Text)
		if !ok {
			return endpoint.Command{}, false
		}
		cmd.Name = name
		cmd.Args = args
	default:
		return endpoint.Command{}, false
	}
	if cmd.Args == nil {
		cmd.Args = []string{}
	}
	return cmd, true
}

func (c *client) reply(kind, text string) bool {
	payload, err := json.Marshal(Frame{Type: kind, Text: text})
	if err != nil {
		return false
	}
	return c.enqueue(payload)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// responder answers on the connection that issued the command, or on any
// other live connection of the same identity once that one is gone.
type responder struct {
	client *client
}

func (r *responder) Reply(ctx context.Context, text string) error {
	if r.client.reply(FrameReply, text) {
		return nil
	}
	payload, err := json.Marshal(Frame{Type: FrameReply, Text: text})
	if err != nil {
		return err
	}
	if r.client.gateway.broadcast(r.client.identity, payload) == 0 {
		return fmt.Errorf("%w: %s", endpoint.ErrUnreachable, r.client.identity)
	}
	return nil
}
