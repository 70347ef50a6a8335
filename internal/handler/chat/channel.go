package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/relay/internal/model/chat"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second

	// inboxSize bounds the user frames queued behind a running turn.
	inboxSize = 16
)

var errChannelClosing = errors.New("channel closing")

// channel is one client connection. readPump is the only reader and keeps
// answering pongs while a completion runs. Data frames are only written by
// the goroutine running the turn loop; pings and close frames go through
// WriteControl, which gorilla allows concurrently.
type channel struct {
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	log      *slog.Logger
	pongWait time.Duration

	closing   atomic.Bool
	closeOnce sync.Once
}

func newChannel(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, logger *slog.Logger, pongWait time.Duration) *channel {
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &channel{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger,
		pongWait: pongWait,
	}
}

// readPump forwards trimmed, non-empty text frames to inbox until the
// connection fails. A failed read cancels the channel context, so a client
// that goes away also aborts its in-flight completion and frees the session.
func (c *channel) readPump(inbox chan<- string) {
	defer close(inbox)
	defer c.cancel()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}

		select {
		case inbox <- text:
		case <-c.ctx.Done():
			return
		}
		// The handoff may have waited behind a long turn.
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			return
		}
	}
}

// push writes one frame to the client.
func (c *channel) push(role chat.Role, text string) error {
	if c.closing.Load() {
		return errChannelClosing
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(chat.Frame{Role: role, Parts: text})
}

func (c *channel) pingLoop() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// closeNormal ends the channel from the server side after a terminal frame.
func (c *channel) closeNormal() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *channel) closeWith(code int, reason string) {
	c.closing.Store(true)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// shutdown is called from outside the channel goroutine. It cancels any
// in-flight completion and unblocks the read loop.
func (c *channel) shutdown() {
	c.closing.Store(true)
	c.cancel()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
	_ = c.conn.Close()
}

func (c *channel) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

func (c *channel) logReadError(err error) {
	switch {
	case c.closing.Load():
		c.log.Info("channel closed by server")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected")
	default:
		c.log.Error("channel read failed", "error", err)
	}
}
