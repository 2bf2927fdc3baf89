package wschannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errClosed = errors.New("channel connection closed")

// conn is one authenticated websocket. A single goroutine reads; responses are
// routed to waiting callers by frame ID.
type conn struct {
	id       string
	tenantID string
	ws       *websocket.Conn
	logger   zerolog.Logger

	writeLock sync.Mutex

	lock    sync.Mutex
	pending map[string]chan frame

	done    chan struct{}
	closing atomic.Bool
}

func newConn(ws *websocket.Conn, tenantID string, logger zerolog.Logger) *conn {
	id := uuid.New().String()
	return &conn{
		id:       id,
		tenantID: tenantID,
		ws:       ws,
		logger:   logger.With().Str("conn_id", id).Str("tenant", tenantID).Logger(),
		pending:  make(map[string]chan frame),
		done:     make(chan struct{}),
	}
}

// readLoop runs until the socket fails or the server pushes a disconnect, then
// calls onExit once.
func (c *conn) readLoop(onExit func(*conn)) {
	defer func() {
		close(c.done)
		_ = c.ws.Close()
		onExit(c)
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				c.logger.Warn().Err(err).Msg("channel read failed")
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		f.raw = data

		if f.Type == frameDisconnect {
			c.logger.Info().Str("reason", f.Reason).Msg("channel disconnected by server")
			return
		}
		if f.ID == "" {
			continue
		}
		c.lock.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.lock.Unlock()
		if ok {
			ch <- f
		}
	}
}

// roundTrip sends f with a fresh ID and waits for the response.
func (c *conn) roundTrip(ctx context.Context, f frame) (frame, error) {
	f.ID = uuid.New().String()
	ch := make(chan frame, 1)

	c.lock.Lock()
	c.pending[f.ID] = ch
	c.lock.Unlock()
	defer func() {
		c.lock.Lock()
		delete(c.pending, f.ID)
		c.lock.Unlock()
	}()

	if err := c.write(ctx, f); err != nil {
		return frame{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return frame{}, errClosed
	case <-ctx.Done():
		return frame{}, fmt.Errorf("waiting for %s response: %w", f.Type, ctx.Err())
	}
}

func (c *conn) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}
	select {
	case <-c.done:
		return errClosed
	default:
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// close shuts the socket down without reporting a disconnect.
func (c *conn) close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.ws.Close()
}
