package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxa-chat/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// client owns the write side of one websocket. Views are coalesced so a slow
// reader only ever receives the latest one.
type client struct {
	conn   *websocket.Conn
	logger *log.Logger

	mu      sync.Mutex
	latest  *realtime.View
	pending chan struct{}
	frames  chan serverFrame

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newClient(conn *websocket.Conn, logger *log.Logger, buffer int) *client {
	if buffer <= 0 {
		buffer = 16
	}
	return &client{
		conn:    conn,
		logger:  logger,
		pending: make(chan struct{}, 1),
		frames:  make(chan serverFrame, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *client) pushView(v realtime.View) {
	c.mu.Lock()
	c.latest = &v
	c.mu.Unlock()
	select {
	case c.pending <- struct{}{}:
	default:
	}
}

func (c *client) pushFrame(f serverFrame) {
	select {
	case c.frames <- f:
	case <-c.stop:
	default:
		c.logger.Printf("write queue full, frame dropped type=%s", f.Type)
	}
}

func (c *client) takeView() (realtime.View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return realtime.View{}, false
	}
	v := *c.latest
	c.latest = nil
	return v, true
}

// writePump runs until close is called or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case <-c.pending:
			v, ok := c.takeView()
			if !ok {
				continue
			}
			if !c.write(viewFrame(v)) {
				return
			}
		case f := <-c.frames:
			if !c.write(f) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.stop:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *client) flush() {
	for {
		select {
		case f := <-c.frames:
			if !c.write(f) {
				return
			}
		default:
			if v, ok := c.takeView(); ok {
				c.write(viewFrame(v))
			}
			return
		}
	}
}

func (c *client) write(f serverFrame) bool {
	payload, err := json.Marshal(f)
	if err != nil {
		c.logger.Printf("failed to serialize frame type=%s err=%v", f.Type, err)
		return true
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Printf("websocket write error: %v", err)
		return false
	}
	return true
}

func (c *client) close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
