package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mimicbrowser/mimic/log"
)

/*
   Connection owns the single websocket to the browser and the
   registry of sessions multiplexed over it.

                                       ┌───────────────────────────┐
                                       │ Browser                   │
                                       └────────────┬──────────────┘
                                                    │
                                                    ▼
   ┌──────────┐  sendCh   ┌────────────────────────────────────────┐
   │ sendLoop │◀─────────│ Connection                              │
   └────┬─────┘           │  sessions: "" (root), sid1, sid2, ...  │
        │                 └────────────────────▲───────────────────┘
        ▼                                      │ readCh (per session)
   ╔════════╗   frames    ┌──────────┐         │
   ║ socket ║────────────▶│ recvLoop │─────────┘
   ╚════════╝             └──────────┘  route by sessionId

   recvLoop only routes; each Session runs its own reader that
   correlates replies and dispatches events. Nothing in this path may
   block on user code.
*/

// Connection is the transport layer: it dials the browser's devtools
// websocket, pumps frames in both directions, and routes every inbound
// frame to the session it belongs to. Frames without a sessionId
// belong to the root (browser-level) session.
type Connection struct {
	ctx      context.Context
	wsURL    string
	logger   *log.Logger
	tracer   trace.Tracer
	timeouts *TimeoutSettings
	conn     *websocket.Conn
	sendCh   chan *cdproto.Message
	done     chan struct{}
	closers  sync.Once

	sessionsMu sync.RWMutex
	sessions   map[target.SessionID]*Session

	// Reused easyjson state, owned by the send and recv loops.
	decoder jlexer.Lexer
	encoder jwriter.Writer
}

// NewConnection dials wsURL and starts the frame pumps. The returned
// connection already carries a live root session for browser-level
// commands.
func NewConnection(
	ctx context.Context, wsURL string, logger *log.Logger, tracer trace.Tracer,
) (*Connection, error) {
	wsd := websocket.Dialer{
		HandshakeTimeout: time.Second * 60,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := wsd.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	c := Connection{
		ctx:      ctx,
		wsURL:    wsURL,
		logger:   logger,
		tracer:   tracer,
		timeouts: NewTimeoutSettings(nil),
		conn:     conn,
		sendCh:   make(chan *cdproto.Message, 32),
		done:     make(chan struct{}),
		sessions: make(map[target.SessionID]*Session),
	}
	c.registerSession("", "")

	go c.recvLoop()
	go c.sendLoop()

	return &c, nil
}

// RootSession returns the session that speaks browser-level commands
// (Target.*), i.e. every frame without a sessionId.
func (c *Connection) RootSession() *Session {
	return c.getSession("")
}

func (c *Connection) getSession(id target.SessionID) *Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()

	return c.sessions[id]
}

func (c *Connection) registerSession(id target.SessionID, tid target.ID) *Session {
	s := NewSession(c.ctx, c, id, tid, c.logger, c.tracer)

	c.sessionsMu.Lock()
	c.sessions[id] = s
	c.sessionsMu.Unlock()

	return s
}

func (c *Connection) closeSession(id target.SessionID) {
	c.sessionsMu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	c.sessionsMu.Unlock()

	if ok {
		s.close()
	}
}

// send enqueues msg for the send loop. It fails fast once the
// connection is torn down instead of blocking forever.
func (c *Connection) send(ctx context.Context, msg *cdproto.Message) error {
	select {
	case c.sendCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
}

func (c *Connection) sendLoop() {
	c.logger.Debugf("Connection:sendLoop", "starts")
	for {
		select {
		case msg := <-c.sendCh:
			c.encoder = jwriter.Writer{}
			msg.MarshalEasyJSON(&c.encoder)
			if err := c.encoder.Error; err != nil {
				c.logger.Errorf("Connection:sendLoop", "marshaling message id:%d: %v", msg.ID, err)
				continue
			}

			writer, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.handleIOError(err)
				return
			}
			if _, err := c.encoder.DumpTo(writer); err != nil {
				c.handleIOError(err)
				return
			}
			if err := writer.Close(); err != nil {
				c.handleIOError(err)
				return
			}
		case <-c.done:
			c.logger.Debugf("Connection:sendLoop", "done")
			return
		}
	}
}

func (c *Connection) recvLoop() {
	c.logger.Debugf("Connection:recvLoop", "starts")
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}

		c.logger.Tracef("cdp:recv", "<- %s", buf)

		var msg cdproto.Message
		c.decoder = jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&c.decoder)
		if err := c.decoder.Error(); err != nil {
			c.logger.Errorf("Connection:recvLoop", "parsing frame: %v", err)
			c.close(websocket.CloseUnsupportedData)
			return
		}

		// Target lifecycle bookkeeping happens here so the session
		// registry is current before anyone observes the event.
		switch msg.Method {
		case cdproto.EventTargetAttachedToTarget:
			ev := new(target.EventAttachedToTarget)
			if err := easyjson.Unmarshal(msg.Params, ev); err != nil {
				c.logger.Errorf("Connection:recvLoop", "parsing attachedToTarget: %v", err)
				break
			}
			c.registerSession(ev.SessionID, ev.TargetInfo.TargetID)
			c.logger.Debugf("Connection:recvLoop",
				"sid:%v tid:%v attached", ev.SessionID, ev.TargetInfo.TargetID)
		case cdproto.EventTargetDetachedFromTarget:
			ev := new(target.EventDetachedFromTarget)
			if err := easyjson.Unmarshal(msg.Params, ev); err != nil {
				c.logger.Errorf("Connection:recvLoop", "parsing detachedFromTarget: %v", err)
				break
			}
			c.closeSession(ev.SessionID)
			c.logger.Debugf("Connection:recvLoop", "sid:%v detached", ev.SessionID)
		}

		session := c.getSession(msg.SessionID)
		if session == nil {
			c.logger.Debugf("Connection:recvLoop",
				"sid:%v id:%d method:%q unknown session, dropping", msg.SessionID, msg.ID, msg.Method)
			continue
		}

		select {
		case session.readCh <- &msg:
		case <-session.done:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) handleIOError(err error) {
	code := websocket.CloseGoingAway
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		code = closeErr.Code
		if code != websocket.CloseNormalClosure {
			c.logger.Warnf("Connection:handleIOError", "abnormal closure %d: %v", code, err)
		}
	case errors.Is(err, net.ErrClosed):
		// Our own teardown already closed the socket.
	default:
		c.logger.Errorf("Connection:handleIOError", "communication error: %v", err)
	}
	c.close(code)
}

// Close tears the connection down with a normal closure handshake.
func (c *Connection) Close() {
	c.close(websocket.CloseNormalClosure)
}

// close is the connection-wide barrier: it closes the socket once,
// then closes every session so all pending commands fail rather than
// hang. Safe to call from any goroutine, any number of times.
func (c *Connection) close(code int) {
	c.closers.Do(func() {
		c.logger.Debugf("Connection:close", "code:%d", code)

		err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(wsWriteTimeout),
		)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debugf("Connection:close", "writing close message: %v", err)
		}
		_ = c.conn.Close()

		close(c.done)

		c.sessionsMu.Lock()
		sessions := make([]*Session, 0, len(c.sessions))
		for _, s := range c.sessions {
			sessions = append(sessions, s)
		}
		c.sessions = make(map[target.SessionID]*Session)
		c.sessionsMu.Unlock()

		for _, s := range sessions {
			s.close()
		}
	})
}

// Done is closed when the connection is fully torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
