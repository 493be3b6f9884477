// Package ws provides websocket test servers that speak just enough
// CDP for the transport and session tests.
package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/mccutchen/go-httpbin/httpbin"
)

// Server is a test HTTP server with websocket endpoints installed via
// options. Anything not claimed by an option is served by go-httpbin,
// which keeps plain HTTP fixtures available next to the sockets.
type Server struct {
	t          testing.TB
	Mux        *http.ServeMux
	ServerHTTP *httptest.Server
	Context    context.Context
}

// NewServer creates a started test server and registers its teardown
// with t.
func NewServer(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()
	mux.Handle("/", httpbin.New().Handler())
	server := httptest.NewServer(mux)

	s := Server{
		t:          t,
		Mux:        mux,
		ServerHTTP: server,
		Context:    ctx,
	}
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

// URL returns the ws:// URL for path on this server.
func (s *Server) URL(path string) string {
	return strings.ReplaceAll(s.ServerHTTP.URL, "http://", "ws://") + path
}

// WithEchoHandler installs a handler at path that echoes the first
// message back and closes normally.
func WithEchoHandler(path string) func(*Server) {
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
			if err != nil {
				return
			}
			messageType, r, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, r); err != nil {
				return
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}))
	}
}

// WithClosureAbnormalHandler installs a handler at path that drops the
// connection without a close handshake.
func WithClosureAbnormalHandler(path string) func(*Server) {
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
			if err != nil {
				return
			}
			_ = conn.Close()
		}))
	}
}

// CDPHandlerFunc reacts to one received message. Replies and events go
// out through writeCh; closing done terminates both pumps.
type CDPHandlerFunc func(
	conn *websocket.Conn, msg *cdproto.Message,
	writeCh chan cdproto.Message, done chan struct{},
)

// WithCDPHandler installs fn at path behind a read and a write pump.
// When cmdsReceived is non-nil, every received method name is appended
// to it; read it only after the connection is down.
func WithCDPHandler(
	path string, fn CDPHandlerFunc, cmdsReceived *[]cdproto.MethodType,
) func(*Server) {
	return func(s *Server) {
		s.Mux.Handle(path, cdpHandler(s.t, fn, cmdsReceived))
	}
}

func cdpHandler(t testing.TB, fn CDPHandlerFunc, cmdsReceived *[]cdproto.MethodType) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			t.Logf("upgrading CDP connection: %v", err)
			return
		}

		done := make(chan struct{})
		writeCh := make(chan cdproto.Message)

		go func() {
			for {
				select {
				case msg := <-writeCh:
					encoder := jwriter.Writer{}
					msg.MarshalEasyJSON(&encoder)
					buf, err := encoder.BuildBytes()
					if err != nil {
						continue
					}
					// Write errors are not fatal here: the pump keeps
					// draining writeCh so a blocked handler can finish,
					// and the read loop closes done once the peer is gone.
					_ = conn.WriteMessage(websocket.TextMessage, buf)
				case <-done:
					_ = conn.Close()
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			default:
			}

			_, buf, err := conn.ReadMessage()
			if err != nil {
				close(done)
				return
			}

			var msg cdproto.Message
			decoder := jlexer.Lexer{Data: buf}
			msg.UnmarshalEasyJSON(&decoder)
			if err := decoder.Error(); err != nil {
				t.Logf("parsing CDP message: %v", err)
				continue
			}

			if cmdsReceived != nil {
				*cmdsReceived = append(*cmdsReceived, msg.Method)
			}
			fn(conn, &msg, writeCh, done)
		}
	})
}

// CDPDefaultHandler acknowledges every command with an empty result
// and performs the attach handshake for Target.attachToTarget, which
// covers most session-level tests.
func CDPDefaultHandler(
	_ *websocket.Conn, msg *cdproto.Message,
	writeCh chan cdproto.Message, _ chan struct{},
) {
	if msg.ID == 0 {
		return
	}
	if msg.Method == cdproto.CommandTargetAttachToTarget {
		writeCh <- cdproto.Message{
			Method: cdproto.EventTargetAttachedToTarget,
			Params: easyjson.RawMessage(`{"sessionId":"session_id_0123456789","targetInfo":{"targetId":"target_id_0123456789","type":"page","title":"","url":"about:blank","attached":true,"canAccessOpener":false},"waitingForDebugger":false}`),
		}
		writeCh <- cdproto.Message{
			ID:     msg.ID,
			Result: easyjson.RawMessage(`{"sessionId":"session_id_0123456789"}`),
		}
		return
	}
	writeCh <- cdproto.Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Result:    easyjson.RawMessage(`{}`),
	}
}
