package common

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimicbrowser/mimic/log"
	"github.com/mimicbrowser/mimic/tests/ws"
)

func testBrowser(t *testing.T, fn ws.CDPHandlerFunc, cmdsReceived *[]cdproto.MethodType) *Browser {
	t.Helper()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", fn, cmdsReceived))
	b, err := Connect(context.Background(), server.URL("/cdp"), log.NewNullLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	return b
}

func TestBrowserAttachToTarget(t *testing.T) {
	t.Parallel()

	var received []cdproto.MethodType
	b := testBrowser(t, ws.CDPDefaultHandler, &received)
	ctx := context.Background()

	s, err := b.AttachToTarget(ctx, "target_id_0123456789")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.EqualValues(t, "session_id_0123456789", s.ID())
	assert.EqualValues(t, "target_id_0123456789", s.TargetID())

	// Attaching again returns the same live session without another
	// round trip.
	again, err := b.AttachToTarget(ctx, "target_id_0123456789")
	require.NoError(t, err)
	assert.Same(t, s, again)

	got, ok := b.SessionForTarget("target_id_0123456789")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Len(t, b.Sessions(), 1)

	b.Close()
	<-b.Done()

	var attaches int
	for _, m := range received {
		if m == cdproto.CommandTargetAttachToTarget {
			attaches++
		}
	}
	assert.Equal(t, 1, attaches)
}

func TestBrowserAttachToFirstPage(t *testing.T) {
	t.Parallel()

	fn := func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		if msg.Method == cdproto.CommandTargetGetTargets {
			writeCh <- cdproto.Message{
				ID: msg.ID,
				Result: easyjson.RawMessage(`{"targetInfos":[
					{"targetId":"worker_1","type":"service_worker","title":"","url":"","attached":false,"canAccessOpener":false},
					{"targetId":"target_id_0123456789","type":"page","title":"","url":"about:blank","attached":false,"canAccessOpener":false}
				]}`),
			}
			return
		}
		ws.CDPDefaultHandler(conn, msg, writeCh, done)
	}
	b := testBrowser(t, fn, nil)

	s, err := b.AttachToFirstPage(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, "target_id_0123456789", s.TargetID())
}

func TestBrowserAttachToFirstPageNoPages(t *testing.T) {
	t.Parallel()

	fn := func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		if msg.Method == cdproto.CommandTargetGetTargets {
			writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{"targetInfos":[]}`)}
			return
		}
		ws.CDPDefaultHandler(conn, msg, writeCh, done)
	}
	b := testBrowser(t, fn, nil)

	_, err := b.AttachToFirstPage(context.Background())
	require.ErrorContains(t, err, "no page target")
}

func TestBrowserNewPage(t *testing.T) {
	t.Parallel()

	var created []string
	fn := func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		if msg.Method == cdproto.CommandTargetCreateTarget {
			created = append(created, string(msg.Params))
			writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{"targetId":"target_id_0123456789"}`)}
			return
		}
		ws.CDPDefaultHandler(conn, msg, writeCh, done)
	}
	b := testBrowser(t, fn, nil)

	s, err := b.NewPage(context.Background(), "")
	require.NoError(t, err)
	assert.EqualValues(t, "target_id_0123456789", s.TargetID())

	require.Len(t, created, 1)
	assert.Contains(t, created[0], "about:blank")
}

func TestBrowserDetachRemovesTarget(t *testing.T) {
	t.Parallel()

	fn := func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		if msg.Method == "Test.detach" {
			writeCh <- cdproto.Message{
				Method: cdproto.EventTargetDetachedFromTarget,
				Params: easyjson.RawMessage(`{"sessionId":"session_id_0123456789"}`),
			}
		}
		ws.CDPDefaultHandler(conn, msg, writeCh, done)
	}
	b := testBrowser(t, fn, nil)
	ctx := context.Background()

	s, err := b.AttachToTarget(ctx, "target_id_0123456789")
	require.NoError(t, err)

	require.NoError(t, b.RootSession().Execute(ctx, "Test.detach", nil, nil))

	require.Eventually(t, func() bool {
		_, ok := b.SessionForTarget("target_id_0123456789")
		return !ok && s.Closed()
	}, time.Second, 10*time.Millisecond)
}

func TestBrowserCloseFailsSessions(t *testing.T) {
	t.Parallel()

	b := testBrowser(t, ws.CDPDefaultHandler, nil)
	ctx := context.Background()

	s, err := b.AttachToTarget(ctx, "target_id_0123456789")
	require.NoError(t, err)

	b.Close()
	<-b.Done()

	require.True(t, s.Closed())
	err = s.Execute(ctx, "Test.command", nil, nil)
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, b.Sessions())
}

func TestLookupWebSocketURL(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t)
	server.Mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"Browser":"Chrome/120.0.0.0","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`)
	})
	bare := ws.NewServer(t)
	t.Cleanup(http.DefaultClient.CloseIdleConnections)

	ctx := context.Background()

	// ws URLs pass through untouched.
	got, err := LookupWebSocketURL(ctx, "ws://127.0.0.1:9222/devtools/browser/abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", got)

	// http addresses are queried at /json/version, with and without an
	// explicit scheme.
	got, err = LookupWebSocketURL(ctx, server.ServerHTTP.URL)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", got)

	got, err = LookupWebSocketURL(ctx, strings.TrimPrefix(server.ServerHTTP.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", got)

	// A response without webSocketDebuggerUrl is an error.
	_, err = LookupWebSocketURL(ctx, bare.ServerHTTP.URL)
	require.ErrorContains(t, err, "webSocketDebuggerUrl")
}
