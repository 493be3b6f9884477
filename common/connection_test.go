package common

import (
	"context"
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

func TestConnection(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", ws.CDPDefaultHandler, nil))

	conn, err := NewConnection(context.Background(), server.URL("/cdp"), log.NewNullLogger(), nil)
	require.NoError(t, err)

	require.NoError(t, conn.RootSession().Execute(context.Background(), "Target.setDiscoverTargets", nil, nil))

	conn.Close()
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed after Close")
	}
}

func TestConnectionDialFailure(t *testing.T) {
	t.Parallel()

	// Nothing listens on port 1 on loopback.
	_, err := NewConnection(context.Background(), "ws://127.0.0.1:1/cdp", log.NewNullLogger(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialing")
}

func TestConnectionClosureAbnormal(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithClosureAbnormalHandler("/cdp"))

	conn, err := NewConnection(context.Background(), server.URL("/cdp"), log.NewNullLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	root := conn.RootSession()

	// The server drops the socket without a close handshake; the
	// connection must tear itself down rather than leave callers
	// hanging.
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection survived an abnormal closure")
	}

	err = root.Execute(context.Background(), "Test.command", nil, nil)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", ws.CDPDefaultHandler, nil))

	conn, err := NewConnection(context.Background(), server.URL("/cdp"), log.NewNullLogger(), nil)
	require.NoError(t, err)
	root := conn.RootSession()

	conn.Close()
	conn.Close()
	<-conn.Done()

	assert.True(t, root.Closed())
	assert.Nil(t, conn.RootSession())
}

func TestConnectionSessionLifecycle(t *testing.T) {
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
	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", fn, nil))

	conn, err := NewConnection(context.Background(), server.URL("/cdp"), log.NewNullLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	ctx := context.Background()

	require.NoError(t, conn.RootSession().Execute(ctx, string(cdproto.CommandTargetAttachToTarget), nil, nil))

	// The attachedToTarget event precedes the command reply on the
	// socket, so the session must already be registered by the time
	// Execute returns.
	session := conn.getSession("session_id_0123456789")
	require.NotNil(t, session)
	assert.False(t, session.Closed())
	assert.EqualValues(t, "target_id_0123456789", session.TargetID())

	require.NoError(t, conn.RootSession().Execute(ctx, "Test.detach", nil, nil))

	require.Eventually(t, session.Closed, time.Second, 10*time.Millisecond)
	assert.Nil(t, conn.getSession("session_id_0123456789"))

	err = session.Execute(ctx, "Test.command", nil, nil)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestConnectionInvalidFrameClosesConnection(t *testing.T) {
	t.Parallel()

	fn := func(conn *websocket.Conn, msg *cdproto.Message, _ chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		// Nothing else writes on this handler, so writing directly is
		// safe and bypasses message framing entirely.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":`))
	}
	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", fn, nil))

	conn, err := NewConnection(context.Background(), server.URL("/cdp"), log.NewNullLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.RootSession().ExecuteWithTimeout(context.Background(), "Test.garbage", nil, nil, time.Minute)
	}()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection survived an unparsable frame")
	}
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("pending command survived connection teardown")
	}
}
