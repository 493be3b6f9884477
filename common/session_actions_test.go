package common

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionNavigate(t *testing.T) {
	t.Parallel()

	var navigations []string
	fn := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		if msg.Method == cdproto.CommandPageNavigate {
			navigations = append(navigations, string(msg.Params))
			writeCh <- cdproto.Message{
				ID:     msg.ID,
				Result: easyjson.RawMessage(`{"frameId":"frame_id_0123456789","loaderId":"loader_id_0123456789"}`),
			}
			return
		}
		writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{}`)}
	}
	conn, s := testConnection(t, fn)

	require.NoError(t, s.Navigate(context.Background(), "https://test.local/", "https://ref.local/"))

	conn.Close()
	<-conn.Done()

	require.Len(t, navigations, 1)
	assert.JSONEq(t, `{"url":"https://test.local/","referrer":"https://ref.local/"}`, navigations[0])
}

func TestSessionNavigateBrowserError(t *testing.T) {
	t.Parallel()

	fn := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		writeCh <- cdproto.Message{
			ID:     msg.ID,
			Result: easyjson.RawMessage(`{"frameId":"frame_id_0123456789","errorText":"net::ERR_NAME_NOT_RESOLVED"}`),
		}
	}
	_, s := testConnection(t, fn)

	err := s.Navigate(context.Background(), "https://nxdomain.test/", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "net::ERR_NAME_NOT_RESOLVED")
	assert.Contains(t, err.Error(), "https://nxdomain.test/")
}

func TestSessionEvaluate(t *testing.T) {
	t.Parallel()

	fn := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		writeCh <- cdproto.Message{
			ID:     msg.ID,
			Result: easyjson.RawMessage(`{"result":{"type":"number","value":42}}`),
		}
	}
	_, s := testConnection(t, fn)

	val, err := s.Evaluate(context.Background(), "6 * 7")
	require.NoError(t, err)
	assert.JSONEq(t, `42`, string(val))
}

func TestSessionEvaluateException(t *testing.T) {
	t.Parallel()

	fn := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		writeCh <- cdproto.Message{
			ID: msg.ID,
			Result: easyjson.RawMessage(`{
				"result": {"type":"object","subtype":"error"},
				"exceptionDetails": {
					"exceptionId": 1,
					"text": "Uncaught",
					"lineNumber": 0,
					"columnNumber": 0,
					"exception": {"type":"object","subtype":"error","description":"ReferenceError: boom is not defined"}
				}
			}`),
		}
	}
	_, s := testConnection(t, fn)

	_, err := s.Evaluate(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReferenceError: boom is not defined")
}

func TestSessionCaptureScreenshot(t *testing.T) {
	t.Parallel()

	var captures []string
	fn := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		if msg.Method == cdproto.CommandPageCaptureScreenshot {
			captures = append(captures, string(msg.Params))
			writeCh <- cdproto.Message{
				ID:     msg.ID,
				Result: easyjson.RawMessage(`{"data":"aGVsbG8="}`),
			}
			return
		}
		writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{}`)}
	}
	conn, s := testConnection(t, fn)

	buf, err := s.CaptureScreenshot(context.Background(), "jpeg", 80)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf)

	conn.Close()
	<-conn.Done()

	require.Len(t, captures, 1)
	assert.JSONEq(t, `{"format":"jpeg","quality":80}`, captures[0])
}

func TestSessionCaptureScreenshotDefaultsToPNG(t *testing.T) {
	t.Parallel()

	var captures []string
	fn := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		captures = append(captures, string(msg.Params))
		writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{"data":"aGVsbG8="}`)}
	}
	conn, s := testConnection(t, fn)

	_, err := s.CaptureScreenshot(context.Background(), "", 0)
	require.NoError(t, err)

	conn.Close()
	<-conn.Done()

	require.Len(t, captures, 1)
	assert.JSONEq(t, `{"format":"png"}`, captures[0])
}

func TestSessionPrintToPDF(t *testing.T) {
	t.Parallel()

	fn := func(_ *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, _ chan struct{}) {
		if msg.ID == 0 {
			return
		}
		// "JVBERi0=" is base64 for the PDF magic "%PDF-".
		writeCh <- cdproto.Message{ID: msg.ID, Result: easyjson.RawMessage(`{"data":"JVBERi0="}`)}
	}
	_, s := testConnection(t, fn)

	buf, err := s.PrintToPDF(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-"), buf)
}
