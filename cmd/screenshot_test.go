package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimicbrowser/mimic/tests/ws"
	"github.com/mimicbrowser/mimic/testutils"
)

// captureHandler serves base64 data for both capture commands and
// records the params of every Page.captureScreenshot.
func captureHandler(mu *sync.Mutex, params *[]string, data string) ws.CDPHandlerFunc {
	return func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		switch msg.Method {
		case cdproto.CommandTargetGetTargets:
			respondGetTargets(msg, writeCh)
		case cdproto.CommandPageCaptureScreenshot:
			mu.Lock()
			*params = append(*params, string(msg.Params))
			mu.Unlock()
			writeCh <- cdproto.Message{
				ID:        msg.ID,
				SessionID: msg.SessionID,
				Result:    easyjson.RawMessage(`{"data":"` + data + `"}`),
			}
		case cdproto.CommandPagePrintToPDF:
			writeCh <- cdproto.Message{
				ID:        msg.ID,
				SessionID: msg.SessionID,
				Result:    easyjson.RawMessage(`{"data":"` + data + `"}`),
			}
		default:
			ws.CDPDefaultHandler(conn, msg, writeCh, done)
		}
	}
}

func TestScreenshotCommand(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		params []string
	)
	// "aGVsbG8=" is base64 for "hello".
	srv := ws.NewServer(t, ws.WithCDPHandler("/cdp", captureHandler(&mu, &params, "aGVsbG8="), nil))

	ts := newGlobalTestState(t)
	ts.args = []string{"mimic", "--ws-url", srv.URL("/cdp"), "screenshot", "out/shot.png"}

	newRootCommand(ts.globalState).execute()

	mu.Lock()
	require.Len(t, params, 1)
	assert.Contains(t, params[0], `"format":"png"`)
	mu.Unlock()

	got, err := afero.ReadFile(ts.fs, "out/shot.png")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.True(t, testutils.LogContains(ts.loggerHook.Drain(), logrus.InfoLevel,
		"wrote 5 bytes to out/shot.png"))
}

func TestScreenshotCommandJpegQuality(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		params []string
	)
	srv := ws.NewServer(t, ws.WithCDPHandler("/cdp", captureHandler(&mu, &params, "aGVsbG8="), nil))

	ts := newGlobalTestState(t)
	ts.args = []string{
		"mimic", "--ws-url", srv.URL("/cdp"),
		"screenshot", "--format", "jpeg", "--quality", "60", "pic.jpg",
	}

	newRootCommand(ts.globalState).execute()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, params, 1)
	assert.Contains(t, params[0], `"format":"jpeg"`)
	assert.Contains(t, params[0], `"quality":60`)
}

func TestScreenshotCommandPDF(t *testing.T) {
	t.Parallel()

	// "JVBERi0=" is base64 for "%PDF-".
	srv := ws.NewServer(t, ws.WithCDPHandler("/cdp", captureHandler(&sync.Mutex{}, &[]string{}, "JVBERi0="), nil))

	ts := newGlobalTestState(t)
	ts.args = []string{
		"mimic", "--ws-url", srv.URL("/cdp"),
		"screenshot", "--format", "pdf", "out/doc.pdf",
	}

	newRootCommand(ts.globalState).execute()

	got, err := afero.ReadFile(ts.fs, "out/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(got))
}

func TestScreenshotCommandUpload(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(store.Close)

	srv := ws.NewServer(t, ws.WithCDPHandler("/cdp", captureHandler(&sync.Mutex{}, &[]string{}, "aGVsbG8="), nil))

	ts := newGlobalTestState(t)
	ts.args = []string{
		"mimic", "--ws-url", srv.URL("/cdp"),
		"screenshot", "--upload-url", store.URL, "shot.png",
	}

	newRootCommand(ts.globalState).execute()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/shot.png", path)
	assert.Equal(t, "hello", string(body))

	// Nothing is written locally when uploading.
	_, err := ts.fs.Stat("shot.png")
	require.Error(t, err)
}

func TestScreenshotCommandBadFormat(t *testing.T) {
	t.Parallel()

	// Format validation runs before any connection is dialed.
	ts := newGlobalTestState(t)
	ts.expectedExitCode = 1
	ts.args = []string{"mimic", "screenshot", "--format", "bmp", "out.bmp"}

	newRootCommand(ts.globalState).execute()

	assert.True(t, testutils.LogContains(ts.loggerHook.Drain(), logrus.ErrorLevel,
		"unsupported format"))
}
