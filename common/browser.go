package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/mimicbrowser/mimic/log"
)

// Browser is the top-level handle on a running browser: it owns the
// connection and an explicit registry of attached targets, keyed by
// target id.
type Browser struct {
	ctx    context.Context
	logger *log.Logger
	conn   *Connection

	targetsMu sync.RWMutex
	targets   map[target.ID]*Session
}

// Connect dials a browser's devtools websocket and returns a handle on
// it. A nil tracer disables command tracing.
func Connect(ctx context.Context, wsURL string, logger *log.Logger, tracer trace.Tracer) (*Browser, error) {
	conn, err := NewConnection(ctx, wsURL, logger, tracer)
	if err != nil {
		return nil, err
	}

	b := Browser{
		ctx:     ctx,
		logger:  logger,
		conn:    conn,
		targets: make(map[target.ID]*Session),
	}
	b.initEvents()

	logger.Debugf("Browser:Connect", "connected to %s", wsURL)

	return &b, nil
}

func (b *Browser) initEvents() {
	root := b.conn.RootSession()
	root.On(string(cdproto.EventTargetAttachedToTarget), b.onAttachedToTarget)
	root.On(string(cdproto.EventTargetDetachedFromTarget), b.onDetachedFromTarget)
}

// onAttachedToTarget records sessions the browser attaches on its own
// initiative (auto-attach, window.open); AttachToTarget records the
// ones we ask for.
func (b *Browser) onAttachedToTarget(ev Event) {
	var e target.EventAttachedToTarget
	if err := easyjson.Unmarshal(ev.Params, &e); err != nil {
		b.logger.Errorf("Browser:onAttachedToTarget", "parsing params: %v", err)
		return
	}
	s := b.conn.getSession(e.SessionID)
	if s == nil {
		return
	}

	b.targetsMu.Lock()
	b.targets[e.TargetInfo.TargetID] = s
	b.targetsMu.Unlock()
}

func (b *Browser) onDetachedFromTarget(ev Event) {
	var e target.EventDetachedFromTarget
	if err := easyjson.Unmarshal(ev.Params, &e); err != nil {
		b.logger.Errorf("Browser:onDetachedFromTarget", "parsing params: %v", err)
		return
	}

	b.targetsMu.Lock()
	for tid, s := range b.targets {
		if s.ID() == e.SessionID {
			delete(b.targets, tid)
			break
		}
	}
	b.targetsMu.Unlock()
}

// RootSession returns the browser-level session used for Target.*
// commands.
func (b *Browser) RootSession() *Session {
	return b.conn.RootSession()
}

// AttachToTarget attaches to the given target in flat mode and returns
// its session. Attaching to an already-attached, still-live target
// returns the existing session unchanged.
func (b *Browser) AttachToTarget(ctx context.Context, tid target.ID) (*Session, error) {
	b.targetsMu.RLock()
	s, ok := b.targets[tid]
	b.targetsMu.RUnlock()
	if ok && !s.Closed() {
		return s, nil
	}

	root := b.conn.RootSession()
	sid, err := target.AttachToTarget(tid).
		WithFlatten(true).
		Do(cdp.WithExecutor(ctx, root))
	if err != nil {
		return nil, fmt.Errorf("attaching to target %s: %w", tid, err)
	}

	// The Target.attachedToTarget event precedes the reply on the
	// socket, so the connection has normally registered the session by
	// now; cover the unusual peer that skips the event.
	s = b.conn.getSession(sid)
	if s == nil {
		s = b.conn.registerSession(sid, tid)
	}

	b.targetsMu.Lock()
	b.targets[tid] = s
	b.targetsMu.Unlock()

	b.logger.Debugf("Browser:AttachToTarget", "tid:%v sid:%v", tid, sid)

	return s, nil
}

// Targets returns the targets the browser currently reports.
func (b *Browser) Targets(ctx context.Context) ([]*target.Info, error) {
	infos, err := target.GetTargets().Do(cdp.WithExecutor(ctx, b.conn.RootSession()))
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	return infos, nil
}

// AttachToFirstPage attaches to the first page target the browser
// reports, the common case for CLI-style drivers.
func (b *Browser) AttachToFirstPage(ctx context.Context) (*Session, error) {
	infos, err := b.Targets(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Type == "page" {
			return b.AttachToTarget(ctx, info.TargetID)
		}
	}
	return nil, errors.New("no page target available")
}

// NewPage opens a new page target on url (about:blank when empty) and
// attaches to it.
func (b *Browser) NewPage(ctx context.Context, url string) (*Session, error) {
	if url == "" {
		url = "about:blank"
	}
	tid, err := target.CreateTarget(url).Do(cdp.WithExecutor(ctx, b.conn.RootSession()))
	if err != nil {
		return nil, fmt.Errorf("creating target: %w", err)
	}
	return b.AttachToTarget(ctx, tid)
}

// SessionForTarget returns the attached session for a target id, if
// any.
func (b *Browser) SessionForTarget(tid target.ID) (*Session, bool) {
	b.targetsMu.RLock()
	defer b.targetsMu.RUnlock()

	s, ok := b.targets[tid]
	return s, ok
}

// Sessions returns a snapshot of the attached sessions.
func (b *Browser) Sessions() []*Session {
	b.targetsMu.RLock()
	defer b.targetsMu.RUnlock()

	sessions := make([]*Session, 0, len(b.targets))
	for _, s := range b.targets {
		sessions = append(sessions, s)
	}
	return sessions
}

// SetDefaultTimeout overrides the per-command timeout for every
// session that has no override of its own.
func (b *Browser) SetDefaultTimeout(timeout time.Duration) {
	b.conn.timeouts.setDefaultTimeout(timeout)
}

// SetDefaultNavigationTimeout overrides the navigation timeout for
// every session that has no override of its own.
func (b *Browser) SetDefaultNavigationTimeout(timeout time.Duration) {
	b.conn.timeouts.setDefaultNavigationTimeout(timeout)
}

// Close tears down the connection and with it every session; pending
// commands fail with ErrSessionClosed.
func (b *Browser) Close() {
	b.logger.Debugf("Browser:Close", "")
	b.conn.Close()

	b.targetsMu.Lock()
	b.targets = make(map[target.ID]*Session)
	b.targetsMu.Unlock()
}

// Done is closed when the underlying connection is fully torn down.
func (b *Browser) Done() <-chan struct{} {
	return b.conn.Done()
}

// LookupWebSocketURL resolves a browser's devtools websocket URL from
// its debugging address: a ready ws:// or wss:// URL is returned
// unchanged, anything else is treated as an http(s) base and queried
// at /json/version.
func LookupWebSocketURL(ctx context.Context, address string) (string, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address, nil
	}

	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing debugger address %q: %w", address, err)
	}
	u.Path = "/json/version"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building version request: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", u, err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("reading version response: %w", err)
	}

	wsURL := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if wsURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in response from %s", u)
	}
	return wsURL, nil
}
