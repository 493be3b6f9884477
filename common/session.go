package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mimicbrowser/mimic/log"
)

// session is the executor surface the input simulators and action
// helpers depend on, so tests can swap in a scripted fake.
type session interface {
	cdp.Executor
}

var _ session = (*Session)(nil)

// Session speaks CDP to a single target over the shared connection. It
// correlates command replies with their waiters by message id and fans
// events out through its dispatcher. All methods are safe for
// concurrent use.
type Session struct {
	ctx      context.Context
	conn     *Connection
	id       target.SessionID
	targetID target.ID
	logger   *log.Logger
	tracer   trace.Tracer
	timeouts *TimeoutSettings

	dispatcher *Dispatcher

	msgID     int64
	readCh    chan *cdproto.Message
	done      chan struct{}
	closeOnce sync.Once
	crashed   atomic.Bool

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	domainsMu sync.Mutex
	domains   map[string]bool

	dialogMu sync.Mutex
	dialog   *Dialog

	netLog networkLog
}

// NewSession starts a session reader for the given session and target
// ids. The empty session id denotes the root (browser-level) session.
func NewSession(
	ctx context.Context, conn *Connection,
	id target.SessionID, tid target.ID,
	logger *log.Logger, tracer trace.Tracer,
) *Session {
	s := Session{
		ctx:        ctx,
		conn:       conn,
		id:         id,
		targetID:   tid,
		logger:     logger,
		tracer:     tracer,
		timeouts:   NewTimeoutSettings(conn.timeouts),
		dispatcher: NewDispatcher(logger),
		readCh:     make(chan *cdproto.Message, 32),
		done:       make(chan struct{}),
		pending:    make(map[int64]chan *cdproto.Message),
		domains:    make(map[string]bool),
	}
	s.initEvents()

	go s.readLoop()

	return &s
}

func (s *Session) initEvents() {
	s.dispatcher.On(string(cdproto.EventPageJavascriptDialogOpening), s.onDialogOpening)
	s.dispatcher.On(string(cdproto.EventPageJavascriptDialogClosed), s.onDialogClosed)
	s.dispatcher.On(string(cdproto.EventNetworkRequestWillBeSent), s.onRequestWillBeSent)
	s.dispatcher.On(string(cdproto.EventNetworkResponseReceived), s.onResponseReceived)
	s.dispatcher.On(string(cdproto.EventInspectorTargetCrashed), func(Event) {
		s.markAsCrashed()
	})
}

// readLoop is the session's single reader: replies go to their waiter,
// events go to the dispatcher. It must never block on user code; the
// dispatcher guarantees that by running handlers on their own
// goroutines.
func (s *Session) readLoop() {
	for {
		select {
		case msg := <-s.readCh:
			if msg.ID != 0 {
				s.resolve(msg)
				continue
			}
			if msg.Method != "" {
				s.logger.Tracef("Session:readLoop",
					"sid:%v method:%q", s.id, msg.Method)
				s.dispatcher.Emit(Event{Name: string(msg.Method), Params: msg.Params})
			}
		case <-s.done:
			return
		}
	}
}

// resolve hands a reply to the waiter registered for its id, removing
// the registration so each id resolves at most once. Replies for
// unknown ids (typically commands that already timed out) are dropped.
func (s *Session) resolve(msg *cdproto.Message) {
	s.pendingMu.Lock()
	ch, ok := s.pending[msg.ID]
	delete(s.pending, msg.ID)
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debugf("Session:resolve",
			"sid:%v id:%d no waiter, dropping reply", s.id, msg.ID)
		return
	}
	ch <- msg
}

func (s *Session) removeWaiter(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// Execute sends a command and blocks until its reply arrives, the
// session's default timeout passes, or ctx is canceled. It implements
// cdproto's executor contract so generated command wrappers can run
// against a Session directly.
func (s *Session) Execute(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	return s.ExecuteWithTimeout(ctx, method, params, res, s.timeouts.timeout())
}

// ExecuteWithTimeout is Execute with an explicit per-command timeout.
func (s *Session) ExecuteWithTimeout(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
	timeout time.Duration,
) error {
	if s.crashed.Load() {
		return ErrTargetCrashed
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	id := atomic.AddInt64(&s.msgID, 1)

	ctx, span := s.tracer.Start(ctx, "cdp.execute", trace.WithAttributes(
		attribute.String("cdp.method", method),
		attribute.String("cdp.session", string(s.id)),
		attribute.Int64("cdp.id", id),
	))
	defer span.End()

	var buf easyjson.RawMessage
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:        id,
		SessionID: s.id,
		Method:    cdproto.MethodType(method),
		Params:    buf,
	}

	ch := make(chan *cdproto.Message, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	s.logger.Debugf("Session:Execute",
		"sid:%v tid:%v method:%q id:%d", s.id, s.targetID, method, id)

	if err := s.conn.send(ctx, msg); err != nil {
		s.removeWaiter(id)
		span.RecordError(err)
		if errors.Is(err, ErrConnectionClosed) {
			return ErrSessionClosed
		}
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Error != nil {
			err := protocolError(method, reply.Error)
			span.RecordError(err)
			return err
		}
		if res != nil && len(reply.Result) > 0 {
			if err := easyjson.Unmarshal(reply.Result, res); err != nil {
				return fmt.Errorf("unmarshaling %s result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		s.removeWaiter(id)
		s.logger.Debugf("Session:Execute",
			"sid:%v method:%q id:%d timed out after %s", s.id, method, id, timeout)
		return fmt.Errorf("executing %s: %w", method, ErrTimedOut)
	case <-ctx.Done():
		s.removeWaiter(id)
		return ctx.Err()
	case <-s.done:
		s.removeWaiter(id)
		return ErrSessionClosed
	}
}

// ExecuteWithoutExpectationOnReply sends a command and returns without
// waiting for the browser's reply. Any eventual reply is dropped by
// resolve as it has no registered waiter.
func (s *Session) ExecuteWithoutExpectationOnReply(
	ctx context.Context, method string, params easyjson.Marshaler,
) error {
	if s.crashed.Load() {
		return ErrTargetCrashed
	}

	var buf easyjson.RawMessage
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:        atomic.AddInt64(&s.msgID, 1),
		SessionID: s.id,
		Method:    cdproto.MethodType(method),
		Params:    buf,
	}

	s.logger.Debugf("Session:ExecuteWithoutExpectationOnReply",
		"sid:%v tid:%v method:%q", s.id, s.targetID, method)

	if err := s.conn.send(ctx, msg); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// EnableDomain turns on a CDP domain's event stream for this session.
// Re-enabling an enabled domain still sends the command (the browser
// resets some per-domain state on enable) but leaves the local flag
// untouched.
func (s *Session) EnableDomain(ctx context.Context, domain string) error {
	if err := s.Execute(ctx, domain+".enable", nil, nil); err != nil {
		return fmt.Errorf("enabling %s: %w", domain, err)
	}

	s.domainsMu.Lock()
	already := s.domains[domain]
	s.domains[domain] = true
	s.domainsMu.Unlock()

	if already {
		s.logger.Debugf("Session:EnableDomain", "sid:%v %s already enabled", s.id, domain)
	}
	return nil
}

// DisableDomain turns a domain's event stream back off.
func (s *Session) DisableDomain(ctx context.Context, domain string) error {
	if err := s.Execute(ctx, domain+".disable", nil, nil); err != nil {
		return fmt.Errorf("disabling %s: %w", domain, err)
	}

	s.domainsMu.Lock()
	delete(s.domains, domain)
	s.domainsMu.Unlock()

	return nil
}

// DomainEnabled reports whether domain's events are currently enabled
// on this session.
func (s *Session) DomainEnabled(domain string) bool {
	s.domainsMu.Lock()
	defer s.domainsMu.Unlock()

	return s.domains[domain]
}

// On subscribes fn to every occurrence of the named event and returns
// a registration id for Off.
func (s *Session) On(event string, fn HandlerFunc) uint64 {
	return s.dispatcher.On(event, fn)
}

// Once subscribes fn to the next occurrence of the named event only.
func (s *Session) Once(event string, fn HandlerFunc) uint64 {
	return s.dispatcher.Once(event, fn)
}

// Off removes a subscription. Unknown or already-removed ids are
// ignored.
func (s *Session) Off(id uint64) {
	s.dispatcher.Off(id)
}

func (s *Session) markAsCrashed() {
	if s.crashed.CompareAndSwap(false, true) {
		s.logger.Warnf("Session:markAsCrashed", "sid:%v tid:%v target crashed", s.id, s.targetID)
	}
}

// Crashed reports whether the target behind this session has crashed.
func (s *Session) Crashed() bool {
	return s.crashed.Load()
}

// SetDefaultTimeout overrides the per-command timeout used by Execute
// for this session only.
func (s *Session) SetDefaultTimeout(timeout time.Duration) {
	s.timeouts.setDefaultTimeout(timeout)
}

// ID returns the CDP session id, empty for the root session.
func (s *Session) ID() target.SessionID {
	return s.id
}

// TargetID returns the id of the target this session is attached to.
func (s *Session) TargetID() target.ID {
	return s.targetID
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close tears the session down locally. Every in-flight Execute fails
// with ErrSessionClosed instead of hanging, and all event
// subscriptions are dropped. Closing an already-closed session is a
// no-op.
func (s *Session) Close() {
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.logger.Debugf("Session:close", "sid:%v tid:%v", s.id, s.targetID)

		close(s.done)

		s.pendingMu.Lock()
		n := len(s.pending)
		s.pending = make(map[int64]chan *cdproto.Message)
		s.pendingMu.Unlock()
		if n > 0 {
			s.logger.Debugf("Session:close", "sid:%v failing %d in-flight commands", s.id, n)
		}

		s.dispatcher.Clear()
	})
}
