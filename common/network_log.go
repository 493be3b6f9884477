package common

import (
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/mailru/easyjson"
)

// NetworkLogKind distinguishes request from response entries.
type NetworkLogKind string

const (
	NetworkLogRequest  NetworkLogKind = "request"
	NetworkLogResponse NetworkLogKind = "response"
)

// NetworkLogEntry is one recorded network event. Requests and
// responses are separate entries sharing a RequestID; Method is only
// set on requests, Status and MIMEType only on responses.
type NetworkLogEntry struct {
	Kind      NetworkLogKind `json:"kind"`
	RequestID string         `json:"requestId"`
	URL       string         `json:"url"`
	Method    string         `json:"method,omitempty"`
	Status    int64          `json:"status,omitempty"`
	MIMEType  string         `json:"mimeType,omitempty"`
	Recorded  time.Time      `json:"recorded"`
}

// networkLog is the session's append-only record of network traffic.
// It only grows while the Network domain is enabled, since the browser
// emits no network events otherwise.
type networkLog struct {
	mu      sync.RWMutex
	entries []NetworkLogEntry
}

func (l *networkLog) append(e NetworkLogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// query returns entries whose URL contains any of the given
// substrings. With no filters it returns every entry.
func (l *networkLog) query(filters []string) []NetworkLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]NetworkLogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if len(filters) == 0 {
			matched = append(matched, e)
			continue
		}
		for _, f := range filters {
			if strings.Contains(e.URL, f) {
				matched = append(matched, e)
				break
			}
		}
	}
	return matched
}

func (l *networkLog) clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

func (s *Session) onRequestWillBeSent(ev Event) {
	var e network.EventRequestWillBeSent
	if err := easyjson.Unmarshal(ev.Params, &e); err != nil {
		s.logger.Errorf("Session:onRequestWillBeSent", "sid:%v parsing params: %v", s.id, err)
		return
	}
	if e.Request == nil {
		return
	}

	s.logger.Tracef("Session:onRequestWillBeSent",
		"sid:%v rid:%s %s %s", s.id, e.RequestID, e.Request.Method, e.Request.URL)

	s.netLog.append(NetworkLogEntry{
		Kind:      NetworkLogRequest,
		RequestID: string(e.RequestID),
		URL:       e.Request.URL,
		Method:    e.Request.Method,
		Recorded:  time.Now(),
	})
}

func (s *Session) onResponseReceived(ev Event) {
	var e network.EventResponseReceived
	if err := easyjson.Unmarshal(ev.Params, &e); err != nil {
		s.logger.Errorf("Session:onResponseReceived", "sid:%v parsing params: %v", s.id, err)
		return
	}
	if e.Response == nil {
		return
	}

	s.logger.Tracef("Session:onResponseReceived",
		"sid:%v rid:%s status:%d %s", s.id, e.RequestID, e.Response.Status, e.Response.URL)

	s.netLog.append(NetworkLogEntry{
		Kind:      NetworkLogResponse,
		RequestID: string(e.RequestID),
		URL:       e.Response.URL,
		Status:    e.Response.Status,
		MIMEType:  e.Response.MimeType,
		Recorded:  time.Now(),
	})
}

// QueryNetworkLog returns recorded entries whose URL contains any of
// the given substrings, every entry when called without filters, and
// ErrNoMatchingLogEntry when nothing matches.
func (s *Session) QueryNetworkLog(filters ...string) ([]NetworkLogEntry, error) {
	matched := s.netLog.query(filters)
	if len(matched) == 0 {
		return nil, ErrNoMatchingLogEntry
	}
	return matched, nil
}

// ClearNetworkLog empties the session's network log.
func (s *Session) ClearNetworkLog() {
	s.netLog.clear()
	s.logger.Debugf("Session:ClearNetworkLog", "sid:%v", s.id)
}
