package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mailru/easyjson"
)

// WaitForEvent blocks until the named event occurs with params
// accepted by predicate (nil accepts the first occurrence), then
// returns those params. It gives up with ErrTimedOut after timeout,
// with ctx's error on cancellation, and with ErrSessionClosed on
// teardown.
func (s *Session) WaitForEvent(
	ctx context.Context, event string,
	predicate func(Event) bool, timeout time.Duration,
) (easyjson.RawMessage, error) {
	ch := make(chan Event, 1)
	var once sync.Once
	id := s.On(event, func(ev Event) {
		if predicate != nil && !predicate(ev) {
			return
		}
		once.Do(func() { ch <- ev })
	})
	defer s.Off(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev.Params, nil
	case <-timer.C:
		return nil, fmt.Errorf("waiting for %s: %w", event, ErrTimedOut)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	}
}
