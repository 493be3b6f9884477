package common

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/mailru/easyjson"
)

// Dialog describes the JavaScript dialog (alert, confirm, prompt or
// beforeunload) currently blocking the page, if any.
type Dialog struct {
	Type          page.DialogType
	Message       string
	URL           string
	DefaultPrompt string
}

func (s *Session) onDialogOpening(ev Event) {
	var e page.EventJavascriptDialogOpening
	if err := easyjson.Unmarshal(ev.Params, &e); err != nil {
		s.logger.Errorf("Session:onDialogOpening", "sid:%v parsing params: %v", s.id, err)
		return
	}

	s.dialogMu.Lock()
	s.dialog = &Dialog{
		Type:          e.Type,
		Message:       e.Message,
		URL:           e.URL,
		DefaultPrompt: e.DefaultPrompt,
	}
	s.dialogMu.Unlock()

	s.logger.Debugf("Session:onDialogOpening",
		"sid:%v type:%s message:%q", s.id, e.Type, e.Message)
}

func (s *Session) onDialogClosed(ev Event) {
	s.dialogMu.Lock()
	had := s.dialog != nil
	s.dialog = nil
	s.dialogMu.Unlock()

	// The page can close its own dialog (e.g. a timed beforeunload),
	// so a closed event without a preceding ResolveDialog is normal.
	if had {
		s.logger.Debugf("Session:onDialogClosed", "sid:%v dialog closed", s.id)
	}
}

// HasDialog reports whether a JavaScript dialog is currently open on
// this session's target.
func (s *Session) HasDialog() bool {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()

	return s.dialog != nil
}

// Dialog returns a copy of the open dialog's parameters, or
// ErrNoDialogPresent when no dialog is open.
func (s *Session) Dialog() (Dialog, error) {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()

	if s.dialog == nil {
		return Dialog{}, ErrNoDialogPresent
	}
	return *s.dialog, nil
}

// DialogMessage returns the message of the open dialog, or
// ErrNoDialogPresent when no dialog is open.
func (s *Session) DialogMessage() (string, error) {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()

	if s.dialog == nil {
		return "", ErrNoDialogPresent
	}
	return s.dialog.Message, nil
}

// ResolveDialog accepts or dismisses the open dialog. promptText is
// only meaningful for prompt dialogs and is ignored by the browser
// otherwise. Fails with ErrNoDialogPresent when no dialog is open.
func (s *Session) ResolveDialog(ctx context.Context, accept bool, promptText string) error {
	s.dialogMu.Lock()
	dialog := s.dialog
	s.dialogMu.Unlock()

	if dialog == nil {
		return ErrNoDialogPresent
	}

	action := page.HandleJavaScriptDialog(accept)
	if promptText != "" {
		action = action.WithPromptText(promptText)
	}
	if err := action.Do(cdp.WithExecutor(ctx, s)); err != nil {
		return fmt.Errorf("resolving dialog: %w", err)
	}

	// Page.javascriptDialogClosed clears the slot too, but that event
	// races with our return; clear eagerly so HasDialog is consistent
	// for the caller right away.
	s.dialogMu.Lock()
	if s.dialog == dialog {
		s.dialog = nil
	}
	s.dialogMu.Unlock()

	s.logger.Debugf("Session:ResolveDialog", "sid:%v accept:%t", s.id, accept)

	return nil
}
