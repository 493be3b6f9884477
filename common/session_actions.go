package common

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// Navigate drives the target to url, honoring the session's navigation
// timeout rather than the shorter command timeout. A navigation error
// reported by the browser (net::ERR_* and friends) fails the call.
func (s *Session) Navigate(ctx context.Context, url, referrer string) error {
	params := cdppage.Navigate(url)
	if referrer != "" {
		params = params.WithReferrer(referrer)
	}

	res := new(cdppage.NavigateReturns)
	err := s.ExecuteWithTimeout(ctx,
		cdppage.CommandNavigate, params, res, s.timeouts.navigationTimeout())
	if err != nil {
		return fmt.Errorf("navigating to %q: %w", url, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigating to %q: %s", url, res.ErrorText)
	}

	s.logger.Debugf("Session:Navigate", "sid:%v url:%q", s.id, url)

	return nil
}

// Evaluate runs a JavaScript expression in the target and returns its
// value JSON-encoded. A thrown exception fails the call.
func (s *Session) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	obj, exceptionDetails, err := runtime.Evaluate(expression).
		WithReturnByValue(true).
		Do(cdp.WithExecutor(ctx, s))
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if exceptionDetails != nil {
		return nil, fmt.Errorf("evaluating expression: %s", exceptionText(exceptionDetails))
	}
	if obj == nil {
		return nil, nil
	}
	return []byte(obj.Value), nil
}

// exceptionText extracts a printable message from a thrown-exception
// report, preferring the exception's own description.
func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc == nil {
		return ""
	}
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

// CaptureScreenshot captures the visible viewport and returns the
// encoded image bytes. Quality only applies to the jpeg format.
func (s *Session) CaptureScreenshot(ctx context.Context, format string, quality int64) ([]byte, error) {
	capture := cdppage.CaptureScreenshot()
	switch format {
	case "jpeg":
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatJpeg).WithQuality(quality)
	case "webp":
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatWebp)
	default:
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatPng)
	}

	buf, err := capture.Do(cdp.WithExecutor(ctx, s))
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}

	s.logger.Debugf("Session:CaptureScreenshot",
		"sid:%v format:%s size:%d", s.id, format, len(buf))

	return buf, nil
}

// PrintToPDF renders the page to PDF with the browser's default page
// setup and returns the document bytes.
func (s *Session) PrintToPDF(ctx context.Context) ([]byte, error) {
	buf, _, err := cdppage.PrintToPDF().Do(cdp.WithExecutor(ctx, s))
	if err != nil {
		return nil, fmt.Errorf("printing to PDF: %w", err)
	}

	s.logger.Debugf("Session:PrintToPDF", "sid:%v size:%d", s.id, len(buf))

	return buf, nil
}
