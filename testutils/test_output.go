package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// testOutput makes a test a valid io.Writer, useful for passing it as
// an output for logs.
type testOutput struct{ testing.TB }

func (to testOutput) Write(p []byte) (n int, err error) {
	to.Logf("%s", p)
	return len(p), nil
}

// NewTestOutput returns an io.Writer that writes through the test's
// logger.
func NewTestOutput(tb testing.TB) io.Writer {
	return testOutput{tb}
}

// NewLogger returns a logrus logger that logs through tb.
func NewLogger(tb testing.TB) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(NewTestOutput(tb))
	return l
}
