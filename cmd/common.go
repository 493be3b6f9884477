package cmd

import (
	"fmt"
	"math/rand"

	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/mimicbrowser/mimic/common"
	"github.com/mimicbrowser/mimic/log"
)

// The getNull* helpers read a flag value and mark it valid only when
// the user actually set it, which is what Config.Apply keys on.

func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

func printToStdout(gs *globalState, s string) {
	if _, err := fmt.Fprint(gs.stdOut, s); err != nil {
		gs.logger.Errorf("could not print '%s' to stdout: %s", s, err.Error())
	}
}

// engineLogger wraps the CLI logger for the engine packages.
func engineLogger(gs *globalState) *log.Logger {
	return log.New(gs.logger, nil)
}

// dialBrowser connects to the configured browser, resolving the
// websocket URL through the debug address unless --ws-url was given.
func dialBrowser(gs *globalState) (*common.Browser, error) {
	wsURL := gs.conf.WSURL.String
	if wsURL == "" {
		var err error
		wsURL, err = common.LookupWebSocketURL(gs.ctx, gs.conf.DebugAddress.String)
		if err != nil {
			return nil, fmt.Errorf("resolving websocket URL: %w", err)
		}
	}

	b, err := common.Connect(gs.ctx, wsURL, engineLogger(gs), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	b.SetDefaultTimeout(gs.conf.timeout())
	return b, nil
}

// attachToPage dials the browser and attaches to its first page
// target. The caller owns the returned browser and must Close it.
func attachToPage(gs *globalState) (*common.Session, *common.Browser, error) {
	b, err := dialBrowser(gs)
	if err != nil {
		return nil, nil, err
	}

	s, err := b.AttachToFirstPage(gs.ctx)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("attaching to page: %w", err)
	}
	return s, b, nil
}

// seededRand returns the randomness source for the humanize models: a
// fixed source for reproducible runs, nil (the models seed from time)
// when seed is 0.
func seededRand(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}
