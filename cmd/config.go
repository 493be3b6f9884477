package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
)

const (
	defaultDebugAddress   = "localhost:9222"
	defaultTimeoutSeconds = 30
)

// Config holds the global options shared by every subcommand. Fields
// are nullable so consolidation can tell "explicitly set" apart from
// "left at the default".
type Config struct {
	WSURL        null.String `json:"wsURL"`
	DebugAddress null.String `json:"debugAddress"`
	Timeout      null.Int    `json:"timeout"`
	Verbose      null.Bool   `json:"verbose"`
	Quiet        null.Bool   `json:"quiet"`
}

// Apply overlays the valid fields of cfg on top of c.
func (c Config) Apply(cfg Config) Config {
	if cfg.WSURL.Valid {
		c.WSURL = cfg.WSURL
	}
	if cfg.DebugAddress.Valid {
		c.DebugAddress = cfg.DebugAddress
	}
	if cfg.Timeout.Valid {
		c.Timeout = cfg.Timeout
	}
	if cfg.Verbose.Valid {
		c.Verbose = cfg.Verbose
	}
	if cfg.Quiet.Valid {
		c.Quiet = cfg.Quiet
	}
	return c
}

// timeout returns the per-command timeout as a duration.
func (c Config) timeout() time.Duration {
	return time.Duration(c.Timeout.Int64) * time.Second
}

// defaultConfig carries usable values while staying invalid, so a
// later Apply only overrides what was explicitly set.
func defaultConfig() Config {
	return Config{
		DebugAddress: null.NewString(defaultDebugAddress, false),
		Timeout:      null.NewInt(defaultTimeoutSeconds, false),
	}
}

// envLookupFunc looks a key up in some environment; os.LookupEnv
// shaped so tests can fake it.
type envLookupFunc func(key string) (string, bool)

func mapLookup(env map[string]string) envLookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// getConfig gets the global configuration from CLI flags.
func getConfig(flags *pflag.FlagSet) Config {
	return Config{
		WSURL:        getNullString(flags, "ws-url"),
		DebugAddress: getNullString(flags, "debug-address"),
		Timeout:      getNullInt64(flags, "timeout"),
		Verbose:      getNullBool(flags, "verbose"),
		Quiet:        getNullBool(flags, "quiet"),
	}
}

// readEnvConfig reads the global configuration from MIMIC_* environment
// variables.
func readEnvConfig(lookup envLookupFunc) (Config, error) {
	var conf Config
	if v, ok := lookup("MIMIC_WS_URL"); ok {
		conf.WSURL = null.StringFrom(v)
	}
	if v, ok := lookup("MIMIC_DEBUG_ADDRESS"); ok {
		conf.DebugAddress = null.StringFrom(v)
	}
	if v, ok := lookup("MIMIC_TIMEOUT"); ok {
		t, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return conf, fmt.Errorf("parsing MIMIC_TIMEOUT: %w", err)
		}
		conf.Timeout = null.IntFrom(t)
	}
	if v, ok := lookup("MIMIC_VERBOSE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return conf, fmt.Errorf("parsing MIMIC_VERBOSE: %w", err)
		}
		conf.Verbose = null.BoolFrom(b)
	}
	if v, ok := lookup("MIMIC_QUIET"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return conf, fmt.Errorf("parsing MIMIC_QUIET: %w", err)
		}
		conf.Quiet = null.BoolFrom(b)
	}
	return conf, nil
}

// getConsolidatedConfig merges the configuration sources in order of
// precedence: defaults, then environment variables, then CLI flags.
func getConsolidatedConfig(flags *pflag.FlagSet, lookup envLookupFunc) (Config, error) {
	envConf, err := readEnvConfig(lookup)
	if err != nil {
		return Config{}, err
	}

	conf := defaultConfig().Apply(envConf).Apply(getConfig(flags))
	if conf.Timeout.Int64 <= 0 {
		return Config{}, fmt.Errorf("timeout must be a positive number of seconds, got %d", conf.Timeout.Int64)
	}
	return conf, nil
}
