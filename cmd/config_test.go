package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestConfigApply(t *testing.T) {
	t.Parallel()

	base := defaultConfig()

	// Invalid fields leave the base untouched.
	conf := base.Apply(Config{})
	assert.Equal(t, defaultDebugAddress, conf.DebugAddress.String)
	assert.False(t, conf.DebugAddress.Valid)
	assert.EqualValues(t, defaultTimeoutSeconds, conf.Timeout.Int64)

	// Valid fields override, the rest stay.
	conf = base.Apply(Config{Timeout: null.IntFrom(7), Verbose: null.BoolFrom(true)})
	assert.EqualValues(t, 7, conf.Timeout.Int64)
	assert.True(t, conf.Verbose.Bool)
	assert.Equal(t, defaultDebugAddress, conf.DebugAddress.String)
}

func TestConfigConsolidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		args []string
		env  map[string]string
		want func(t *testing.T, conf Config)
	}{
		{
			name: "defaults",
			want: func(t *testing.T, conf Config) {
				assert.Equal(t, "", conf.WSURL.String)
				assert.Equal(t, defaultDebugAddress, conf.DebugAddress.String)
				assert.EqualValues(t, defaultTimeoutSeconds, conf.Timeout.Int64)
				assert.False(t, conf.Verbose.Bool)
				assert.False(t, conf.Quiet.Bool)
			},
		},
		{
			name: "env_overrides_defaults",
			env: map[string]string{
				"MIMIC_DEBUG_ADDRESS": "remote:9333",
				"MIMIC_TIMEOUT":       "60",
				"MIMIC_VERBOSE":       "true",
			},
			want: func(t *testing.T, conf Config) {
				assert.Equal(t, "remote:9333", conf.DebugAddress.String)
				assert.EqualValues(t, 60, conf.Timeout.Int64)
				assert.True(t, conf.Verbose.Bool)
			},
		},
		{
			name: "flags_override_env",
			args: []string{"--debug-address", "flagged:9444", "--timeout", "45"},
			env: map[string]string{
				"MIMIC_DEBUG_ADDRESS": "remote:9333",
				"MIMIC_TIMEOUT":       "60",
			},
			want: func(t *testing.T, conf Config) {
				assert.Equal(t, "flagged:9444", conf.DebugAddress.String)
				assert.EqualValues(t, 45, conf.Timeout.Int64)
			},
		},
		{
			name: "ws_url_from_env",
			env:  map[string]string{"MIMIC_WS_URL": "ws://devtools:9222/cdp"},
			want: func(t *testing.T, conf Config) {
				assert.Equal(t, "ws://devtools:9222/cdp", conf.WSURL.String)
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			flags := rootCmdPersistentFlagSet()
			require.NoError(t, flags.Parse(tc.args))

			conf, err := getConsolidatedConfig(flags, mapLookup(tc.env))
			require.NoError(t, err)
			tc.want(t, conf)
		})
	}
}

func TestConfigConsolidationErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		args    []string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "bad_env_timeout",
			env:     map[string]string{"MIMIC_TIMEOUT": "soon"},
			wantErr: "parsing MIMIC_TIMEOUT",
		},
		{
			name:    "bad_env_bool",
			env:     map[string]string{"MIMIC_QUIET": "silent"},
			wantErr: "parsing MIMIC_QUIET",
		},
		{
			name:    "non_positive_timeout",
			args:    []string{"--timeout", "0"},
			wantErr: "timeout must be a positive number of seconds",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			flags := rootCmdPersistentFlagSet()
			require.NoError(t, flags.Parse(tc.args))

			_, err := getConsolidatedConfig(flags, mapLookup(tc.env))
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
