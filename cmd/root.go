// Package cmd implements the mimic command line interface.
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalState bundles the process-level dependencies of every
// subcommand, so tests can swap in fakes for the file system, the
// environment, the standard streams and the exit function.
type globalState struct {
	ctx context.Context

	fs      afero.Fs
	getwd   func() (string, error)
	args    []string
	envVars map[string]string

	conf Config

	stdOut, stdErr io.Writer
	stdIn          io.Reader

	osExit       func(int)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)

	logger *logrus.Logger
}

// newGlobalState returns a globalState wired to the real process
// environment: OS file system, os.Environ, standard streams with
// color support when they are terminals, os.Exit.
func newGlobalState(ctx context.Context) *globalState {
	var stdOut, stdErr io.Writer = os.Stdout, os.Stderr
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if stdoutTTY {
		stdOut = colorable.NewColorableStdout()
	}
	if stderrTTY {
		stdErr = colorable.NewColorableStderr()
	}

	logger := &logrus.Logger{
		Out:       stdErr,
		Formatter: &logrus.TextFormatter{ForceColors: stderrTTY, DisableColors: !stderrTTY},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	return &globalState{
		ctx:          ctx,
		fs:           afero.NewOsFs(),
		getwd:        os.Getwd,
		args:         append(make([]string, 0, len(os.Args)), os.Args...),
		envVars:      buildEnvMap(os.Environ()),
		stdOut:       stdOut,
		stdErr:       stdErr,
		stdIn:        os.Stdin,
		osExit:       os.Exit,
		signalNotify: signal.Notify,
		signalStop:   signal.Stop,
		logger:       logger,
	}
}

// buildEnvMap converts an os.Environ()-style key=value list into a
// map.
func buildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

// rootCommand holds the root cobra command and everything shared by
// its subcommands.
type rootCommand struct {
	globalState *globalState
	cmd         *cobra.Command
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{globalState: gs}

	rootCmd := &cobra.Command{
		Use:   "mimic",
		Short: "drive a browser over its devtools socket, like a human would",
		Long: "mimic speaks the Chrome DevTools Protocol to an already running\n" +
			"browser and drives it with human-like keyboard and scroll input.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	rootCmd.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet())
	rootCmd.SetArgs(gs.args[1:])
	rootCmd.SetOut(gs.stdOut)
	rootCmd.SetErr(gs.stdErr)
	rootCmd.SetIn(gs.stdIn)

	rootCmd.AddCommand(
		getCmdType(gs),
		getCmdScroll(gs),
		getCmdNetlog(gs),
		getCmdScreenshot(gs),
		getCmdVersion(gs),
	)

	c.cmd = rootCmd
	return c
}

// persistentPreRunE consolidates the configuration from defaults,
// environment variables and flags, and adjusts the log level before
// any subcommand runs.
func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	gs := c.globalState

	conf, err := getConsolidatedConfig(cmd.Flags(), mapLookup(gs.envVars))
	if err != nil {
		return err
	}
	gs.conf = conf

	switch {
	case conf.Verbose.Bool:
		gs.logger.SetLevel(logrus.DebugLevel)
	case conf.Quiet.Bool:
		gs.logger.SetLevel(logrus.WarnLevel)
	}
	return nil
}

func (c *rootCommand) execute() {
	stop := c.setupSignalHandling()
	defer stop()

	if err := c.cmd.Execute(); err != nil {
		c.globalState.logger.Error(err)
		c.globalState.osExit(1)
	}
}

// setupSignalHandling replaces the global context with one that is
// canceled on SIGINT/SIGTERM, so a command aborts its in-flight
// browser work instead of leaving the process hanging. The returned
// stop function releases the signal handler.
func (c *rootCommand) setupSignalHandling() func() {
	gs := c.globalState
	ctx, cancel := context.WithCancel(gs.ctx)
	gs.ctx = ctx

	sigCh := make(chan os.Signal, 1)
	gs.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			gs.logger.Debugf("received signal %s, canceling", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() {
		gs.signalStop(sigCh)
		cancel()
	}
}

func rootCmdPersistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.String("ws-url", "", "devtools websocket `url`, skips discovery when set")
	flags.StringP("debug-address", "a", defaultDebugAddress, "browser remote debugging `address`")
	flags.Int64("timeout", defaultTimeoutSeconds, "default command timeout in `seconds`")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log warnings and errors")
	return flags
}

// Execute runs the root command against the real process environment.
// It is called by main.main().
func Execute() {
	gs := newGlobalState(context.Background())
	newRootCommand(gs).execute()
}
