package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/mimicbrowser/mimic/common"
)

type netlogCmd struct {
	gs *globalState

	wait   time.Duration
	fields []string
}

func (c *netlogCmd) run(_ *cobra.Command, args []string) error {
	gs := c.gs

	s, b, err := attachToPage(gs)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := s.EnableDomain(gs.ctx, "Network"); err != nil {
		return fmt.Errorf("enabling network events: %w", err)
	}

	gs.logger.Infof("recording network traffic for %s", c.wait)
	select {
	case <-time.After(c.wait):
	case <-gs.ctx.Done():
		return gs.ctx.Err()
	}

	entries, err := s.QueryNetworkLog(args...)
	if err != nil {
		return err
	}
	for _, e := range entries {
		line, err := formatNetworkLogEntry(e, c.fields)
		if err != nil {
			return err
		}
		printToStdout(gs, line+"\n")
	}
	return nil
}

// formatNetworkLogEntry renders one entry: the full JSON object by
// default, or the picked fields joined by tabs.
func formatNetworkLogEntry(e common.NetworkLogEntry, fields []string) (string, error) {
	line, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshaling log entry: %w", err)
	}
	if len(fields) == 0 {
		return string(line), nil
	}

	picks := make([]string, 0, len(fields))
	for _, f := range fields {
		picks = append(picks, gjson.GetBytes(line, f).String())
	}
	return strings.Join(picks, "\t"), nil
}

func getCmdNetlog(gs *globalState) *cobra.Command {
	c := &netlogCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "netlog [url-substring]...",
		Short: "Record and print the page's network traffic",
		Long: "Enable network events on the first page target, record traffic for\n" +
			"--wait, then print the log as JSON lines. Entries match when their\n" +
			"URL contains any of the given substrings; no arguments prints\n" +
			"everything.",
		Example: `  mimic netlog
  mimic netlog .json /api/ --wait 10s
  mimic netlog --fields kind,status,url`,
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.DurationVar(&c.wait, "wait", 5*time.Second, "how long to record before printing")
	flags.StringSliceVar(&c.fields, "fields", nil,
		"print only these entry fields, tab separated (e.g. kind,method,status,url)")

	return cmd
}
