package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mimicbrowser/mimic/common"
)

type typeCmd struct {
	gs *globalState

	plain      bool
	seed       int64
	typoChance float64
}

func (c *typeCmd) run(_ *cobra.Command, args []string) error {
	gs := c.gs

	text, err := textFromArgs(gs, args)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	s, b, err := attachToPage(gs)
	if err != nil {
		return err
	}
	defer b.Close()

	cfg := common.DefaultTypingConfig()
	cfg.TypoChance = c.typoChance

	kb := common.NewKeyboardWithConfig(gs.ctx, s, cfg, seededRand(c.seed))
	if err := kb.Type(text, !c.plain); err != nil {
		return fmt.Errorf("typing text: %w", err)
	}
	return nil
}

// textFromArgs joins the arguments with single spaces; a lone "-"
// reads the text from stdin instead.
func textFromArgs(gs *globalState, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(gs.stdIn)
		if err != nil {
			return "", fmt.Errorf("reading text from stdin: %w", err)
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	}
	return strings.Join(args, " "), nil
}

func getCmdType(gs *globalState) *cobra.Command {
	c := &typeCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "type <text>...",
		Short: "Type text into the focused element",
		Long: "Type text into the currently focused element of the first page\n" +
			"target, with human-like timing and typos unless --plain is set.\n" +
			"Multiple arguments are joined with single spaces; \"-\" reads the\n" +
			"text from stdin.",
		Example: `  mimic type hello world
  echo "from a pipe" | mimic type -`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.BoolVar(&c.plain, "plain", false, "skip humanization, type with a fixed delay")
	flags.Int64Var(&c.seed, "seed", 0, "fixed randomness seed, 0 seeds from time")
	flags.Float64Var(&c.typoChance, "typo-chance", common.DefaultTypingConfig().TypoChance,
		"per-character chance of a typo episode")

	return cmd
}
