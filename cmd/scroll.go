package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mimicbrowser/mimic/common"
)

type scrollCmd struct {
	gs *globalState

	plain bool
	seed  int64
}

// withScroller attaches to the first page target and hands a scroller
// on it to fn.
func (c *scrollCmd) withScroller(fn func(*common.Scroller) error) error {
	gs := c.gs

	s, b, err := attachToPage(gs)
	if err != nil {
		return err
	}
	defer b.Close()

	sc := common.NewScrollerWithConfig(gs.ctx, s, engineLogger(gs),
		common.DefaultScrollConfig(), seededRand(c.seed))
	return fn(sc)
}

func (c *scrollCmd) byCommand() *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "by <pixels>",
		Short: "Scroll by a distance in pixels",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			distance, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parsing distance %q: %w", args[0], err)
			}
			dir, err := common.ParseScrollDirection(direction)
			if err != nil {
				return err
			}
			return c.withScroller(func(s *common.Scroller) error {
				return s.ScrollBy(dir, distance, !c.plain)
			})
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "down",
		"scroll direction: down, up, left or right")

	return cmd
}

func (c *scrollCmd) topCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Scroll to the top of the page",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.withScroller(func(s *common.Scroller) error {
				return s.ScrollToTop(!c.plain)
			})
		},
	}
}

func (c *scrollCmd) bottomCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bottom",
		Short: "Scroll to the bottom of the page",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.withScroller(func(s *common.Scroller) error {
				return s.ScrollToBottom(!c.plain)
			})
		},
	}
}

func getCmdScroll(gs *globalState) *cobra.Command {
	c := &scrollCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "scroll",
		Short: "Scroll the page like a human would",
		Long: "Scroll the first page target with eased, jittered wheel gestures,\n" +
			"or instantly when --plain is set.",
		Example: `  mimic scroll by 1200
  mimic scroll by 300 --direction up
  mimic scroll bottom`,
	}

	flags := cmd.PersistentFlags()
	flags.BoolVar(&c.plain, "plain", false, "skip humanization, scroll instantly")
	flags.Int64Var(&c.seed, "seed", 0, "fixed randomness seed, 0 seeds from time")

	cmd.AddCommand(c.byCommand(), c.topCommand(), c.bottomCommand())

	return cmd
}
