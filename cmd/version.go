package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is the current release version.
const version = "0.1.0"

type versionCmd struct {
	gs     *globalState
	isJSON bool
}

func (c *versionCmd) run(_ *cobra.Command, _ []string) error {
	if !c.isJSON {
		printToStdout(c.gs, fmt.Sprintf("mimic v%s (%s, %s/%s)\n",
			version, runtime.Version(), runtime.GOOS, runtime.GOARCH))
		return nil
	}

	details, err := json.Marshal(map[string]string{
		"version":    version,
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	})
	if err != nil {
		return fmt.Errorf("producing JSON version details: %w", err)
	}
	printToStdout(c.gs, string(details)+"\n")
	return nil
}

func getCmdVersion(gs *globalState) *cobra.Command {
	versionCmd := &versionCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Long:  `Show the application version and exit.`,
		RunE:  versionCmd.run,
	}
	cmd.Flags().BoolVar(&versionCmd.isJSON, "json", false,
		"if set, output version information will be in JSON format")

	return cmd
}
