package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mimicbrowser/mimic/storage"
)

type screenshotCmd struct {
	gs *globalState

	format    string
	quality   int64
	uploadURL string
}

func (c *screenshotCmd) run(_ *cobra.Command, args []string) error {
	gs := c.gs
	path := args[0]

	switch c.format {
	case "png", "jpeg", "webp", "pdf":
	default:
		return fmt.Errorf("unsupported format %q, want png, jpeg, webp or pdf", c.format)
	}

	s, b, err := attachToPage(gs)
	if err != nil {
		return err
	}
	defer b.Close()

	var data []byte
	if c.format == "pdf" {
		data, err = s.PrintToPDF(gs.ctx)
	} else {
		data, err = s.CaptureScreenshot(gs.ctx, c.format, c.quality)
	}
	if err != nil {
		return err
	}

	var persister storage.FilePersister = storage.NewLocalFilePersister(gs.fs)
	if c.uploadURL != "" {
		persister = storage.NewRemoteFilePersister(c.uploadURL, nil, "")
	}
	if err := persister.Persist(gs.ctx, path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("persisting %s: %w", path, err)
	}

	gs.logger.Infof("wrote %d bytes to %s", len(data), path)
	return nil
}

func getCmdScreenshot(gs *globalState) *cobra.Command {
	c := &screenshotCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "screenshot <file>",
		Short: "Capture the page as an image or PDF",
		Long: "Capture the first page target and write the bytes to <file>,\n" +
			"creating parent directories as needed. With --upload-url the\n" +
			"capture is uploaded to an artifact store instead.",
		Example: `  mimic screenshot page.png
  mimic screenshot --format jpeg --quality 60 page.jpg
  mimic screenshot --format pdf page.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.StringVar(&c.format, "format", "png", "capture format: png, jpeg, webp or pdf")
	flags.Int64Var(&c.quality, "quality", 80, "jpeg compression quality (0-100)")
	flags.StringVar(&c.uploadURL, "upload-url", "",
		"artifact store base `url`; uploads the capture instead of writing locally")

	return cmd
}
