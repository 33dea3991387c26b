package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type crawlOptions struct {
	page     int
	chapters int
	output   string
}

// newCrawlCmd creates the 'crawl' subcommand, which crawls one catalog page
// and writes the JSON result.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls one catalog page and prints the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.page, "page", 1, "catalog page number")
	cmd.Flags().IntVar(&opts.chapters, "chapters", 5, "chapters to fetch per item")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write JSON here instead of stdout")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) (err error) {
	if opts.page <= 0 || opts.chapters <= 0 {
		return fmt.Errorf("--page and --chapters must be positive")
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(cmd.Context()); cerr != nil && err == nil {
			err = fmt.Errorf("close app: %w", cerr)
		}
	}()

	result, err := appInstance.CrawlPage(cmd.Context(), opts.page, opts.chapters)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		f, createErr := os.Create(opts.output)
		if createErr != nil {
			return fmt.Errorf("create output: %w", createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close output: %w", cerr)
			}
		}()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	appInstance.Logger().Info("crawl finished",
		zap.Int("page", opts.page),
		zap.Int("items", len(result.Results)),
	)
	return nil
}
