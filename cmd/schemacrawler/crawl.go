package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

type crawlFlags struct {
	maxPages       int
	allowBackward  bool
	rateLimitDelay time.Duration
}

// newCrawlCmd crawls one site in-process and prints the finished job.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl one site and print the job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			scope := appInstance.DefaultScope()
			if cmd.Flags().Changed("max-pages") {
				scope.MaxPages = flags.maxPages
			}
			if cmd.Flags().Changed("rate-limit-delay") {
				scope.RateLimitDelay = flags.rateLimitDelay
			}
			scope.AllowBackward = flags.allowBackward

			job, err := appInstance.Crawl(cmd.Context(), args[0], scope)
			if err != nil {
				return fmt.Errorf("crawl %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("encode job: %w", err)
			}
			if job.Status == crawler.JobStatusFailed {
				return fmt.Errorf("crawl failed: %s", job.ErrorText)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "maximum pages to visit (default from config)")
	cmd.Flags().BoolVar(&flags.allowBackward, "allow-backward", false, "follow links outside the root path")
	cmd.Flags().DurationVar(&flags.rateLimitDelay, "rate-limit-delay", 0, "delay between requests (default from config)")
	return cmd
}
