package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ChannelDigest/internal/app"
	"ChannelDigest/internal/config"
	"ChannelDigest/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:           "channeldigest",
		Short:         "Polls YouTube channels and produces AI-summarized digests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), serveCmd(), channelsCmd(), recentCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.Application) error) error {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	return fn(ctx, application)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute a single polling cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				return a.RunOnce(ctx)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run polling cycles on the configured cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
}

func recentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recently processed videos",
		RunE: func(c *cobra.Command, _ []string) error {
			return withApp(c.Context(), func(ctx context.Context, a *app.Application) error {
				records, err := a.Recent(ctx, limit)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("no processed videos yet")
					return nil
				}
				for _, rec := range records {
					status := "summarized"
					if !rec.Summarized() {
						status = "skipped: " + string(rec.SkipReason)
					}
					fmt.Printf("%s  %-12s  %s\n", rec.ProcessedAt.Format("2006-01-02 15:04"), status, rec.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records to show")
	return cmd
}

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage monitored channels",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <channel-url>",
		Short: "Resolve a channel URL and register it for monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(c.Context(), func(ctx context.Context, a *app.Application) error {
				src, err := a.Channels().Add(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("monitoring %s (%s)\n", src.Name, src.ChannelID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List monitored channels",
		RunE: func(c *cobra.Command, _ []string) error {
			return withApp(c.Context(), func(ctx context.Context, a *app.Application) error {
				sources, err := a.Channels().List(ctx)
				if err != nil {
					return err
				}
				if len(sources) == 0 {
					fmt.Println("no channels monitored")
					return nil
				}
				for _, src := range sources {
					watermark := "never checked"
					if !src.Watermark.IsZero() {
						watermark = src.Watermark.Format("2006-01-02 15:04:05 MST")
					}
					fmt.Printf("%s  %s  (%s)\n", src.ChannelID, src.Name, watermark)
				}
				return nil
			})
		},
	})

	return cmd
}
