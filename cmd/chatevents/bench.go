package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatevents/internal/app"
	"chatevents/pkg/config"
	"chatevents/pkg/migration"
	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/events"
)

type benchResult struct {
	Messages int
	Push     time.Duration
	Migrate  time.Duration
	Read     time.Duration
	Search   time.Duration
	Reopen   time.Duration
	Matches  int
	Events   int
}

// runBench pushes n messages into one chat, migrates them, pages through
// the log, searches it and reopens it from the durable tier.
func runBench(ctx context.Context, kv db.KV, n int) (benchResult, error) {
	res := benchResult{Messages: n}
	scope := models.GroupChat(1)
	c, err := events.New(scope, kv, events.Options{})
	if err != nil {
		return res, err
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		_, err := c.PushMessage(events.PushMessageArgs{
			Sender:    models.UserID(fmt.Sprintf("user%d", i%7)),
			MessageID: models.MessageIDFromUint64(uint64(i + 1)),
			Content:   models.TextContent{Text: fmt.Sprintf("message number %d of the benchmark", i)},
			Now:       models.TimestampMillis(1_700_000_000_000 + i),
		})
		if err != nil {
			return res, fmt.Errorf("push %d: %w", i, err)
		}
	}
	res.Push = time.Since(start)

	start = time.Now()
	if _, err := migration.Drain(ctx, c, 0); err != nil {
		return res, err
	}
	res.Migrate = time.Since(start)

	start = time.Now()
	var next models.EventIndex
	for {
		page, err := c.FromIndex(ctx, events.EventsArgs{Start: next, Ascending: true, MaxEvents: 100})
		if err != nil {
			return res, err
		}
		res.Events += len(page)
		if len(page) < 100 {
			break
		}
		next = page[len(page)-1].Index + 1
	}
	res.Read = time.Since(start)

	start = time.Now()
	matches, err := c.SearchMessages(ctx, events.SearchArgs{Query: "number 99", MaxResults: n})
	if err != nil {
		return res, err
	}
	res.Matches = len(matches)
	res.Search = time.Since(start)

	if err := c.Checkpoint(ctx); err != nil {
		return res, err
	}
	start = time.Now()
	if _, err := events.Open(ctx, scope, kv, events.Options{}); err != nil {
		return res, err
	}
	res.Reopen = time.Since(start)
	return res, nil
}

func (r benchResult) print(w io.Writer) {
	per := func(d time.Duration) string {
		if r.Messages == 0 {
			return "-"
		}
		return (d / time.Duration(r.Messages)).String()
	}
	fmt.Fprintf(w, "messages:  %s\n", humanize.Comma(int64(r.Messages)))
	fmt.Fprintf(w, "push:      %s (%s/msg)\n", r.Push, per(r.Push))
	fmt.Fprintf(w, "migrate:   %s (%s/msg)\n", r.Migrate, per(r.Migrate))
	fmt.Fprintf(w, "read:      %s for %s events\n", r.Read, humanize.Comma(int64(r.Events)))
	fmt.Fprintf(w, "search:    %s, %s matches\n", r.Search, humanize.Comma(int64(r.Matches)))
	fmt.Fprintf(w, "reopen:    %s\n", r.Reopen)
}

func newBenchCmd() *cobra.Command {
	var (
		sf       storageFlags
		messages int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Push, migrate, read and search a synthetic chat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := sf.toConfig(cmd)
			if !flags.Set["engine"] {
				flags.Engine, flags.Set["engine"] = "memory", true
			}
			cfg, _, err := sf.loadFlags(flags)
			if err != nil {
				return err
			}
			return bench(cmd.Context(), cmd.OutOrStdout(), cfg, messages)
		},
	}
	sf.register(cmd)
	cmd.Flags().IntVar(&messages, "messages", 1000, "number of messages to push")
	return cmd
}

func bench(ctx context.Context, w io.Writer, cfg *config.Config, messages int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	kv, _, err := app.OpenStorage(cfg.Storage, nil)
	if err != nil {
		return err
	}
	defer kv.Close()
	res, err := runBench(ctx, kv, messages)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "engine:    %s\n", cfg.Storage.Engine)
	res.print(w)
	return nil
}
