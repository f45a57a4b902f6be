package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatevents/internal/app"
	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/keys"
)

// dumpKeys writes one line per durable key of scope, or of the whole store
// when scope is nil. It returns the number of keys written.
func dumpKeys(ctx context.Context, w io.Writer, kv db.KV, scope *models.ChatScope, limit int, values bool) (int, error) {
	var prefixes [][]byte
	if scope != nil {
		prefixes = [][]byte{keys.ChatPrefix(*scope), keys.SnapshotKey(*scope), keys.FloorsKey(*scope)}
	} else {
		prefixes = [][]byte{nil}
	}
	n := 0
	for _, p := range prefixes {
		opts := db.ScanOptions{}
		if p != nil {
			opts = db.PrefixScan(p)
		}
		err := kv.Scan(ctx, opts, func(k, v []byte) (bool, error) {
			if limit > 0 && n >= limit {
				return false, nil
			}
			n++
			if values {
				fmt.Fprintf(w, "%s\t%s\t%s\n", keys.Format(k), humanize.Bytes(uint64(len(v))), v)
			} else {
				fmt.Fprintf(w, "%s\t%s\n", keys.Format(k), humanize.Bytes(uint64(len(v))))
			}
			return true, nil
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func newInspectCmd() *cobra.Command {
	var (
		sf     storageFlags
		chat   string
		limit  int
		values bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Dump the durable keys of a chat, or of the whole store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := sf.load(cmd)
			if err != nil {
				return err
			}
			var scope *models.ChatScope
			if chat != "" {
				s, err := models.ParseChatScope(chat)
				if err != nil {
					return err
				}
				scope = &s
			}
			kv, _, err := app.OpenStorage(cfg.Storage, nil)
			if err != nil {
				return err
			}
			defer kv.Close()
			n, err := dumpKeys(context.Background(), cmd.OutOrStdout(), kv, scope, limit, values)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s keys\n", humanize.Comma(int64(n)))
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&chat, "chat", "", "chat scope, e.g. group:7 or channel:3/9")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many keys (0 means all)")
	cmd.Flags().BoolVar(&values, "values", false, "print raw values")
	return cmd
}
