package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdantsentinel/backend/internal/service/history"
	redisstore "github.com/verdantsentinel/backend/internal/storage/redis"
)

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the analysis history stored in Redis",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored analyses, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored analysis",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

func init() {
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "print records as JSON")
	historyCmd.AddCommand(historyListCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

// withHistory opens the Redis-backed store for the duration of fn.
func withHistory(cmd *cobra.Command, fn func(*history.Store) error) error {
	if cfg.Storage.RedisURL == "" {
		return errors.New("REDIS_URL is not set; in-memory history only lives inside the server")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	client, err := redisstore.Open(ctx, cfg.Storage.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	cmd.SetContext(ctx)
	return fn(history.NewStore(redisstore.NewSlot(client, cfg.Storage.HistoryKey), cfg.Storage.WriteAttempts))
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	return withHistory(cmd, func(store *history.Store) error {
		records, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tDATE\tSUMMARY")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.Type, rec.Date.Local().Format(time.DateTime), truncate(rec.Output.Summary(), 60))
		}
		return tw.Flush()
	})
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	return withHistory(cmd, func(store *history.Store) error {
		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
		return nil
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
