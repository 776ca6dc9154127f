package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"socialbot/internal/model"
)

func feedsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "List configured feeds, their targets and the stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, logger, store, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			defer func() { _ = logger.Sync() }()

			feeds, err := store.ListFeeds(ctx)
			if err != nil {
				return err
			}
			accounts, err := store.ListAccounts(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tURL\tAI\tTARGETS")
			for _, f := range feeds {
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", f.ID, f.URL, f.AI, formatTargets(f.Targets))
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "PLATFORM\tACCOUNT\tMUTE")
			for _, a := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%t\n", a.Platform, a.Name, a.Mute)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(feedsRemoveCmd(flags))
	return cmd
}

func feedsRemoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a feed and its target bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid feed id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			_, logger, store, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			defer func() { _ = logger.Sync() }()

			if err := store.DeleteFeed(ctx, id); err != nil {
				return fmt.Errorf("delete feed %d: %w", id, err)
			}
			logger.Info("feed deleted", "id", id)
			return nil
		},
	}
}

func formatTargets(targets map[model.Platform][]string) string {
	var parts []string
	for _, p := range model.Platforms {
		bots := append([]string(nil), targets[p]...)
		if len(bots) == 0 {
			continue
		}
		sort.Strings(bots)
		parts = append(parts, string(p)+"="+strings.Join(bots, ","))
	}
	return strings.Join(parts, " ")
}
