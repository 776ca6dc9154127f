package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"socialbot/internal/catalog"
)

func importCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Store accounts and feeds from a catalog file",
		Long: "Reads bot accounts and feed bindings from a YAML catalog and stores them in the database.\n" +
			"Account secrets are encrypted with secret_key. Existing feeds and accounts are updated in place.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			_, logger, store, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			defer func() { _ = logger.Sync() }()

			infos, err := store.ListAccounts(ctx)
			if err != nil {
				return err
			}
			known := make(map[string]bool, len(infos))
			for _, a := range infos {
				known[string(a.Platform)+"/"+a.Name] = true
			}

			res, err := catalog.Import(ctx, store, c, known, logger.Logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d accounts and %d feeds\n", res.Accounts, res.Feeds)
			return nil
		},
	}
}
