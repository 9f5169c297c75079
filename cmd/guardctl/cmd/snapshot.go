package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fernandezvara/guardkit"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:       "snapshot roles|timelock",
	Short:     "Decode the latest stored snapshot of a component as JSON",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(guardkit.SnapshotRoles), string(guardkit.SnapshotTimelock)},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openStore()
		if err != nil {
			return err
		}
		defer closeFn()

		data, err := store.LatestSnapshot(cmd.Context(), guardkit.SnapshotKind(args[0]))
		if err != nil {
			return err
		}
		kind, body, err := guardkit.DecodeSnapshot(data)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(map[string]interface{}{
			"kind":     kind,
			"snapshot": body,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
