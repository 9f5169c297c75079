package cmd

import (
	"fmt"

	"github.com/fernandezvara/guardkit"
	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Compute role ids and operation selectors",
}

var hashRoleCmd = &cobra.Command{
	Use:     "role NAME",
	Short:   "Print the role id of NAME, e.g. EMERGENCY_ROLE",
	Example: "  guardctl hash role PAUSER_ROLE",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), guardkit.RoleFromName(args[0]).Hex())
	},
}

var hashSelectorCmd = &cobra.Command{
	Use:     "selector SIGNATURE",
	Short:   "Print the selector of an operation signature",
	Example: "  guardctl hash selector 'setEmergencyLevel(uint8)'",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), guardkit.SelectorFromSignature(args[0]).Hex())
	},
}

func init() {
	hashCmd.AddCommand(hashRoleCmd, hashSelectorCmd)
}
