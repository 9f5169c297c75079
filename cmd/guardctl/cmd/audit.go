package cmd

import (
	"encoding/json"
	"time"

	"github.com/fernandezvara/guardkit"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print audit events as JSON lines, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		store, closeFn, err := openStore()
		if err != nil {
			return err
		}
		defer closeFn()

		events, err := store.Events(cmd.Context(), filter)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().String("kind", "", "Only events of this kind, e.g. role_granted")
	auditCmd.Flags().String("component", "", "Only events of this component: roles, timelock, controller, aware")
	auditCmd.Flags().String("caller", "", "Only events performed by this address")
	auditCmd.Flags().Duration("since", 0, "Only events newer than this, e.g. 24h")
	auditCmd.Flags().Int("limit", 100, "Maximum number of events")
	auditCmd.Flags().Int("offset", 0, "Number of matching events to skip")
}

func auditFilterFromFlags(cmd *cobra.Command) (guardkit.AuditFilter, error) {
	f := guardkit.NewAuditFilter()
	flags := cmd.Flags()

	if kind, _ := flags.GetString("kind"); kind != "" {
		f = f.WithKind(guardkit.EventKind(kind))
	}
	if component, _ := flags.GetString("component"); component != "" {
		f = f.WithComponent(component)
	}
	if caller, _ := flags.GetString("caller"); caller != "" {
		addr, err := guardkit.HexToAddress(caller)
		if err != nil {
			return f, err
		}
		f = f.WithCaller(addr)
	}
	if since, _ := flags.GetDuration("since"); since > 0 {
		f = f.WithSince(time.Now().Add(-since))
	}
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	return f.WithPagination(limit, offset), nil
}
