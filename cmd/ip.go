package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"jackpotgate/config"
	"jackpotgate/ippolicy"
	"jackpotgate/logging"
	"jackpotgate/models"
)

func newIPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ip",
		Short: "Show or change the IP access policy in ip_config.json",
	}
	cmd.AddCommand(newIPShowCmd(), newIPSetCmd())
	return cmd
}

func policyStore() *ippolicy.Store {
	return ippolicy.NewStore(config.AppConfig.IPConfigPath(), logging.Storage())
}

func printPolicy(cmd *cobra.Command, cfg models.IPConfig) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func newIPShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current IP policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPolicy(cmd, policyStore().Load())
		},
	}
}

func newIPSetCmd() *cobra.Command {
	var (
		mode  string
		allow []string
		deny  []string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace parts of the IP policy",
		Long: `Replace the mode, allow list or deny list. Flags that are not given keep
their current value; pass --allow "" to empty a list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := policyStore()
			cfg := store.Load()
			if cmd.Flags().Changed("mode") {
				cfg.Mode = models.IPMode(mode)
			}
			if cmd.Flags().Changed("allow") {
				cfg.AllowList = allow
			}
			if cmd.Flags().Changed("deny") {
				cfg.DenyList = deny
			}
			if err := store.Save(cfg); err != nil {
				return fmt.Errorf("invalid IP policy: %w", err)
			}
			return printPolicy(cmd, store.Policy())
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Policy mode: allow_all, deny_all or use_lists")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "Allow list entries (IP or CIDR), comma separated")
	cmd.Flags().StringSliceVar(&deny, "deny", nil, "Deny list entries (IP or CIDR), comma separated")
	return cmd
}
