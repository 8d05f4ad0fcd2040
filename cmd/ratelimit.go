package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jackpotgate/activity"
	"jackpotgate/config"
	"jackpotgate/ratelimit"
)

func newRateLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ratelimit",
		Aliases: []string{"rl"},
		Short:   "Inspect or clear login rate limits",
	}
	cmd.AddCommand(newRateLimitListCmd(), newRateLimitResetCmd(), newRateLimitClearCmd())
	return cmd
}

func withLimiter(fn func(*ratelimit.Limiter) error) error {
	a, err := openApp(config.AppConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.limiter)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(activity.TimestampLayout)
}

func newRateLimitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked usernames and IPs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(func(l *ratelimit.Limiter) error {
				entries, err := l.Entries(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tIDENTITY\tATTEMPTS\tLOCKED\tWINDOW END\tLOCKED UNTIL")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%s\n",
						e.Type, e.Identity, e.Attempts, e.Locked, formatTime(e.WindowEnd), formatTime(e.LockedUntil))
				}
				return tw.Flush()
			})
		},
	}
}

func newRateLimitResetCmd() *cobra.Command {
	var isIP bool
	cmd := &cobra.Command{
		Use:   "reset <username|ip>...",
		Short: "Forget the counters of the given usernames (or IPs with --ip)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]string, len(args))
			for i, id := range args {
				keys[i] = ratelimit.UserKey(id)
				if isIP {
					keys[i] = ratelimit.IPKey(id)
				}
			}
			return withLimiter(func(l *ratelimit.Limiter) error {
				if err := l.Reset(cmd.Context(), keys...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d rate limit entries\n", len(keys))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&isIP, "ip", false, "Arguments are client IP addresses")
	return cmd
}

func newRateLimitClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every rate limit entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(func(l *ratelimit.Limiter) error {
				if err := l.ClearAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All rate limits cleared")
				return nil
			})
		},
	}
}
