package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jackpotgate/config"
	"jackpotgate/logging"
	"jackpotgate/users"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage dashboard accounts in credentials.json",
	}
	cmd.AddCommand(
		newUserListCmd(),
		newUserAddCmd(),
		newUserRemoveCmd(),
		newUserPasswdCmd(),
		newUserRoleCmd(),
	)
	return cmd
}

func userStore() *users.Store {
	return users.NewStore(config.AppConfig.CredentialsPath(), logging.Storage())
}

// readPassword returns the flag value, or the first line of stdin.
func readPassword(cmd *cobra.Command, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users and their roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := userStore().List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tROLE")
			for _, u := range list {
				fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.Role)
			}
			return tw.Flush()
		},
	}
}

func newUserAddCmd() *cobra.Command {
	var password, role string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user (password from --password or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := userStore().Add(args[0], pw, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s added with role %s\n", args[0], role)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password (read from stdin when empty)")
	cmd.Flags().StringVar(&role, "role", users.RoleUser, "Role: admin, analyst, viewer or user")
	return cmd
}

func newUserRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <username>",
		Aliases: []string{"rm"},
		Short:   "Remove a user",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := userStore().Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s removed\n", args[0])
			return nil
		},
	}
}

func newUserPasswdCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := userStore().ChangePassword(args[0], pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password changed for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "New password (read from stdin when empty)")
	return cmd
}

func newUserRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <username> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := userStore().ChangeRole(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s is now %s\n", args[0], args[1])
			return nil
		},
	}
}
