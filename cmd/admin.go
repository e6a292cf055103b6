package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orrn/makerspool/internal/db"
)

func AdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	addCmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an administrator; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := openDB(); err != nil {
				return err
			}

			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && password == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(password, "\r\n")

			if err := db.Admins.CreateAdmin(context.Background(), args[0], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created\n", args[0])
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List administrators",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := openDB(); err != nil {
				return err
			}

			admins, err := db.Admins.ListAdmins(context.Background())
			if err != nil {
				return err
			}
			if len(admins) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No administrators. Create one with: makerspool admin add <username>")
				return nil
			}
			for _, a := range admins {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", a.Username, a.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	adminCmd.AddCommand(addCmd, listCmd)
	return adminCmd
}
