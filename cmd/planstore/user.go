package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"planstore/internal/model"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		if !model.ValidRole(role) {
			return fmt.Errorf("invalid --role %q", role)
		}
		password, err := newPassword()
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UserAdd")
		if err != nil {
			return err
		}
		defer closeApp(a)

		u, err := a.AddUser(cmd.Context(), args[0], role, password)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		fmt.Printf("Created user %s (%s)\n", u.Username, u.Role)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd USERNAME",
	Short: "Set a new password and sign out every session of the user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := newPassword()
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UserPasswd")
		if err != nil {
			return err
		}
		defer closeApp(a)

		n, err := a.ResetPassword(cmd.Context(), args[0], password)
		if err != nil {
			return fmt.Errorf("resetting password: %w", err)
		}
		fmt.Printf("Password updated; %d session(s) revoked\n", n)
		return nil
	},
}

var userLoginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Verify a password and print a session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UserLogin")
		if err != nil {
			return err
		}
		defer closeApp(a)

		token, u, err := a.Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as %s (%s)\n%s\n", u.Username, u.Role, token)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "UserList")
		if err != nil {
			return err
		}
		defer closeApp(a)

		users, err := a.Users().List(cmd.Context())
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%-20s  %s\n", u.Username, u.Role)
		}
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage login sessions",
}

var sessionRevokeUserCmd = &cobra.Command{
	Use:   "revoke-user USERNAME",
	Short: "Revoke every session of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SessionRevokeUser")
		if err != nil {
			return err
		}
		defer closeApp(a)

		n, err := a.RevokeSessionsForUser(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
		fmt.Printf("Revoked %d session(s) for %s\n", n, args[0])
		return nil
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userLoginCmd)
	userCmd.AddCommand(userListCmd)
	userAddCmd.Flags().String("role", model.RoleEditor, "Role: admin, editor or viewer")

	sessionCmd.AddCommand(sessionRevokeUserCmd)
}
