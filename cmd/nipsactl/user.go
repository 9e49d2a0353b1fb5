package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage flagged users",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flagged users",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

var userFlagCmd = &cobra.Command{
	Use:   "flag [user-id]",
	Short: "Flag a user",
	Long:  `Adds the user to the denylist and publishes a nipsa change event.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUserFlag,
}

var userUnflagCmd = &cobra.Command{
	Use:   "unflag [user-id]",
	Short: "Unflag a user",
	Long:  `Removes the user from the denylist and publishes an unnipsa change event.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUserUnflag,
}

var userCheckCmd = &cobra.Command{
	Use:   "check [user-id]",
	Short: "Report whether a user is flagged",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserCheck,
}

func init() {
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userFlagCmd)
	userCmd.AddCommand(userUnflagCmd)
	userCmd.AddCommand(userCheckCmd)
	rootCmd.AddCommand(userCmd)
}

var errNotConfigured = errors.New("service not configured")

func runUserList(cmd *cobra.Command, _ []string) error {
	if nipsaService == nil {
		return errNotConfigured
	}

	users, err := nipsaService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		cmd.Println("No flagged users")
		return nil
	}
	for _, id := range users {
		cmd.Println(id)
	}
	return nil
}

func runUserFlag(cmd *cobra.Command, args []string) error {
	if nipsaService == nil {
		return errNotConfigured
	}
	if err := nipsaService.Flag(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to flag user: %w", err)
	}
	cmd.Printf("Flagged %s\n", args[0])
	return nil
}

func runUserUnflag(cmd *cobra.Command, args []string) error {
	if nipsaService == nil {
		return errNotConfigured
	}
	if err := nipsaService.Unflag(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to unflag user: %w", err)
	}
	cmd.Printf("Unflagged %s\n", args[0])
	return nil
}

func runUserCheck(cmd *cobra.Command, args []string) error {
	if nipsaService == nil {
		return errNotConfigured
	}
	flagged, err := nipsaService.IsFlagged(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if flagged {
		cmd.Printf("%s is flagged\n", args[0])
	} else {
		cmd.Printf("%s is not flagged\n", args[0])
	}
	return nil
}
