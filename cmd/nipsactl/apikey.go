package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage Administrative API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key",
	Long:  `Creates a key and prints its plaintext. The plaintext is not stored and cannot be shown again.`,
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke [key-id]",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

var (
	apikeyName   string
	apikeyScopes []string
)

func init() {
	apikeyCreateCmd.Flags().StringVarP(&apikeyName, "name", "n", "", "Human-readable key name")
	apikeyCreateCmd.Flags().StringSliceVarP(&apikeyScopes, "scope", "s", nil, "Scopes to grant (read, admin)")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyCreate(cmd *cobra.Command, _ []string) error {
	if apiKeyService == nil {
		return errNotConfigured
	}

	created, err := apiKeyService.Create(cmd.Context(), apikeyName, apikeyScopes)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	cmd.Printf("ID:     %s\n", created.Key.ID)
	cmd.Printf("Scopes: %s\n", strings.Join(created.Key.Scopes, ","))
	cmd.Printf("Key:    %s\n", created.Plaintext)
	return nil
}

func runAPIKeyList(cmd *cobra.Command, _ []string) error {
	if apiKeyService == nil {
		return errNotConfigured
	}

	keys, err := apiKeyService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}
	if len(keys) == 0 {
		cmd.Println("No API keys")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tSCOPES\tSTATUS\tCREATED")
	for _, k := range keys {
		status := "active"
		if k.IsRevoked() {
			status = "revoked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), status,
			k.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	if apiKeyService == nil {
		return errNotConfigured
	}
	if err := apiKeyService.Revoke(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	cmd.Printf("Revoked %s\n", args[0])
	return nil
}
