package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/spigell/jobpipe/internal/secrets"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Keep the generator API key in the system keyring",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <account>",
	Short: "Store a secret under account; reference it with drafts.gemini.keyring-account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := promptui.Prompt{
			Label: "Secret",
			Mask:  '*',
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("secret is empty")
				}
				return nil
			},
		}
		value, err := prompt.Run()
		if err != nil {
			return err
		}
		if err := secrets.Store(args[0], strings.TrimSpace(value)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "secret stored in keyring service %q, account %q\n", secrets.KeyringService, args[0])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <account>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := secrets.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "secret %q deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
}
