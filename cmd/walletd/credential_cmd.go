package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/secret"
	"pkt.systems/walletd/internal/vault"
)

func newCredentialCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"credentials", "cred"},
		Short:   "Manage stored API credentials",
	}
	cmd.AddCommand(
		newCredentialAddCommand(baseLogger),
		newCredentialListCommand(baseLogger),
		newCredentialRemoveCommand(baseLogger),
	)
	return cmd
}

func newCredentialAddCommand(baseLogger pslog.Logger) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "add <provider> <name>",
		Short: "Store a credential (the secret is prompted, never a flag)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credKind := vault.CredentialKind(kind)
			switch credKind {
			case vault.KindAPIKey, vault.KindBearer, vault.KindBasic:
			default:
				return fmt.Errorf("unknown kind %q (api_key, bearer, basic)", kind)
			}

			v, _, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if err := unlockInteractive(v); err != nil {
				return err
			}
			defer v.Lock()

			prompt := "Secret"
			if credKind == vault.KindBasic {
				prompt = "user:password"
			}
			value, err := promptPassphrase(prompt)
			if err != nil {
				return err
			}
			cred, err := v.AddCredential(args[0], args[1], credKind, secret.New(value))
			if err != nil {
				return err
			}
			fmt.Printf("stored %s (%s, %s)\n", cred.ID, cred.Prefix, cred.Kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(vault.KindAPIKey), "credential kind: api_key, bearer, basic")
	return cmd
}

func newCredentialListCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credential metadata (never secrets)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if err := unlockInteractive(v); err != nil {
				return err
			}
			defer v.Lock()

			list, err := v.ListCredentials()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no credentials")
				return nil
			}
			for _, cred := range list {
				lastUsed := "never"
				if !cred.LastUsedAt.IsZero() {
					lastUsed = cred.LastUsedAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-12s %-20s %-8s %-12s last used %s\n",
					cred.ID, cred.Provider, cred.Name, cred.Kind, cred.Prefix, lastUsed)
			}
			return nil
		},
	}
}

func newCredentialRemoveCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <credential-id>",
		Short: "Delete a credential that no integration binds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if err := unlockInteractive(v); err != nil {
				return err
			}
			defer v.Lock()
			return v.DeleteCredential(args[0])
		},
	}
}
