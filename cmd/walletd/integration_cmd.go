package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/openapi"
	"pkt.systems/walletd/internal/vault"
)

func newIntegrationCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "integration",
		Aliases: []string{"integrations"},
		Short:   "Manage OpenAPI integrations",
	}
	cmd.AddCommand(
		newIntegrationAddCommand(baseLogger),
		newIntegrationListCommand(baseLogger),
		newIntegrationRemoveCommand(baseLogger),
		newIntegrationBindCommand(baseLogger),
		newIntegrationOperationsCommand(baseLogger),
		newIntegrationEnableCommand(baseLogger, true),
		newIntegrationEnableCommand(baseLogger, false),
	)
	return cmd
}

func newIntegrationAddCommand(baseLogger pslog.Logger) *cobra.Command {
	var name, serverURL string
	cmd := &cobra.Command{
		Use:   "add <key> <spec-url-or-file>",
		Short: "Compile an OpenAPI 3.x document into callable tools",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, source := args[0], args[1]
			v, _, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if err := unlockInteractive(v); err != nil {
				return err
			}
			defer v.Lock()

			compiler := &openapi.Compiler{Logger: baseLogger}
			compiled, err := compiler.Compile(cmd.Context(), openapi.CompileRequest{
				IntegrationKey: key,
				Source:         source,
				ServerURL:      serverURL,
			})
			if err != nil {
				return err
			}
			integ, count, err := v.AddIntegration(vault.AddIntegrationRequest{
				Key:      key,
				Name:     name,
				SpecURL:  sourceURL(source),
				Compiled: compiled,
			})
			if err != nil {
				return err
			}
			fmt.Printf("added %s: %d operations, status %s, auth %s\n",
				integ.Key, count, integ.Status, integ.Auth.Scheme)
			if integ.LastError != "" {
				fmt.Printf("  error: %s\n", integ.LastError)
			}
			for _, warning := range compiled.Warnings {
				fmt.Printf("  warning: %s\n", warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the spec title)")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "override the spec's server base URL")
	return cmd
}

func sourceURL(source string) string {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source
	}
	return ""
}

func newIntegrationListCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List integrations",
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

			list, err := v.ListIntegrations()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no integrations")
				return nil
			}
			for _, integ := range list {
				bound := "-"
				if integ.CredentialID != "" {
					bound = integ.CredentialID
				}
				fmt.Printf("%-20s %-8s %3d ops  auth=%-13s cred=%s\n",
					integ.Key, integ.Status, len(integ.Operations), integ.Auth.Scheme, bound)
				if integ.LastError != "" {
					fmt.Printf("%-20s   error: %s\n", "", integ.LastError)
				}
			}
			return nil
		},
	}
}

func newIntegrationRemoveCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove an integration",
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
			return v.RemoveIntegration(args[0])
		},
	}
}

func newIntegrationBindCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "bind <key> <credential-id>",
		Short: "Bind a stored credential to an integration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if err := unlockInteractive(v); err != nil {
				return err
			}
			defer v.Lock()
			if err := v.BindCredential(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("bound %s to %s\n", args[1], args[0])
			return nil
		},
	}
}

func newIntegrationOperationsCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "operations <key>",
		Short: "List an integration's compiled tool names",
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

			integ, err := v.GetIntegration(args[0])
			if err != nil {
				return err
			}
			for _, op := range integ.Operations {
				fmt.Printf("%-40s %s %s\n", op.ToolName, op.Method, op.PathTemplate)
			}
			return nil
		},
	}
}

func newIntegrationEnableCommand(baseLogger pslog.Logger, enable bool) *cobra.Command {
	use, short := "disable <key>", "Disable an integration (its tools disappear from listings)"
	if enable {
		use, short = "enable <key>", "Re-enable a disabled integration"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
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

			status := vault.StatusDisabled
			if enable {
				integ, err := v.GetIntegration(args[0])
				if err != nil {
					return err
				}
				switch {
				case integ.Auth.Scheme == openapi.AuthNone, integ.CredentialID != "":
					status = vault.StatusActive
				default:
					status = vault.StatusPending
				}
			}
			return v.SetIntegrationStatus(args[0], status)
		},
	}
}
