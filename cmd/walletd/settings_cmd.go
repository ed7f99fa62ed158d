package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/walletd/internal/settings"
)

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write plaintext wallet settings",
	}
	cmd.AddCommand(newSettingsGetCommand(), newSettingsSetCommand())
	return cmd
}

func newSettingsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print settings.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveDataDir()
			if err != nil {
				return err
			}
			cfg, err := settings.NewManager(dir).Load()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func newSettingsSetCommand() *cobra.Command {
	var (
		autoLock     int
		otelEnabled  bool
		otelEndpoint string
		otelService  string
		otelAuth     string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update settings fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveDataDir()
			if err != nil {
				return err
			}
			mgr := settings.NewManager(dir)
			cfg, err := mgr.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("auto-lock-minutes") {
				cfg.AutoLockMinutes = autoLock
			}
			if cmd.Flags().Changed("otel-enabled") {
				cfg.Otel.Enabled = otelEnabled
			}
			if cmd.Flags().Changed("otel-endpoint") {
				cfg.Otel.Endpoint = otelEndpoint
			}
			if cmd.Flags().Changed("otel-service-name") {
				cfg.Otel.ServiceName = otelService
			}
			if cmd.Flags().Changed("otel-auth-header") {
				cfg.Otel.AuthHeader = otelAuth
			}
			if err := mgr.Save(cfg); err != nil {
				return err
			}
			fmt.Println("settings updated")
			return nil
		},
	}
	cmd.Flags().IntVar(&autoLock, "auto-lock-minutes", settings.DefaultAutoLockMinutes, "idle minutes before auto-lock (0 disables)")
	cmd.Flags().BoolVar(&otelEnabled, "otel-enabled", false, "enable OTLP trace export")
	cmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint URL")
	cmd.Flags().StringVar(&otelService, "otel-service-name", "", "service name for exported traces")
	cmd.Flags().StringVar(&otelAuth, "otel-auth-header", "", "Authorization header value for the collector")
	return cmd
}
