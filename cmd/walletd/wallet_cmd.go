package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/secret"
	"pkt.systems/walletd/internal/session"
	"pkt.systems/walletd/internal/settings"
	"pkt.systems/walletd/internal/vault"
)

func newInitCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new wallet protected by a passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, dir, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if v.State() != vault.StateNotInitialised {
				return fmt.Errorf("wallet already exists in %s", dir)
			}
			passphrase, err := promptNewPassphrase()
			if err != nil {
				return err
			}
			defer secret.Zero(passphrase)
			if err := v.Initialise(passphrase); err != nil {
				return err
			}
			if err := settings.NewManager(dir).Save(settings.Default()); err != nil {
				return err
			}
			fmt.Printf("wallet initialised in %s\n", dir)
			return nil
		},
	}
}

func newUnlockCommand(baseLogger pslog.Logger) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the wallet and mint a session token for the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, dir, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if err := unlockInteractive(v); err != nil {
				return err
			}
			defer v.Lock()

			sessions := session.NewManager(dir, baseLogger)
			var token string
			err = v.BorrowMasterKey(func(key []byte) error {
				var err error
				token, err = sessions.Create(key, ttl)
				return err
			})
			if err != nil {
				return err
			}
			// The token prints exactly once; the session file keeps a hash.
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", session.DefaultTTL, "session lifetime")
	return cmd
}

func newLockCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock the wallet: revoke the session so running servers lose access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveDataDir()
			if err != nil {
				return err
			}
			if err := session.NewManager(dir, baseLogger).Clear(); err != nil {
				return err
			}
			fmt.Println("locked")
			return nil
		},
	}
}

func newStatusCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show wallet state, session validity, and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, dir, err := openVault(baseLogger, true)
			if err != nil {
				return err
			}
			fmt.Printf("data dir:   %s\n", dir)
			fmt.Printf("state:      %s\n", v.State())

			created, expires, exists, err := session.NewManager(dir, baseLogger).Status()
			if err != nil {
				fmt.Printf("session:    unreadable (%v)\n", err)
			} else if !exists {
				fmt.Println("session:    none")
			} else if time.Now().After(expires) {
				fmt.Printf("session:    expired at %s\n", expires.Format(time.RFC3339))
			} else {
				fmt.Printf("session:    valid (created %s, expires %s)\n",
					created.Format(time.RFC3339), expires.Format(time.RFC3339))
			}

			cfg, err := settings.NewManager(dir).Load()
			if err != nil {
				return err
			}
			fmt.Printf("auto-lock:  %d minutes\n", cfg.AutoLockMinutes)
			return nil
		},
	}
}

func newResetCommand(baseLogger pslog.Logger) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the wallet and every stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to delete the wallet without --force")
			}
			v, dir, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			if err := v.Reset(); err != nil {
				return err
			}
			if err := session.NewManager(dir, baseLogger).Clear(); err != nil {
				return err
			}
			if err := settings.NewManager(dir).Reset(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "wallet reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm irreversible deletion")
	return cmd
}

func newChangePassphraseCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "change-passphrase",
		Short: "Re-key the wallet under a new passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, dir, err := openVault(baseLogger, false)
			if err != nil {
				return err
			}
			old, err := promptPassphrase("Current passphrase")
			if err != nil {
				return err
			}
			defer secret.Zero(old)
			if err := v.Unlock(old); err != nil {
				return err
			}
			defer v.Lock()

			fresh, err := promptNewPassphrase()
			if err != nil {
				return err
			}
			defer secret.Zero(fresh)
			if err := v.ChangePassphrase(old, fresh); err != nil {
				return err
			}
			// Any session still seals the old master key, which no longer
			// opens the wallet. Revoke it outright.
			if err := session.NewManager(dir, baseLogger).Clear(); err != nil {
				return err
			}
			fmt.Println("passphrase changed; existing sessions revoked")
			return nil
		},
	}
}

func newSessionCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the MCP server session",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show whether a session exists and when it expires",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dir, err := resolveDataDir()
				if err != nil {
					return err
				}
				created, expires, exists, err := session.NewManager(dir, baseLogger).Status()
				if err != nil {
					return err
				}
				if !exists {
					fmt.Println("no session")
					return nil
				}
				fmt.Printf("created: %s\nexpires: %s\n",
					created.Format(time.RFC3339), expires.Format(time.RFC3339))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the session record",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dir, err := resolveDataDir()
				if err != nil {
					return err
				}
				return session.NewManager(dir, baseLogger).Clear()
			},
		},
	)
	return cmd
}
