package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"pkt.systems/pslog"

	"pkt.systems/walletd"
	"pkt.systems/walletd/internal/secret"
	"pkt.systems/walletd/internal/vault"
)

const dataDirKey = "data_dir"

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "walletd",
		Short:         "Local credential wallet exposing OpenAPI integrations over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("data-dir", "d", "", "wallet data directory (default ~/.walletd)")
	mustBindFlag(dataDirKey, "WALLETD_DATA_DIR", root.PersistentFlags().Lookup("data-dir"))

	root.AddCommand(
		newServeCommand(baseLogger),
		newInitCommand(baseLogger),
		newUnlockCommand(baseLogger),
		newLockCommand(baseLogger),
		newStatusCommand(baseLogger),
		newResetCommand(baseLogger),
		newChangePassphraseCommand(baseLogger),
		newSessionCommand(baseLogger),
		newIntegrationCommand(baseLogger),
		newCredentialCommand(baseLogger),
		newSettingsCommand(),
		newVersionCommand(),
	)
	return root
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for %s not registered", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func resolveDataDir() (string, error) {
	dir, err := walletd.ResolveDataDir(viper.GetString(dataDirKey))
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	return dir, nil
}

func openVault(logger pslog.Logger, readOnly bool) (*vault.Vault, string, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, "", err
	}
	v, err := vault.Open(vault.Options{Dir: dir, Logger: logger, ReadOnly: readOnly})
	if err != nil {
		return nil, "", err
	}
	return v, dir, nil
}

// promptPassphrase reads a passphrase without echo when attached to a
// terminal, falling back to line input for piped stdin. The passphrase is
// never accepted via flag or environment.
func promptPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", prompt)
		passphrase, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return passphrase, nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func promptNewPassphrase() ([]byte, error) {
	first, err := promptPassphrase("New passphrase")
	if err != nil {
		return nil, err
	}
	second, err := promptPassphrase("Repeat passphrase")
	if err != nil {
		secret.Zero(first)
		return nil, err
	}
	if !secret.ConstantTimeEqual(first, second) {
		secret.Zero(first)
		secret.Zero(second)
		return nil, errors.New("passphrases do not match")
	}
	secret.Zero(second)
	if len(first) == 0 {
		return nil, errors.New("empty passphrase")
	}
	return first, nil
}

// unlockInteractive prompts for the passphrase and unlocks v in place.
func unlockInteractive(v *vault.Vault) error {
	if v.State() == vault.StateNotInitialised {
		return errors.New("wallet not initialised; run 'walletd init' first")
	}
	passphrase, err := promptPassphrase("Passphrase")
	if err != nil {
		return err
	}
	defer secret.Zero(passphrase)
	if err := v.Unlock(passphrase); err != nil {
		return err
	}
	return nil
}
