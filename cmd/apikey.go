// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nlcube/cli/internal/keychain"
	"nlcube/cli/internal/terminal"
)

// apikeyCmd manages the translator API key in the OS keychain.
var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage the translator API key",
	Long: `Hosted translators (openai, gemini) need an API key. It is looked up in
NLCUBE_TRANSLATOR_API_KEY, then translator.api_key in the config file, then
the OS keychain. These commands manage the keychain entry.`,
}

var apikeySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the API key in the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := "Enter translator API key: "
		key, err := terminal.ReadSecret(os.Stdout, prompt)
		if err != nil {
			return err
		}
		if key == "" {
			return errors.New("API key is required")
		}

		km, err := keychain.GetManager()
		if err != nil {
			fmt.Println("❌ Secure storage is not available on this system.")
			fmt.Println("   Set NLCUBE_TRANSLATOR_API_KEY instead.")
			return err
		}
		if err := km.SaveAPIKey(key); err != nil {
			fmt.Println("❌ Failed to save the API key securely.")
			return err
		}
		fmt.Println("✅ API key saved to the OS keychain")
		return nil
	},
}

var apikeyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the API key from the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		km, err := keychain.GetManager()
		if err != nil {
			return err
		}
		if err := km.ClearAPIKey(); err != nil {
			return err
		}
		fmt.Println("✅ API key removed")
		return nil
	},
}

var apikeyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the API key comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(os.Getenv("NLCUBE_TRANSLATOR_API_KEY")) != "" {
			fmt.Println("Using API key from NLCUBE_TRANSLATOR_API_KEY")
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Translator.APIKey) != "" {
			fmt.Println("Using API key from the config file")
			return nil
		}
		km, err := keychain.GetManager()
		if err != nil {
			fmt.Println("⚠️  No API key configured and no OS keychain available")
			return nil
		}
		key, err := km.LoadAPIKey()
		switch {
		case errors.Is(err, keychain.ErrNotFound):
			fmt.Println("⚠️  No API key configured")
			fmt.Println("   Run: nlcube apikey set")
		case err != nil:
			return err
		default:
			fmt.Printf("Using API key from the OS keychain (%s)\n", redact(key))
		}
		return nil
	},
}

// redact keeps the last four characters of a secret.
func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeySetCmd, apikeyClearCmd, apikeyStatusCmd)
}
