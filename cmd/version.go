// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"nlcube/cli/internal/translate"
)

var (
	// Version holds the CLI version information.
	// This value is typically set at build time using -ldflags.
	Version = "0.0.0-dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and available translator backends",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nlcube %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Printf("translators: %s\n", strings.Join(translate.Backends(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
