// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main is the entry point for the nlcube CLI.
package main

import (
	"nlcube/cli/cmd"
)

func main() {
	cmd.Execute()
}
