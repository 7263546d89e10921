// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command sbd is a thin cobra wrapper over the github.com/luxfi/sbd
// library: create a device file, inspect it, verify it against a known
// root, and read/write byte ranges without writing any Go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sbd",
	Short: "Secure block device tools for creating, inspecting, and verifying SBD files",
	Long: `sbd wraps the github.com/luxfi/sbd library for working with secure block
device files from the shell: create a new device, print its size and
Merkle root, verify it against a previously recorded root, and read or
write byte ranges.`,
}

func main() {
	rootCmd.AddCommand(
		createCmd(),
		infoCmd(),
		verifyCmd(),
		catCmd(),
		putCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
