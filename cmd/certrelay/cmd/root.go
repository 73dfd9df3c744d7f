package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "certrelay",
	Short: "certrelay is a certificate-issuance coordinator",
	Long: `A coordinator that tracks certificate signing requests submitted by
requester peers and lets an operator attach matching signed certificates.
Complete documentation is available at https://github.com/jmcleod/certrelay`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
