package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "certreq",
	Short: "certreq issues client certificates via email verification",
	Long: `certreq is a certificate authority front end. The server accepts
certificate signing requests, verifies the requester's email address with a
one-time code, and returns a signed client certificate. The request command
is the matching interactive client.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
