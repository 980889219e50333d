package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heremaps/xyz-hub-sub003/internal/auth"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "keygen <api-key>",
		Short: "Hash an API key for the configuration",
		Long: `The keygen command prints the SHA-256 hash of an API key in the form the
tenants section of the configuration expects.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			keyHash := auth.HashAPIKey(args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SHA-256 Hash: %s\n", keyHash)
			fmt.Fprintln(out, "\nAdd this to your config.yaml:")
			fmt.Fprintf(out, "  api_keys:\n")
			fmt.Fprintf(out, "    - key_hash: %q\n", keyHash)
			fmt.Fprintf(out, "      description: \"Generated key\"\n")
		},
	})
}
