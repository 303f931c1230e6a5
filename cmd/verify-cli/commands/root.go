package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var baseUrl string

var rootCmd = &cobra.Command{
	Use:   "verify-cli",
	Short: "verify-cli checks pharmacy licenses against the national registry portal.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&baseUrl, "base-url", "https://practice.pharmacyboardkenya.org",
		"base url of the registry portal")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
