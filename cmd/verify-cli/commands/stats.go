package commands

import (
	"fmt"
	"io"
	"net/http"

	"ppbverify-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

var statsServer *string

func init() {
	statsServer = statsCmd.Flags().String("server", "http://localhost:8460", "address of a running verifyd instance")
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "cache-stats <register>",
	Short: "Prints the cache statistics of a running verification server.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := fmt.Sprintf("%s/%s/cache/stats", *statsServer, args[0])
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			serviceutil.Fatal("failed to build request", err)
		}

		res, err := http.DefaultClient.Do(req)
		if err != nil {
			serviceutil.Fatal("failed to reach server", err)
		}
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		if err != nil {
			serviceutil.Fatal("failed to read response", err)
		}
		if res.StatusCode != http.StatusOK {
			serviceutil.Fatal("server error", fmt.Errorf("status %d: %s", res.StatusCode, body))
		}
		fmt.Println(string(body))
	},
}
