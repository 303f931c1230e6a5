package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ppbverify-backend/lib/scrapers/ppb"
	"ppbverify-backend/lib/serviceutil"
	"ppbverify-backend/services/verify"

	"github.com/spf13/cobra"
)

var verifyTimeout *time.Duration

func init() {
	verifyTimeout = verifyCmd.Flags().Duration("timeout", 45*time.Second, "overall time budget of the verification")
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify <register> <license-number>",
	Short: "Verifies one license and prints the record as JSON.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		register, ok := ppb.ByName(args[0])
		if !ok {
			serviceutil.Fatal("invalid arguments", fmt.Errorf("unknown register %q, expected facilities, pharmacists or pharmtechs", args[0]))
		}

		service, err := verify.New(register, verify.Options{
			BaseUrl:    baseUrl,
			CallBudget: *verifyTimeout,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize verification service", err)
		}

		result, err := service.Verify(cmd.Context(), args[1], false)
		if err != nil {
			serviceutil.Fatal("verification failed", err)
		}

		out, err := json.MarshalIndent(result.Record, "", "  ")
		if err != nil {
			serviceutil.Fatal("failed to encode record", err)
		}
		fmt.Println(string(out))
		fmt.Fprintf(os.Stderr, "verified in %s\n", result.Elapsed.Round(time.Millisecond))
	},
}
