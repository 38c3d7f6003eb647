/**
 * @description
 * ledgerctl is the operator tool for the ledger-service internal API: balance and
 * commission lookups, settling pending commissions, deciding withdrawals and replaying
 * completed orders.
 *
 * Usage:
 *   ledgerctl balance <account-id>
 *   ledgerctl settle <entry-id> --status paid --notes "batch 7"
 *   ledgerctl withdrawal reject <request-id> --reason "details do not match"
 *   ledgerctl order replay --file order.json
 *
 * @dependencies
 * - github.com/spf13/cobra: Command tree and flags.
 * - github.com/joho/godotenv: Environment variables: LEDGER_SERVICE_URL, LEDGER_SERVICE_INTERNAL_API_KEY
 */

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file if it exists
	for _, filename := range []string{"../.env", ".env"} {
		_ = godotenv.Load(filename)
	}

	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
