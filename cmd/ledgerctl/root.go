package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/pkg/ledgerclient"
	"github.com/spf13/cobra"
)

// cli carries the state shared by every subcommand.
type cli struct {
	in  *bufio.Reader
	out io.Writer

	baseURL string
	apiKey  string
	timeout time.Duration
	yes     bool
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	c := &cli{in: bufio.NewReader(in), out: out}

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tool for the SooqKabeer commission ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.baseURL, "url", envOr("LEDGER_SERVICE_URL", "http://localhost:8090"), "ledger-service base URL")
	flags.StringVar(&c.apiKey, "key", envOr("LEDGER_SERVICE_INTERNAL_API_KEY", os.Getenv("INTERNAL_API_KEY")), "internal API key")
	flags.DurationVar(&c.timeout, "timeout", 30*time.Second, "request timeout")
	flags.BoolVarP(&c.yes, "yes", "y", false, "skip confirmation prompts")

	rootCmd.AddCommand(
		c.balanceCmd(),
		c.commissionsCmd(),
		c.statsCmd(),
		c.settleCmd(),
		c.withdrawalCmd(),
		c.orderCmd(),
	)
	return rootCmd
}

func (c *cli) client() *ledgerclient.Client {
	return ledgerclient.NewClient(c.baseURL, c.apiKey)
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// confirm asks before an action that moves money. Anything but "yes" cancels.
func (c *cli) confirm(prompt string) bool {
	if c.yes {
		return true
	}
	fmt.Fprintf(c.out, "%s (yes/no): ", prompt)
	answer, _ := c.in.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer)) == "yes"
}

func (c *cli) print(v interface{}) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
