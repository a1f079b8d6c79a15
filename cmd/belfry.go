package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stephnangue/belfry/cmd/server"
)

var belfryCmd = &cobra.Command{
	Use:   "belfry",
	Short: "Belfry rings a shared physical bell on behalf of token holders",
	Long: `Belfry grants remote, token-gated, time-windowed permission to briefly
ring a single shared bell. Tokens are minted by an administrator, handed
to guests or bots, and consumed through the HTTP API.`,
}

func Execute() {
	if err := belfryCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	belfryCmd.AddCommand(server.ServerCmd)
}
