// Claudegram bridges the Claude Code CLI to a Telegram chat: send a
// prompt from your phone, approve tool use inline, get the results back.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "claudegram",
	Short: "Claudegram - drive Claude Code from Telegram",
	Long: `Claudegram runs the Claude Code CLI on your machine and lets you drive
it from a Telegram chat: prompts, permission approvals, and file
downloads all happen inline.

  claudegram serve               Start the bot and the HTTP API
  claudegram sessions <user-id>  List a user's sessions
  claudegram runs <user-id>      List a user's recent runs`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CLAUDEGRAM_SERVER", "http://localhost:7081"), "Claudegram server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
