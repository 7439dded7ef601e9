package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [user-id]",
	Short: "List a user's sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessions,
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [user-id]",
	Short: "List a user's recent runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	resp, err := http.Get(serverURL + "/api/users/" + args[0] + "/sessions")
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var sessions []struct {
		ID           string `json:"id"`
		Active       bool   `json:"active"`
		Messages     int    `json:"messages"`
		Preview      string `json:"preview"`
		LastActivity string `json:"last_activity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range sessions {
		marker := "  "
		if s.Active {
			marker = "* "
		}
		fmt.Printf("%s%s  %3d msgs  %s  %s\n", marker, s.ID[:8], s.Messages, s.LastActivity, s.Preview)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	url := fmt.Sprintf("%s/api/users/%s/runs?limit=%d", serverURL, args[0], runsLimit)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var runs []struct {
		ID         int64  `json:"id"`
		SessionID  string `json:"session_id"`
		Prompt     string `json:"prompt"`
		Outcome    string `json:"outcome"`
		Error      string `json:"error"`
		DurationMS int64  `json:"duration_ms"`
		CreatedAt  string `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs.")
		return nil
	}
	for _, r := range runs {
		prompt := r.Prompt
		if len(prompt) > 60 {
			prompt = prompt[:57] + "..."
		}
		fmt.Printf("#%-4d %-9s %6.1fs  %s  %s\n", r.ID, r.Outcome, float64(r.DurationMS)/1000, r.CreatedAt, prompt)
		if r.Error != "" {
			fmt.Printf("      error: %s\n", r.Error)
		}
	}
	return nil
}
