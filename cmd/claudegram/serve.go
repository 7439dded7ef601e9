package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ewahl/claudegram/internal/claude"
	"github.com/ewahl/claudegram/internal/config"
	"github.com/ewahl/claudegram/internal/history"
	"github.com/ewahl/claudegram/internal/httpapi"
	"github.com/ewahl/claudegram/internal/session"
	"github.com/ewahl/claudegram/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Claudegram bot",
	Long:  "Start the Telegram bot and the read-only HTTP API.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, dir := range []string{cfg.DataDir, cfg.WorkspaceDir, cfg.SessionsDir(), cfg.MediaDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	sessions, err := session.NewStore(cfg.SessionsDir(), cfg.WorkspaceDir, cfg.SessionTimeout)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	hist, err := history.NewStore(cfg.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer hist.Close()

	perms := claude.NewPermissionManager()
	questions := claude.NewQuestionManager()
	exec := claude.NewExecutor(claude.NewRunner(), cfg.ClaudeCLIPath)

	bot, err := telegram.NewBot(cfg, sessions, hist, exec, perms, questions)
	if err != nil {
		return fmt.Errorf("initializing Telegram bot: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	api := httpapi.New(sessions, hist)
	errCh := make(chan error, 1)
	go func() {
		errCh <- api.Start(ctx, cfg.ServerAddr)
	}()

	err = bot.Run(ctx)

	// Unblock anything still waiting on an inline answer.
	perms.CancelAll()
	questions.CancelAll()

	if apiErr := <-errCh; apiErr != nil && err == nil {
		err = apiErr
	}
	return err
}
