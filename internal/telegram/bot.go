// Package telegram provides the Telegram front end for claudegram.
//
// Uses long polling -- no public URL or webhook needed. Messages from the
// single allowed user are turned into CLI executions; permission requests,
// clarifying questions, stop requests and file downloads are all handled
// through inline keyboard callbacks.
package telegram

import (
	"context"
	"fmt"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/ewahl/claudegram/internal/claude"
	"github.com/ewahl/claudegram/internal/config"
	"github.com/ewahl/claudegram/internal/history"
	"github.com/ewahl/claudegram/internal/session"
)

// Executor runs one CLI request end to end, negotiating through the
// given callbacks.
type Executor interface {
	Execute(req claude.Request, cb claude.Callbacks, stop *claude.Stop) *claude.Result
}

// Bot is the Telegram bot.
type Bot struct {
	api       *tgbotapi.BotAPI
	cfg       *config.Config
	sessions  *session.Store
	history   *history.Store
	exec      Executor
	perms     *claude.PermissionManager
	questions *claude.QuestionManager

	mu sync.Mutex
	// busy marks users with a request in flight; requests are serialized
	// per user, not queued.
	busy map[int64]bool
	// stops maps a status message id to its run's stop signal.
	stops map[int]*claude.Stop
	// downloads maps a short id to the file paths behind a download button.
	downloads map[string][]string
}

// NewBot authorizes against the Telegram API and wires up the bot.
func NewBot(cfg *config.Config, sessions *session.Store, hist *history.Store, exec Executor, perms *claude.PermissionManager, questions *claude.QuestionManager) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{
		api:       api,
		cfg:       cfg,
		sessions:  sessions,
		history:   hist,
		exec:      exec,
		perms:     perms,
		questions: questions,
		busy:      make(map[int64]bool),
		stops:     make(map[int]*claude.Stop),
		downloads: make(map[string][]string),
	}, nil
}

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.Message != nil:
				go b.handleMessage(update.Message)
			case update.CallbackQuery != nil:
				go b.handleCallback(update.CallbackQuery)
			}
		}
	}
}

// allowed checks the single-user allowlist.
func (b *Bot) allowed(from *tgbotapi.User) bool {
	return from != nil && from.UserName == b.cfg.AllowedUser
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !b.allowed(msg.From) {
		log.Printf("Ignoring message from unauthorized user @%s", msg.From.UserName)
		return
	}

	switch {
	case msg.IsCommand():
		b.handleCommand(msg)
	case len(msg.Photo) > 0:
		b.handlePhoto(msg)
	case msg.Document != nil:
		b.handleDocument(msg)
	case msg.Text != "":
		b.handleText(msg)
	}
}

func (b *Bot) tryAcquire(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy[userID] {
		return false
	}
	b.busy[userID] = true
	return true
}

func (b *Bot) release(userID int64) {
	b.mu.Lock()
	delete(b.busy, userID)
	b.mu.Unlock()
}

func (b *Bot) registerStop(messageID int, stop *claude.Stop) {
	b.mu.Lock()
	b.stops[messageID] = stop
	b.mu.Unlock()
}

func (b *Bot) unregisterStop(messageID int) {
	b.mu.Lock()
	delete(b.stops, messageID)
	b.mu.Unlock()
}

func (b *Bot) lookupStop(messageID int) *claude.Stop {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops[messageID]
}

func (b *Bot) registerDownload(paths []string) string {
	id := shortID()
	b.mu.Lock()
	b.downloads[id] = paths
	b.mu.Unlock()
	return id
}

func (b *Bot) takeDownload(id string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := b.downloads[id]
	delete(b.downloads, id)
	return paths
}

// send delivers a plain text message, logging failures.
func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Telegram: failed to send message: %v", err)
	}
}

// sendHTML delivers an HTML message with a plain text fallback on parse
// errors.
func (b *Bot) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Telegram: HTML send failed, retrying plain: %v", err)
		msg.ParseMode = ""
		if _, err := b.api.Send(msg); err != nil {
			log.Printf("Telegram: failed to send message: %v", err)
		}
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}
