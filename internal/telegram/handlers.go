package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ewahl/claudegram/internal/claude"
	"github.com/ewahl/claudegram/internal/history"
	"github.com/ewahl/claudegram/internal/session"
)

const welcomeMessage = `👋 Hi! I relay your messages to the Claude Code CLI.

Send me any message and I'll hand it to Claude in your workspace.

I support:
• Text messages
• Images
• Documents
• Conversation context across messages

Commands:
/start - show this message
/help - usage details
/reset - start a new conversation
/switch - list or switch sessions
/history - recent runs`

const helpMessage = `📖 <b>How to use this bot</b>

<b>Features:</b>
🔹 Text, images and documents go straight to Claude
🔹 Conversation context is kept per session
🔹 Files Claude creates are sent back to you
🔹 Permission requests and questions arrive as buttons
🔹 The Stop button cancels a running request

<b>Commands:</b>
/reset — new conversation (the old session is kept)
/switch — list sessions
/switch <code>&lt;id&gt;</code> — switch to a session (a unique prefix is enough)
/history — recent runs
/help — this message`

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.send(msg.Chat.ID, welcomeMessage)
	case "help":
		b.sendHTML(msg.Chat.ID, helpMessage)
	case "reset":
		b.handleReset(msg)
	case "switch":
		b.handleSwitch(msg)
	case "history":
		b.handleHistory(msg)
	default:
		b.send(msg.Chat.ID, "Unknown command. /help lists what I understand.")
	}
}

func (b *Bot) handleReset(msg *tgbotapi.Message) {
	sess, err := b.sessions.Reset(msg.From.ID)
	if err != nil {
		log.Printf("Resetting session for user %d: %v", msg.From.ID, err)
		b.send(msg.Chat.ID, "❌ Failed to start a new session.")
		return
	}
	b.sendHTML(msg.Chat.ID, fmt.Sprintf(
		"✅ Starting a new session!\nID: <code>%s</code>\n\nPrevious sessions are kept — /switch lists them.",
		sess.ID))
}

func (b *Bot) handleSwitch(msg *tgbotapi.Message) {
	userID := msg.From.ID
	arg := strings.TrimSpace(msg.CommandArguments())

	if arg != "" {
		sess, err := b.sessions.Switch(userID, arg)
		switch {
		case errors.Is(err, session.ErrAmbiguous):
			b.send(msg.Chat.ID, "⚠️ That prefix matches several sessions, use more characters.")
		case err != nil:
			b.sendHTML(msg.Chat.ID, fmt.Sprintf(
				"❌ No session with ID <code>%s</code>.\nUse /switch without arguments for the list.",
				html.EscapeString(arg)))
		default:
			b.sendHTML(msg.Chat.ID, fmt.Sprintf(
				"✅ Switched to session <code>%s</code>\nMessages: %d\nPreview: %s",
				sess.ID, len(sess.Messages), html.EscapeString(sess.Preview())))
		}
		return
	}

	listed, err := b.sessions.List(userID)
	if err != nil {
		log.Printf("Listing sessions for user %d: %v", userID, err)
		b.send(msg.Chat.ID, "❌ Failed to list sessions.")
		return
	}
	if len(listed) == 0 {
		b.send(msg.Chat.ID, "No saved sessions.")
		return
	}

	lines := []string{"📋 <b>Your sessions:</b>\n"}
	for _, ls := range listed {
		marker := "  "
		if ls.Active {
			marker = "▶️ "
		}
		lines = append(lines, fmt.Sprintf(
			"%s<code>%s</code>  %s  (%d msgs)\n    %s",
			marker, ls.Session.ID[:8],
			ls.Session.CreatedAt.Format("02.01 15:04"),
			len(ls.Session.Messages),
			html.EscapeString(ls.Session.Preview())))
	}
	lines = append(lines, "\nSwitch with /switch <code>&lt;id&gt;</code> (a unique prefix is enough)")
	b.sendHTML(msg.Chat.ID, strings.Join(lines, "\n"))
}

func (b *Bot) handleHistory(msg *tgbotapi.Message) {
	runs, err := b.history.ListByUser(msg.From.ID, 10)
	if err != nil {
		log.Printf("Listing run history for user %d: %v", msg.From.ID, err)
		b.send(msg.Chat.ID, "❌ Failed to load run history.")
		return
	}
	if len(runs) == 0 {
		b.send(msg.Chat.ID, "No runs recorded yet.")
		return
	}

	lines := []string{"🗂 <b>Recent runs:</b>\n"}
	for _, run := range runs {
		icon := "✅"
		switch run.Outcome {
		case history.OutcomeError:
			icon = "❌"
		case history.OutcomeCancelled:
			icon = "🛑"
		}
		prompt := run.Prompt
		if len(prompt) > 60 {
			prompt = prompt[:57] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s  %s  (%.1fs)",
			icon, run.CreatedAt.Format("02.01 15:04"),
			html.EscapeString(prompt),
			float64(run.DurationMS)/1000))
	}
	b.sendHTML(msg.Chat.ID, strings.Join(lines, "\n"))
}

func (b *Bot) handleText(msg *tgbotapi.Message) {
	// A pending "other answer" expectation routes this text to the
	// question, not to a new run.
	if reqID, qIdx, ok := b.questions.ConsumeAwaitingFreeText(msg.Chat.ID); ok {
		if b.questions.SetAnswer(reqID, qIdx, msg.Text) {
			b.send(msg.Chat.ID, "✅ Answer recorded: "+msg.Text)
		} else {
			b.send(msg.Chat.ID, "⚠️ That question already expired, the answer was not delivered.")
		}
		return
	}

	b.runRequest(msg, msg.Text, "✅ Claude finished without a text reply.")
}

// runRequest drives one CLI execution for a user message: status message
// with a stop button, streaming edits, negotiation, final response,
// created files and the activity log.
func (b *Bot) runRequest(msg *tgbotapi.Message, prompt, emptyResponseText string) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !b.tryAcquire(userID) {
		b.send(chatID, "⏳ The previous request is still running, please wait...")
		return
	}
	defer b.release(userID)

	b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	statusMsg := tgbotapi.NewMessage(chatID, "⏳ Working on it...")
	statusMsg.ReplyToMessageID = msg.MessageID
	status, err := b.api.Send(statusMsg)
	if err != nil {
		log.Printf("Telegram: failed to send status message: %v", err)
		return
	}

	stop := claude.NewStop()
	b.registerStop(status.MessageID, stop)
	defer b.unregisterStop(status.MessageID)

	keyboard := stopKeyboard(status.MessageID)
	b.api.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, status.MessageID, keyboard))

	sess, err := b.sessions.Active(userID)
	if err != nil {
		log.Printf("Loading session for user %d: %v", userID, err)
		b.send(chatID, "❌ Failed to load your session.")
		return
	}
	if err := os.MkdirAll(sess.WorkingDirectory, 0o755); err != nil {
		log.Printf("Creating workspace for user %d: %v", userID, err)
		b.send(chatID, "❌ Failed to prepare your workspace.")
		return
	}

	always, err := b.sessions.AlwaysApproved(userID)
	if err != nil {
		log.Printf("Loading always-approved tools for user %d: %v", userID, err)
	}

	req := claude.Request{
		Message:     prompt,
		SessionID:   sess.ID,
		Resume:      len(sess.Messages) > 0,
		WorkDir:     sess.WorkingDirectory,
		PreApproved: append(append([]string{}, sess.ApprovedTools...), always...),
	}
	cb := claude.Callbacks{
		OnUpdate:     b.streamUpdater(chatID, status.MessageID, keyboard),
		OnPermission: b.permissionCallback(chatID, msg.MessageID),
		OnQuestion:   b.questionCallback(chatID, msg.MessageID),
	}

	started := time.Now()
	res := b.exec.Execute(req, cb, stop)

	b.api.Request(tgbotapi.NewDeleteMessage(chatID, status.MessageID))
	b.recordRun(userID, sess.ID, prompt, res, time.Since(started))

	switch {
	case res.Stopped:
		if strings.TrimSpace(res.Text) != "" {
			b.sendResponse(chatID, res.Text)
		} else {
			b.send(chatID, "🛑 Execution stopped.")
		}
		return
	case res.Err != "":
		errText := res.Err
		if len(errText) > 3000 {
			errText = errText[:3000] + "..."
		}
		b.send(chatID, "❌ Claude failed:\n\n"+errText)
		return
	}

	sess.AddMessage("user", prompt, nil)
	sess.AddMessage("assistant", res.Text, nil)
	if err := b.sessions.Save(sess); err != nil {
		log.Printf("Saving session %s: %v", sess.ID, err)
	}

	if strings.TrimSpace(res.Text) != "" {
		b.sendResponse(chatID, res.Text)
	} else {
		b.send(chatID, emptyResponseText)
	}

	b.sendCreatedFiles(chatID, sess.WorkingDirectory, res.CreatedFiles)
	b.sendToolActivity(chatID, res.Actions)
}

func (b *Bot) recordRun(userID int64, sessionID, prompt string, res *claude.Result, elapsed time.Duration) {
	outcome := history.OutcomeSuccess
	switch {
	case res.Stopped:
		outcome = history.OutcomeCancelled
	case res.Err != "":
		outcome = history.OutcomeError
	}
	run := &history.Run{
		UserID:       userID,
		SessionID:    sessionID,
		Prompt:       prompt,
		Outcome:      outcome,
		Error:        res.Err,
		ExitCode:     res.ExitCode,
		CreatedFiles: res.CreatedFiles,
		DurationMS:   elapsed.Milliseconds(),
	}
	if err := b.history.Record(run); err != nil {
		log.Printf("Recording run for user %d: %v", userID, err)
	}
}

// streamUpdater edits the status message with the accumulated text.
func (b *Bot) streamUpdater(chatID int64, messageID int, keyboard tgbotapi.InlineKeyboardMarkup) func(string) {
	return func(text string) {
		if len(text) > maxMessageLength-10 {
			text = "..." + text[len(text)-(maxMessageLength-13):]
		}
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard)
		if _, err := b.api.Request(edit); err != nil {
			log.Printf("Telegram: failed to edit status message: %v", err)
		}
	}
}

func stopKeyboard(messageID int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛑 Stop", fmt.Sprintf("stop_%d", messageID)),
		),
	)
}

// permissionCallback sends one consolidated approval request for all
// denied tools and awaits the user's decision.
func (b *Bot) permissionCallback(chatID int64, replyTo int) func(context.Context, []claude.Denial) ([]string, error) {
	return func(ctx context.Context, denials []claude.Denial) ([]string, error) {
		seen := make(map[string]bool)
		var tools []string
		var lines []string
		for _, d := range denials {
			if seen[d.ToolName] {
				continue
			}
			seen[d.ToolName] = true
			tools = append(tools, d.ToolName)
			lines = append(lines, "• "+d.ToolName+": "+formatToolDescription(d.ToolName, d.ToolInput))
		}

		requestID := shortID()
		req := b.perms.Create(requestID, tools, nil)
		defer b.perms.Cancel(requestID)

		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Approve all", "perm_approve_"+requestID),
				tgbotapi.NewInlineKeyboardButtonData("❌ Deny", "perm_deny_"+requestID),
			),
		)

		chunks := SplitMessage("🔐 Permission request\n\n"+strings.Join(lines, "\n"), false)
		for i, chunk := range chunks {
			m := tgbotapi.NewMessage(chatID, chunk)
			m.ReplyToMessageID = replyTo
			if i == len(chunks)-1 {
				m.ReplyMarkup = keyboard
			}
			if _, err := b.api.Send(m); err != nil {
				return nil, fmt.Errorf("sending permission request: %w", err)
			}
		}

		if req.Await(ctx) {
			return tools, nil
		}
		return nil, nil
	}
}

// questionCallback asks each of the CLI's questions as a separate message
// with option buttons and awaits the full answer set.
func (b *Bot) questionCallback(chatID int64, replyTo int) func(context.Context, claude.QuestionPayload) (map[int]string, error) {
	return func(ctx context.Context, payload claude.QuestionPayload) (map[int]string, error) {
		requestID := shortID()
		req := b.questions.Create(requestID, payload.Questions)
		defer b.questions.Cancel(requestID)

		for idx, q := range payload.Questions {
			var sb strings.Builder
			if q.Header != "" {
				fmt.Fprintf(&sb, "❓ [%s]\n", q.Header)
			}
			sb.WriteString(q.Question)
			if q.MultiSelect {
				sb.WriteString("\n\n(several options may be selected)")
			}
			for _, opt := range q.Options {
				if opt.Description != "" {
					fmt.Fprintf(&sb, "\n  %s: %s", opt.Label, opt.Description)
				}
			}

			m := tgbotapi.NewMessage(chatID, sb.String())
			m.ReplyToMessageID = replyTo
			m.ReplyMarkup = questionKeyboard(requestID, idx, q, nil)
			if _, err := b.api.Send(m); err != nil {
				return nil, fmt.Errorf("sending question: %w", err)
			}
		}

		return req.Await(ctx), nil
	}
}

// questionKeyboard builds the option keyboard for one question. selected
// marks the toggled options of a multi-select.
func questionKeyboard(requestID string, questionIdx int, q claude.Question, selected map[int]bool) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, opt := range q.Options {
		label := opt.Label
		if label == "" {
			label = fmt.Sprintf("Option %d", i+1)
		}
		if selected[i] {
			label = "✅ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("q_%s_%d_%d", requestID, questionIdx, i)),
		))
	}
	other := tgbotapi.NewInlineKeyboardButtonData("✏️ Other answer", fmt.Sprintf("q_%s_%d_other", requestID, questionIdx))
	if q.MultiSelect {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			other,
			tgbotapi.NewInlineKeyboardButtonData("✔️ Done", fmt.Sprintf("q_%s_%d_done", requestID, questionIdx)),
		))
	} else {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(other))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// formatToolDescription summarizes a denied tool's input for the
// permission prompt.
func formatToolDescription(toolName string, input map[string]any) string {
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}
	switch toolName {
	case "Bash":
		cmd := str("command")
		if len(cmd) > 500 {
			cmd = cmd[:500] + "..."
		}
		text := "Command: " + cmd
		if desc := str("description"); desc != "" {
			text += "\nDescription: " + desc
		}
		return text
	case "Write", "Edit", "Read":
		return "File: " + str("file_path")
	default:
		data, err := json.MarshalIndent(input, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", input)
		}
		s := string(data)
		if len(s) > 500 {
			s = s[:500] + "..."
		}
		return "Input:\n" + s
	}
}

// sendResponse converts the CLI's markdown to Telegram HTML and sends it
// in chunks, falling back to plain text on parse errors.
func (b *Bot) sendResponse(chatID int64, text string) {
	for _, chunk := range SplitMessage(MarkdownToHTML(text), true) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		m := tgbotapi.NewMessage(chatID, chunk)
		m.ParseMode = tgbotapi.ModeHTML
		m.DisableWebPagePreview = true
		if _, err := b.api.Send(m); err != nil {
			log.Printf("Telegram: HTML response failed, falling back to plain text: %v", err)
			for _, plain := range SplitMessage(text, false) {
				if strings.TrimSpace(plain) != "" {
					b.send(chatID, plain)
				}
			}
			return
		}
	}
}

const maxDownloadSize = 50 * 1024 * 1024

// sendCreatedFiles lists the files a run produced and attaches a
// download button.
func (b *Bot) sendCreatedFiles(chatID int64, workDir string, files []string) {
	if len(files) == 0 {
		return
	}

	var paths []string
	lines := []string{"📎 <b>Created files:</b>\n"}
	for _, rel := range files {
		path := filepath.Join(workDir, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil {
			log.Printf("Stat created file %s: %v", path, err)
			lines = append(lines, fmt.Sprintf("⚠️ %s — not accessible", html.EscapeString(rel)))
			continue
		}
		if info.Size() > maxDownloadSize {
			lines = append(lines, fmt.Sprintf("⚠️ %s — too large (> 50 MB)", html.EscapeString(rel)))
			continue
		}
		lines = append(lines, fmt.Sprintf("  • <code>%s</code>  (%s)", html.EscapeString(rel), humanSize(info.Size())))
		paths = append(paths, path)
	}

	msg := tgbotapi.NewMessage(chatID, strings.Join(lines, "\n"))
	msg.ParseMode = tgbotapi.ModeHTML
	if len(paths) > 0 {
		downloadID := b.registerDownload(paths)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("📥 Download (%d)", len(paths)), "dl_"+downloadID),
			),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Telegram: failed to send created files list: %v", err)
	}
}

var toolIcons = map[string]string{
	"Bash":  "⚙️",
	"Read":  "📄",
	"Write": "✏️",
	"Edit":  "✏️",
	"Glob":  "🔍",
	"Grep":  "🔍",
	"Task":  "📦",
}

// sendToolActivity sends a compact log of the tools the CLI used.
func (b *Bot) sendToolActivity(chatID int64, actions []claude.ToolAction) {
	if len(actions) == 0 {
		return
	}

	var lines []string
	for _, action := range actions {
		icon := toolIcons[action.ToolName]
		if icon == "" {
			icon = "🔧"
		}
		summary := action.Summary
		if len(summary) > 60 {
			summary = summary[:57] + "..."
		}
		lines = append(lines, fmt.Sprintf("  %s <code>%s</code>: %s",
			icon, action.ToolName, html.EscapeString(summary)))
	}
	if len(lines) > 15 {
		rest := len(lines) - 15
		lines = append(lines[:15], fmt.Sprintf("  ... and %d more", rest))
	}

	text := "📝 <b>Actions:</b>\n" + strings.Join(lines, "\n")
	if len(text) > maxMessageLength {
		text = text[:maxMessageLength-3] + "..."
	}
	b.sendHTML(chatID, text)
}

func humanSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
	return fmt.Sprintf("%.1f GB", float64(n)/(1024*1024*1024))
}
