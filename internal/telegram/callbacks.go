package telegram

import (
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleCallback(query *tgbotapi.CallbackQuery) {
	if !b.allowed(query.From) {
		b.answerCallback(query.ID, "⛔ Access denied.")
		return
	}

	data := query.Data
	switch {
	case strings.HasPrefix(data, "stop_"):
		b.handleStopCallback(query, strings.TrimPrefix(data, "stop_"))
	case strings.HasPrefix(data, "perm_approve_"):
		b.handlePermissionCallback(query, strings.TrimPrefix(data, "perm_approve_"), true)
	case strings.HasPrefix(data, "perm_deny_"):
		b.handlePermissionCallback(query, strings.TrimPrefix(data, "perm_deny_"), false)
	case strings.HasPrefix(data, "q_"):
		b.handleQuestionCallback(query)
	case strings.HasPrefix(data, "dl_"):
		b.handleDownloadCallback(query, strings.TrimPrefix(data, "dl_"))
	default:
		b.answerCallback(query.ID, "")
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("Telegram: failed to answer callback: %v", err)
	}
}

// editText replaces a message's text and removes its keyboard. Edit
// failures are expected when a message is edited twice, so they are only
// logged.
func (b *Bot) editText(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.api.Request(edit); err != nil {
		log.Printf("Telegram: failed to edit message: %v", err)
	}
}

func (b *Bot) handleStopCallback(query *tgbotapi.CallbackQuery, raw string) {
	b.answerCallback(query.ID, "")

	messageID, err := strconv.Atoi(raw)
	if err != nil {
		// Button pressed before the real message id was wired in.
		return
	}

	stop := b.lookupStop(messageID)
	if stop == nil {
		return
	}
	stop.Trigger()
	log.Printf("Stop requested for message %d", messageID)
	b.editText(query.Message.Chat.ID, query.Message.MessageID, "🛑 Stopping execution...")
}

func (b *Bot) handlePermissionCallback(query *tgbotapi.CallbackQuery, requestID string, approved bool) {
	b.answerCallback(query.ID, "")

	if !b.perms.Resolve(requestID, approved) {
		b.editText(query.Message.Chat.ID, query.Message.MessageID,
			"⚠️ This permission request expired or was already handled.")
		return
	}

	status := "✅ Approved"
	if !approved {
		status = "❌ Denied"
	}
	b.editText(query.Message.Chat.ID, query.Message.MessageID,
		query.Message.Text+"\n\n"+status)
}

// handleQuestionCallback routes q_<requestID>_<questionIdx>_<action>
// presses: a numeric action selects (or toggles) an option, "other"
// expects a free-text reply, "done" finalizes a multi-select.
func (b *Bot) handleQuestionCallback(query *tgbotapi.CallbackQuery) {
	parts := strings.SplitN(query.Data, "_", 4)
	if len(parts) != 4 {
		b.answerCallback(query.ID, "")
		return
	}
	requestID := parts[1]
	questionIdx, err := strconv.Atoi(parts[2])
	if err != nil {
		b.answerCallback(query.ID, "")
		return
	}
	action := parts[3]

	req := b.questions.Get(requestID)
	if req == nil {
		b.answerCallback(query.ID, "This question expired or was already answered.")
		b.editText(query.Message.Chat.ID, query.Message.MessageID,
			query.Message.Text+"\n\n⚠️ Expired.")
		return
	}
	if questionIdx >= len(req.Questions) {
		b.answerCallback(query.ID, "")
		return
	}
	question := req.Questions[questionIdx]

	switch action {
	case "other":
		b.answerCallback(query.ID, "Send your answer as the next message.")
		b.questions.MarkAwaitingFreeText(query.Message.Chat.ID, requestID, questionIdx)
		b.editText(query.Message.Chat.ID, query.Message.MessageID,
			query.Message.Text+"\n\n⌨️ Waiting for a text reply...")
		return

	case "done":
		b.answerCallback(query.ID, "")
		answer, _ := b.questions.FinalizeMultiSelect(requestID, questionIdx)
		if answer == "" {
			answer = "(nothing selected)"
		}
		b.editText(query.Message.Chat.ID, query.Message.MessageID,
			query.Message.Text+"\n\n✅ Answer: "+answer)
		return
	}

	optionIdx, err := strconv.Atoi(action)
	if err != nil || optionIdx >= len(question.Options) {
		b.answerCallback(query.ID, "")
		return
	}

	if question.MultiSelect {
		selections := b.questions.ToggleMultiSelect(requestID, questionIdx, optionIdx)
		b.answerCallback(query.ID, "")
		markup := questionKeyboard(requestID, questionIdx, question, selections)
		if _, err := b.api.Request(tgbotapi.NewEditMessageReplyMarkup(
			query.Message.Chat.ID, query.Message.MessageID, markup)); err != nil {
			log.Printf("Telegram: failed to update selection keyboard: %v", err)
		}
		return
	}

	b.answerCallback(query.ID, "")
	label := question.Options[optionIdx].Label
	b.questions.SetAnswer(requestID, questionIdx, label)
	b.editText(query.Message.Chat.ID, query.Message.MessageID,
		query.Message.Text+"\n\n✅ Answer: "+label)
}

func (b *Bot) handleDownloadCallback(query *tgbotapi.CallbackQuery, downloadID string) {
	b.answerCallback(query.ID, "")

	paths := b.takeDownload(downloadID)
	if paths == nil {
		b.editText(query.Message.Chat.ID, query.Message.MessageID,
			query.Message.Text+"\n\n⚠️ These files were already sent or the link expired.")
		return
	}

	for _, path := range paths {
		doc := tgbotapi.NewDocument(query.Message.Chat.ID, tgbotapi.FilePath(path))
		if _, err := b.api.Send(doc); err != nil {
			log.Printf("Telegram: failed to send file %s: %v", path, err)
			b.send(query.Message.Chat.ID, "⚠️ Failed to send "+path)
		}
	}
	b.editText(query.Message.Chat.ID, query.Message.MessageID,
		query.Message.Text+"\n\n✅ Sent")
}
