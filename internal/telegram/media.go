package telegram

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handlePhoto(msg *tgbotapi.Message) {
	caption := msg.Caption
	if caption == "" {
		caption = "Take a look at this image"
	}

	// Telegram sends several resolutions; the last is the largest.
	photo := msg.Photo[len(msg.Photo)-1]
	name, err := b.fetchToWorkspace(msg.From.ID, photo.FileID, shortID()+".jpg")
	if err != nil {
		log.Printf("Downloading photo from user %d: %v", msg.From.ID, err)
		b.send(msg.Chat.ID, "❌ Failed to download the image.")
		return
	}

	prompt := fmt.Sprintf("%s\n\nAttached image file: %s", caption, name)
	b.runRequest(msg, prompt, "✅ Claude processed the image.")
}

func (b *Bot) handleDocument(msg *tgbotapi.Message) {
	caption := msg.Caption
	if caption == "" {
		caption = "Take a look at this document"
	}

	fileName := msg.Document.FileName
	if fileName == "" {
		fileName = shortID() + ".bin"
	}
	name, err := b.fetchToWorkspace(msg.From.ID, msg.Document.FileID, fileName)
	if err != nil {
		log.Printf("Downloading document from user %d: %v", msg.From.ID, err)
		b.send(msg.Chat.ID, "❌ Failed to download the document.")
		return
	}

	prompt := fmt.Sprintf("%s\n\nAttached document file: %s", caption, name)
	b.runRequest(msg, prompt, "✅ Claude processed the document.")
}

// fetchToWorkspace downloads a Telegram file into the media directory and
// copies it into the user's workspace so the CLI can read it. Returns the
// file name relative to the workspace.
func (b *Bot) fetchToWorkspace(userID int64, fileID, name string) (string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("resolving file: %w", err)
	}

	mediaDir := filepath.Join(b.cfg.MediaDir(), fmt.Sprintf("user_%d", userID))
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("creating media dir: %w", err)
	}
	mediaPath := filepath.Join(mediaDir, name)

	resp, err := http.Get(file.Link(b.api.Token))
	if err != nil {
		return "", fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading file: unexpected status %s", resp.Status)
	}

	out, err := os.Create(mediaPath)
	if err != nil {
		return "", fmt.Errorf("creating media file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("writing media file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}

	workspace := b.sessions.WorkDir(userID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}
	if err := copyFile(mediaPath, filepath.Join(workspace, name)); err != nil {
		return "", fmt.Errorf("copying into workspace: %w", err)
	}
	return name, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
