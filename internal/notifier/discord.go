package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/italolelis/ambience_downloader/internal/transfer"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// Message renders ev as a chat line. Aborted and cancelled requests are not
// worth a notification and yield an empty string.
func Message(ev transfer.Event) string {
	if errors.Is(ev.Err, transfer.ErrAborted) || errors.Is(ev.Err, transfer.ErrCanceled) || errors.Is(ev.Err, transfer.ErrClosed) {
		return ""
	}

	switch ev.Type {
	case transfer.ThumbnailSaved:
		return "🖼️ Thumbnail saved: " + ev.File
	case transfer.ThumbnailFailed:
		return fmt.Sprintf("❌ Thumbnail failed for %s: %v", ev.Name, ev.Err)
	case transfer.FullImageSaved:
		return "✅ Full image saved: " + ev.Path
	case transfer.FullImageFailed:
		return fmt.Sprintf("❌ Full image failed for %s: %v", ev.Name, ev.Err)
	case transfer.GalleryImageSaved:
		return "📁 Saved to gallery: " + ev.Path
	case transfer.AmbienceApplied:
		if ev.Err != nil {
			return fmt.Sprintf("⚠️ Could not apply ambience %s: %v", ev.Name, ev.Err)
		}

		return "🎨 Ambience applied: " + ev.Name
	}

	return ""
}
