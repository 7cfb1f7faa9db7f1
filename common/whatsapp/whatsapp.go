// Package whatsapp holds the WhatsApp bridge wire format shared by the
// polling scraper and the push webhook.
package whatsapp

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"digitaltwin/common/models"
)

// Message is one group message as the bridge reports it.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// MessageURL is the stable provenance URL recorded for a group message.
func MessageURL(chatID, messageID string) string {
	return fmt.Sprintf("whatsapp://group/%s/%s", url.PathEscape(chatID), url.PathEscape(messageID))
}

// Capture converts a message into a capture, or returns false for messages
// without text.
func Capture(source models.IngestionSource, msg Message) (models.RawCapture, bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return models.RawCapture{}, false
	}
	capturedAt := time.Unix(msg.Timestamp, 0).UTC()
	if msg.Timestamp == 0 {
		capturedAt = time.Now().UTC()
	}
	return models.RawCapture{
		SourceID:   source.ID,
		SourceURL:  MessageURL(source.SourceIdentifier, msg.ID),
		SourceName: source.SourceName,
		RawText:    text,
		CapturedAt: capturedAt,
	}, true
}
