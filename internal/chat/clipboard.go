package chat

import (
	"github.com/atotto/clipboard"

	"github.com/adamavenir/inbox/internal/types"
)

var clipboardWriteAll = clipboard.WriteAll

func copyToClipboard(text string) error {
	return clipboardWriteAll(text)
}

// copyText is what the console copies for a message.
func copyText(msg types.Message) string {
	text := msg.Body.Text
	if msg.Body.Media != nil {
		if text != "" {
			text += "\n"
		}
		text += msg.Body.Media.URL
	}
	return text
}
