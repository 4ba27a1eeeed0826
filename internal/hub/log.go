package hub

import (
	"context"
	"log/slog"

	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
)

// LogItem logs a room event at INFO (room, source, size) and DEBUG (text
// preview).
func LogItem(msg, token, source string, it message.Item) {
	slog.Info(msg,
		"token", logging.RedactToken(token),
		"source", source,
		"id", it.ID,
		"bytes", len(it.Content),
	)
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("clipboard item", "id", it.ID, "preview", logging.Preview(it.Content))
}
