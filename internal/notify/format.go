package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Emoji returns the marker prefixed to lines of the given level.
func Emoji(level zerolog.Level) string {
	switch {
	case level >= zerolog.FatalLevel:
		return "🆘"
	case level == zerolog.ErrorLevel:
		return "💢"
	case level == zerolog.WarnLevel:
		return "⚠️"
	case level == zerolog.InfoLevel:
		return "ℹ️"
	default:
		return "🔌"
	}
}

// Format decorates text for the chat sink. Warnings and worse carry the mention.
func Format(level zerolog.Level, text, mention string) string {
	s := Emoji(level) + " " + text
	if level >= zerolog.WarnLevel && mention != "" {
		s += " " + mention
	}
	return s
}

// RelativeTimestamp renders t as a chat relative timestamp ("in 2 minutes").
func RelativeTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}
