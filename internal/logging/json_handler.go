package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// redactedKeys never reach a log sink in clear text. Key values and
// storefront cookies are credentials.
var redactedKeys = map[string]bool{
	FieldKeyValue:    true,
	"session_cookie": true,
	"password":       true,
}

// Redact masks everything but the last five characters of a sensitive value.
func Redact(value string) string {
	if len(value) <= 5 {
		return "*****"
	}
	return strings.Repeat("*", len(value)-5) + value[len(value)-5:]
}

func redactAttr(attr slog.Attr) slog.Attr {
	if redactedKeys[attr.Key] {
		attr.Value = slog.StringValue(Redact(attr.Value.String()))
	}
	return attr
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339Nano))
				}
				return attr
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
				return attr
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
				return attr
			}
			return redactAttr(attr)
		},
	}
	return slog.NewJSONHandler(w, &opts)
}
