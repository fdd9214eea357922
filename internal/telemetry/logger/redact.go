// Package logger provides structured logging for ClipMesh.
package logger

import (
	"log/slog"
	"strings"
)

// Sensitive key patterns that should be redacted. Passphrases never reach
// most code paths, but the legacy rejoin path and the join challenge blob
// do pass through handlers that log their requests.
var sensitiveKeyPatterns = []string{
	"passphrase",
	"password",
	"challenge",
	"secret",
	"token",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive checks if an attribute carries sensitive data and
// replaces its value if so.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		keyLower := strings.ToLower(a.Key)
		for _, pattern := range sensitiveKeyPatterns {
			if strings.Contains(keyLower, pattern) {
				if a.Value.String() != "" {
					return slog.String(a.Key, redactedValue)
				}
				break
			}
		}
	}

	// Handle nested groups recursively.
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}
