package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"duet/internal/constants"
)

// MaskUserID masks a user identifier, keeping the last 4 characters.
// Example: "user123456" -> "******3456"
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultUserIDMaskLength)
}

// MaskSessionID keeps the last 6 characters so log lines stay correlatable.
func MaskSessionID(sessionID string) string {
	return maskString(sessionID, constants.DefaultSessionIDMaskLength)
}

// MaskUsername keeps the first character only.
func MaskUsername(username string) string {
	if username == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(username)
	return string(r) + strings.Repeat("*", utf8.RuneCountInString(username[size:]))
}

// MaskContent hides chat text and signal payloads, reporting only their length.
func MaskContent(content string) string {
	if content == "" {
		return ""
	}
	return fmt.Sprintf("[hidden %d bytes]", len(content))
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "user_id", "userId", "from_user_id", "to_user_id", "actor", "target_user_id":
			masked[k] = MaskUserID(s)
		case "session_id", "sessionId":
			masked[k] = MaskSessionID(s)
		case "username", "target_username":
			masked[k] = MaskUsername(s)
		case "content", "payload", "signal_data", "signalData":
			masked[k] = MaskContent(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
