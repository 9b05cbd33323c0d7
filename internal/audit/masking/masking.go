package masking

import "strings"

const maskToken = "****"

// Metadata keys whose values are redacted before an audit row is written.
var sensitiveKeys = map[string]struct{}{
	"secret":         {},
	"token":          {},
	"auth_token":     {},
	"api_key":        {},
	"password":       {},
	"signature":      {},
	"authorization":  {},
	"webhook_secret": {},
}

// MaskSecret redacts a secret, keeping any namespace prefix (up to the
// last underscore) and the final four characters so operators can match
// a rotated credential in the audit trail.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, rest := "", trimmed
	if i := strings.LastIndexByte(trimmed, '_'); i >= 0 && i < len(trimmed)-1 {
		prefix, rest = trimmed[:i+1], trimmed[i+1:]
	}
	if len(rest) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + rest[len(rest)-4:]
}

// MaskSensitive returns a copy of the input with values under sensitive
// keys redacted. Nested maps and slices are walked; other values pass
// through unchanged.
func MaskSensitive(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		switch {
		case key == "":
		case isSensitiveKey(key):
			masked[key] = redactValue(value)
		default:
			masked[key] = walkValue(value)
		}
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// redactValue blanks the value entirely except for strings, which keep
// the MaskSecret suffix hint, and maps, which keep their key shape.
func redactValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case map[string]any:
		out := make(map[string]any, len(cast))
		for key := range cast {
			out[key] = maskToken
		}
		return out
	default:
		return maskToken
	}
}

func walkValue(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskSensitive(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, walkValue(item))
		}
		return out
	default:
		return value
	}
}
