package audit

import "strings"

// RedactedValue replaces sensitive values in captured payloads.
const RedactedValue = "***REDACTED***"

// Sanitize recursively masks values whose field name matches the redact list,
// case-insensitively, at any nesting depth. Matching is by field name only; a
// sensitive value stored under an unlisted key is not detected. The result is
// a copy; the input is never mutated. Idempotent.
func Sanitize(payload interface{}, redactFields []string) interface{} {
	if len(redactFields) == 0 {
		return payload
	}
	fields := make(map[string]struct{}, len(redactFields))
	for _, f := range redactFields {
		fields[strings.ToLower(f)] = struct{}{}
	}
	return sanitizeValue(payload, fields)
}

func sanitizeValue(v interface{}, fields map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if _, hit := fields[strings.ToLower(k)]; hit {
				out[k] = RedactedValue
				continue
			}
			out[k] = sanitizeValue(inner, fields)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = sanitizeValue(e, fields)
		}
		return out
	default:
		return v
	}
}
