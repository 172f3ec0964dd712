// Package redaction strips credential material from raw upstream payloads
// before anything is persisted.
package redaction

var sensitiveKeys = map[string]bool{
	"userPassword": true,
	"juminNumber":  true,
	"refreshToken": true,
	"accessToken":  true,
}

// Scrub returns a deep copy of value with sensitive keys removed at every
// nesting level. The input is never mutated.
func Scrub(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		sanitized := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			if sensitiveKeys[key] {
				continue
			}
			sanitized[key] = Scrub(item)
		}
		return sanitized
	case []interface{}:
		sanitized := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			sanitized = append(sanitized, Scrub(item))
		}
		return sanitized
	default:
		return value
	}
}

// ScrubMap is Scrub for the common top-level map case.
func ScrubMap(value map[string]interface{}) map[string]interface{} {
	scrubbed, _ := Scrub(value).(map[string]interface{})
	return scrubbed
}
