package audit

import (
	"encoding/json"
	"strings"
)

// MaxBodyBytes is the largest request body captured into an entry.
const MaxBodyBytes = 64 << 10

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"password":        {},
	"currentpassword": {},
	"newpassword":     {},
	"token":           {},
}

// Redact returns body as JSON with sensitive keys masked at any depth.
// Bodies that are not JSON are summarized rather than stored verbatim.
func Redact(body []byte, truncated bool) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	var decoded interface{}
	if truncated || json.Unmarshal(body, &decoded) != nil {
		summary, _ := json.Marshal(map[string]interface{}{
			"unparsed":  true,
			"bytes":     len(body),
			"truncated": truncated,
		})
		return summary
	}
	out, err := json.Marshal(mask(decoded))
	if err != nil {
		return nil
	}
	return out
}

func mask(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, inner := range v {
			if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
				v[key] = redacted
				continue
			}
			v[key] = mask(inner)
		}
		return v
	case []interface{}:
		for i, inner := range v {
			v[i] = mask(inner)
		}
		return v
	default:
		return v
	}
}
