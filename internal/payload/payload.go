// Package payload resolves values out of provider webhook and status bodies
// whose field names drift between API versions. Resolution order is explicit:
// the first key present with a usable value wins.
package payload

import (
	"net/http"
	"strings"
)

// FirstString returns the value of the first key in keys that exists in the
// map with a non-empty string value. Numeric and boolean values are ignored:
// the callers only resolve references and URLs, which are always strings.
func FirstString(body map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		value, ok := body[key]
		if !ok {
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(str); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}

// FirstNested resolves a dotted path such as "data.video_url" before falling
// back through the remaining paths. Each segment must be a map key except the
// last, which is resolved like FirstString.
func FirstNested(body map[string]any, paths ...string) (string, bool) {
	for _, path := range paths {
		segments := strings.Split(path, ".")
		current := body
		ok := true
		for _, segment := range segments[:len(segments)-1] {
			next, isMap := current[segment].(map[string]any)
			if !isMap {
				ok = false
				break
			}
			current = next
		}
		if !ok {
			continue
		}
		if value, found := FirstString(current, segments[len(segments)-1]); found {
			return value, true
		}
	}
	return "", false
}

// FirstHeader returns the value of the first header in names present on the
// request with a non-empty value.
func FirstHeader(header http.Header, names ...string) (string, bool) {
	for _, name := range names {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value, true
		}
	}
	return "", false
}
