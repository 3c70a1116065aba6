package textutil

import "strings"

// ParseKeyValueList parses "k1=v1,k2=v2" into a map with lower-cased keys. Entries without a key,
// a value or the '=' separator are dropped. The result is never nil.
func ParseKeyValueList(raw string) map[string]string {
	values := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
