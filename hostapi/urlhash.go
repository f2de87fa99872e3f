package hostapi

import (
	"net/url"
	"strings"
)

// ParseURLHash parses "a=1&b=2" into a dictionary. A leading "#" is
// ignored, entries without "=" are skipped, keys and values are
// percent-decoded and later duplicates win.
func ParseURLHash(hash string) map[string]string {
	dict := make(map[string]string)
	hash = strings.TrimPrefix(hash, "#")
	for _, entry := range strings.Split(hash, "&") {
		rawKey, rawValue, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key, err := url.PathUnescape(rawKey)
		if err != nil {
			key = rawKey
		}
		value, err := url.PathUnescape(rawValue)
		if err != nil {
			value = rawValue
		}
		dict[key] = value
	}
	return dict
}

// PluginData extracts the entries addressed to plugin: keys of the form
// "p.<plugin>.<key>" with a non-empty key, returned without the prefix.
func PluginData(dict map[string]string, plugin string) map[string]string {
	prefix := "p." + plugin + "."
	out := make(map[string]string)
	for key, value := range dict {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if name := key[len(prefix):]; name != "" {
			out[name] = value
		}
	}
	return out
}
