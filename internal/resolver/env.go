package resolver

import (
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/agathahq/configd/pkg/models"
)

// applyEnvOverrides applies NAMESPACE__KEY__SECTION__FIELD environment
// variables to doc in place. Segments after the config key are lowercased
// and form a path into the document; values are parsed into typed form.
//
// AGATHA__MEMORY_THRESHOLDS__WEIGHTS__SEMANTIC=0.7 sets
// doc["weights"]["semantic"] = 0.7 for the memory_thresholds key.
func applyEnvOverrides(doc models.Document, namespace, key string) {
	prefix := strings.ToUpper(namespace) + "__" + strings.ToUpper(key) + "__"

	for _, entry := range os.Environ() {
		name, raw, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if rest == "" {
			continue
		}

		segments := strings.Split(rest, "__")
		path := make([]string, 0, len(segments))
		for _, s := range segments {
			if s == "" {
				path = nil
				break
			}
			path = append(path, strings.ToLower(s))
		}
		if len(path) == 0 {
			continue
		}

		doc.SetPath(path, parseEnvValue(raw))
	}
}

// parseEnvValue converts an environment variable string into a typed value.
// Recognizes booleans, null, integers, floats and JSON arrays/objects;
// anything else stays a string.
func parseEnvValue(raw string) any {
	trimmed := strings.TrimSpace(raw)

	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if n, err := strconv.Atoi(trimmed); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}

	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}

	return raw
}
