package config

import (
	"os"
	"strings"
)

// substituteEnv recursively walks a YAML-decoded value tree (as produced by
// unmarshalling into interface{}) and replaces any string of the exact form
// "${VAR}" or "${VAR:default}" with the named environment variable, falling
// back to default when VAR is unset. Strings that merely contain such a
// pattern are left untouched; only an exact whole-string match substitutes.
func substituteEnv(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = substituteEnv(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = substituteEnv(item)
		}
		return out
	case string:
		return substituteEnvString(val)
	default:
		return v
	}
}

func substituteEnvString(s string) interface{} {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	inner := s[2 : len(s)-1]
	if strings.Contains(inner, "}") {
		return s
	}
	name := inner
	var def string
	hasDefault := false
	if idx := strings.Index(inner, ":"); idx >= 0 {
		name = inner[:idx]
		def = inner[idx+1:]
		hasDefault = true
	}
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	if hasDefault {
		return def
	}
	return nil
}
