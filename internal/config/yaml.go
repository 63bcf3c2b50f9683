package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON routes YAML files through a YAML decode and a JSON re-encode so one
// strict JSON decoder serves both formats. Files without a yaml extension
// pass through untouched.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	jb, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return jb, nil
}

// stringifyKeys rewrites every map key to a string; YAML permits non-string
// keys that json.Marshal would choke on.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}
