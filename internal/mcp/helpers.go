package mcp

import (
	"fmt"
	"strings"

	"hintnav-mcp-server/internal/action"
)

func getStringArg(args map[string]interface{}, key string) string {
	return argString(args[key])
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

// getStringSliceArg accepts a JSON array of strings or one newline separated string.
func getStringSliceArg(args map[string]interface{}, key string) ([]string, bool) {
	val, ok := args[key]
	if !ok || val == nil {
		return nil, false
	}
	switch v := val.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, argString(item))
		}
		return out, true
	case string:
		var out []string
		for _, line := range strings.Split(v, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func requireSessionID(args map[string]interface{}) (string, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	return sessionID, nil
}

// modifierOptions reads the modifier keys held while the action runs.
func modifierOptions(args map[string]interface{}) action.Options {
	return action.Options{
		ShiftKey: getBoolArg(args, "shift", false),
		AltKey:   getBoolArg(args, "alt", false),
		CtrlKey:  getBoolArg(args, "ctrl", false),
		MetaKey:  getBoolArg(args, "meta", false),
	}
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func sessionIDSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}
