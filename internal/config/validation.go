package config

import (
	"fmt"
	"strings"
)

// FieldError describes one setting that failed validation.
type FieldError struct {
	Field string
	Rule  string
	Param string
	Value string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	for _, f := range e.Fields {
		rule := f.Rule
		if f.Param != "" {
			rule += "=" + f.Param
		}
		sb.WriteString(fmt.Sprintf("  - %s: %q violates %s\n", settingName(f.Field), f.Value, rule))
	}

	return sb.String()
}

// settingName turns a struct namespace like Config.Upstream.ReconnectDelay
// into the config key upstream.reconnect_delay.
func settingName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
