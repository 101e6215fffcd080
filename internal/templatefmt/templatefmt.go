package templatefmt

import (
	"encoding/json"
	"fmt"
	"text/template"
	"time"
)

// FuncMap returns shared notification template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtTime": FormatClock,
		"json":    MarshalJSON,
	}
}

// ParseNotificationTemplate parses one notification template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseNotificationTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// FormatClock renders a timestamp as a local wall-clock string.
// Params: template value expected as time.Time or *time.Time.
// Returns: HH:MM formatted string.
func FormatClock(value any) string {
	var at time.Time
	switch typed := value.(type) {
	case time.Time:
		at = typed
	case *time.Time:
		if typed == nil {
			return "--:--"
		}
		at = *typed
	default:
		return "--:--"
	}
	return fmt.Sprintf("%02d:%02d", at.Hour(), at.Minute())
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
