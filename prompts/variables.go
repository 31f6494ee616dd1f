package prompts

import (
	"strings"
	"time"
)

// Built-in variable names available to every template.
const (
	VarCurrentDate     = "current_date"
	VarCurrentTime     = "current_time"
	VarCurrentDatetime = "current_datetime"
)

// builtinVariables returns the time-derived variables, computed fresh so a
// long-lived process never serves a stale date.
func builtinVariables(now time.Time) map[string]string {
	return map[string]string{
		VarCurrentDate:     now.Format("2006-01-02"),
		VarCurrentTime:     now.Format("15:04:05"),
		VarCurrentDatetime: now.Format("2006-01-02 15:04:05"),
	}
}

// Render replaces every ${name} token in template with the matching value.
// Built-in variables are applied first and caller-supplied variables are
// overlaid on top, so callers can override a built-in by supplying the same
// key. Tokens with no matching variable are left verbatim.
func Render(template string, variables map[string]string) string {
	merged := builtinVariables(time.Now())
	for k, v := range variables {
		merged[k] = v
	}

	result := template
	for name, value := range merged {
		result = strings.ReplaceAll(result, "${"+name+"}", value)
	}
	return result
}
