package events

import (
	"fmt"
	"strings"
	"time"
)

// TemplateFormatter formats ScanEvent using a template string
type TemplateFormatter struct {
	template     string
	placeholders []placeholder
}

type placeholder struct {
	raw   string // e.g., "{final_url}"
	field string
	start int
	end   int
}

// validFields contains all known placeholder names
var validFields = map[string]bool{
	"timestamp":       true,
	"request_id":      true,
	"domain":          true,
	"outcome":         true,
	"code":            true,
	"reason":          true,
	"final_url":       true,
	"domain_count":    true,
	"dropped_domains": true,
	"redirect_hops":   true,
	"cache_status":    true,
	"precheck_class":  true,
	"duration":        true,
}

// NewTemplateFormatter parses and validates the template.
// Returns error if any placeholder is unknown or template is empty.
func NewTemplateFormatter(template string) (*TemplateFormatter, error) {
	if template == "" {
		return nil, fmt.Errorf("template cannot be empty")
	}

	placeholders, err := parsePlaceholders(template)
	if err != nil {
		return nil, err
	}

	return &TemplateFormatter{
		template:     template,
		placeholders: placeholders,
	}, nil
}

// parsePlaceholders extracts and validates all placeholders from the template
func parsePlaceholders(template string) ([]placeholder, error) {
	var placeholders []placeholder
	i := 0

	for i < len(template) {
		start := strings.Index(template[i:], "{")
		if start == -1 {
			break
		}
		start += i

		end := strings.Index(template[start:], "}")
		if end == -1 {
			return nil, fmt.Errorf("unclosed placeholder at position %d", start)
		}
		end += start

		fieldName := template[start+1 : end]
		if fieldName == "" {
			return nil, fmt.Errorf("empty placeholder at position %d", start)
		}

		if !validFields[fieldName] {
			return nil, fmt.Errorf("unknown placeholder {%s}", fieldName)
		}

		placeholders = append(placeholders, placeholder{
			raw:   template[start : end+1],
			field: fieldName,
			start: start,
			end:   end + 1,
		})

		i = end + 1
	}

	return placeholders, nil
}

// Template returns the original template string
func (f *TemplateFormatter) Template() string {
	return f.template
}

// Format renders the event using the template
func (f *TemplateFormatter) Format(event *ScanEvent) string {
	if len(f.placeholders) == 0 {
		return f.template
	}

	result := f.template
	// Process placeholders in reverse order to maintain correct positions
	for i := len(f.placeholders) - 1; i >= 0; i-- {
		p := f.placeholders[i]
		value := fieldValue(event, p.field)
		result = result[:p.start] + value + result[p.end:]
	}

	return result
}

func fieldValue(event *ScanEvent, field string) string {
	switch field {
	case "timestamp":
		return formatTime(event.CreatedAt)
	case "request_id":
		return formatString(event.RequestID)
	case "domain":
		return formatString(event.Domain)
	case "outcome":
		return formatString(event.Outcome)
	case "code":
		return formatString(event.Code)
	case "reason":
		return formatString(event.Reason)
	case "final_url":
		return formatString(event.FinalURL)
	case "domain_count":
		return formatInt(event.DomainCount)
	case "dropped_domains":
		return formatInt(event.DroppedDomains)
	case "redirect_hops":
		return formatInt(event.RedirectHops)
	case "cache_status":
		return formatString(event.CacheStatus)
	case "precheck_class":
		return formatString(event.PrecheckClass)
	case "duration":
		return formatFloat(event.Duration)
	default:
		return "-"
	}
}

// escapeString escapes special characters in a string for log output
func escapeString(s string) string {
	escaped := strings.ReplaceAll(s, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	escaped = strings.ReplaceAll(escaped, "\n", "\\n")
	escaped = strings.ReplaceAll(escaped, "\t", "\\t")
	escaped = strings.ReplaceAll(escaped, "\r", "\\r")
	return escaped
}

// formatString formats a string value with quotes and escaping
func formatString(s string) string {
	if s == "" {
		return "-"
	}
	return "\"" + escapeString(s) + "\""
}

func formatInt(i int) string {
	return fmt.Sprintf("%d", i)
}

// formatFloat formats a float64 with 3 decimal places
func formatFloat(f float64) string {
	return fmt.Sprintf("%.3f", f)
}

// formatTime formats a time in ISO 8601 format
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
