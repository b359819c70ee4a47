package validate

import (
	"fmt"
	"net/url"
	"strings"
)

// Text field length limits for annotation and session input.
const (
	MaxTagNameLength  = 50
	MaxNoteLength     = 5000
	MaxLocationLength = 200
	MaxURLLength      = 2048
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

// TagName rejects empty names and names that would break the semicolon-joined export.
func TagName(s string) string {
	if strings.TrimSpace(s) == "" {
		return "tag name is required"
	}
	if strings.Contains(s, ";") {
		return "tag name must not contain ';'"
	}
	return checkLen(s, MaxTagNameLength, "tag name")
}

func Note(s string) string     { return checkLen(s, MaxNoteLength, "note") }
func Location(s string) string { return checkLen(s, MaxLocationLength, "location") }

func DatasetURL(s string) string {
	if s == "" {
		return "baseUrl is required"
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return "baseUrl must be an http(s) URL"
	}
	return checkLen(s, MaxURLLength, "baseUrl")
}

// DatasetHost checks that rawURL points at one of the allowed hosts. An entry matches the
// hostname alone or host:port exactly. No entries allows every host.
func DatasetHost(rawURL, field string, allowed []string) string {
	if len(allowed) == 0 {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return field + " must be an absolute URL"
	}
	for _, host := range allowed {
		if strings.EqualFold(host, u.Host) || strings.EqualFold(host, u.Hostname()) {
			return ""
		}
	}
	return field + " host is not allowed"
}

// FieldLimits returns field names mapped to their max lengths.
func FieldLimits() map[string]int {
	return map[string]int{
		"tagName":  MaxTagNameLength,
		"note":     MaxNoteLength,
		"location": MaxLocationLength,
		"url":      MaxURLLength,
	}
}
