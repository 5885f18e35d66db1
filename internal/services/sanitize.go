package services

import (
	"regexp"
	"strings"
)

const configErrorMessage = "Service configuration error. Please contact support."

var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]+`),
	regexp.MustCompile(`pdl_[A-Za-z0-9_\-]+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|key|token|secret)=[^\s&"']+`),
}

// SanitizeErrorMessage makes an internal error safe to store and show to the analysis owner.
func SanitizeErrorMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "Processing failed"
	}
	if strings.Contains(strings.ToLower(msg), "api key") {
		return configErrorMessage
	}
	for _, re := range credentialPatterns {
		msg = re.ReplaceAllString(msg, "***")
	}
	if r := []rune(msg); len(r) > 500 {
		msg = string(r[:500])
	}
	return msg
}
