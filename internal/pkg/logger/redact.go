package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactAddress masks a recipient address (phone number or messaging
// handle) for safe logging, keeping only a country-code-sized prefix and
// the last two digits visible: "+15551234567" → "+15***67".
func RedactAddress(addr string) string {
	if len(addr) <= 6 {
		return "***"
	}
	prefixLen := 2
	if strings.HasPrefix(addr, "+") {
		prefixLen = 3
	}
	return addr[:prefixLen] + "***" + addr[len(addr)-2:]
}
