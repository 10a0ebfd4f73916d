package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

// Injection patterns stripped from free-text input. Queries are always
// parameterized; this is a second layer for text that ends up in logs,
// notifications and emails.
var (
	sqlInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(union\s+select|insert\s+into|delete\s+from|drop\s+table|update\s+.*set)`),
		regexp.MustCompile(`(?i)(exec\s*\(|execute\s*\(|script\s*>|javascript:)`),
	}

	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)<iframe[^>]*>.*?</iframe>`),
		regexp.MustCompile(`(?i)on\w+\s*=`), // onclick, onload, etc.
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)<embed[^>]*>`),
		regexp.MustCompile(`(?i)<object[^>]*>`),
	}

	htmlTagsRegex      = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex    = regexp.MustCompile(`\s+`)
	invalidEmailChars  = regexp.MustCompile(`[^a-z0-9._%+\-@]`)
	nonPhoneCharacters = regexp.MustCompile(`[^\d+]`)
)

// SanitizeString trims the input and strips null bytes and control
// characters, keeping newlines and tabs.
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return removeControlCharacters(input)
}

// SanitizeForSQL strips SQL injection patterns from free text.
func SanitizeForSQL(input string) string {
	input = SanitizeString(input)
	for _, pattern := range sqlInjectionPatterns {
		input = pattern.ReplaceAllString(input, "")
	}
	return input
}

// SanitizeForXSS strips script vectors and HTML-encodes the rest.
func SanitizeForXSS(input string) string {
	input = SanitizeString(input)
	for _, pattern := range xssPatterns {
		input = pattern.ReplaceAllString(input, "")
	}
	return html.EscapeString(input)
}

// SanitizeEmail lowercases and strips characters that cannot appear in an
// email address. Lookups and storage both go through this so one account
// cannot exist under two spellings.
func SanitizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	return invalidEmailChars.ReplaceAllString(email, "")
}

// SanitizePhone keeps digits and a leading plus, dropping spaces, dashes and
// parentheses.
func SanitizePhone(phone string) string {
	return nonPhoneCharacters.ReplaceAllString(phone, "")
}

// StripHTMLTags removes all HTML tags from input.
func StripHTMLTags(input string) string {
	return htmlTagsRegex.ReplaceAllString(input, "")
}

func removeControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// TruncateString truncates a string to a maximum length.
func TruncateString(input string, maxLength int) string {
	if len(input) <= maxLength {
		return input
	}
	return input[:maxLength]
}

// NormalizeWhitespace collapses whitespace runs into single spaces.
func NormalizeWhitespace(input string) string {
	input = whitespaceRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// SanitizeInput is the general-purpose pipeline applied to user-supplied
// strings by the request sanitizer middleware. A maxLength of 0 means
// unbounded.
func SanitizeInput(input string, maxLength int) string {
	input = SanitizeString(input)
	input = SanitizeForXSS(input)
	input = SanitizeForSQL(input)
	input = NormalizeWhitespace(input)
	if maxLength > 0 {
		input = TruncateString(input, maxLength)
	}
	return input
}
