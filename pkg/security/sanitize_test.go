package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeEmail(t *testing.T) {
	assert.Equal(t, "rider@example.com", SanitizeEmail("  Rider@Example.COM "))
	assert.Equal(t, "d.river+tag@example.com", SanitizeEmail("d.river+tag@example.com"))
	assert.Equal(t, "bob@example.com", SanitizeEmail("bob;<>@example.com"))
}

func TestSanitizePhone(t *testing.T) {
	assert.Equal(t, "+15550100", SanitizePhone("+1 (555) 0100"))
	assert.Equal(t, "905551234567", SanitizePhone("90 555 123-45-67"))
}

func TestSanitizeInputStripsInjectionVectors(t *testing.T) {
	assert.Equal(t, "hello", SanitizeInput("<script>alert(1)</script>hello", 0))
	assert.NotContains(t, SanitizeInput("x UNION SELECT * FROM users", 0), "UNION SELECT")
	assert.Equal(t, "a b", SanitizeInput("  a \t\n b ", 0))
}

func TestSanitizeInputTruncates(t *testing.T) {
	assert.Equal(t, "abcde", SanitizeInput("abcdefgh", 5))
}
